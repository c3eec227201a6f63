// Package app wires the rollback core, the session transport and the logging
// router into a runnable process. The loopback mode drives both peers
// in-process over a deterministic link; listen and dial run one peer each
// over a websocket.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"

	"rollsync/internal/config"
	"rollsync/internal/core"
	"rollsync/internal/desync"
	"rollsync/internal/frame"
	"rollsync/internal/gate"
	"rollsync/internal/net/peerlink"
	"rollsync/internal/session"
	"rollsync/internal/telemetry"
	"rollsync/internal/world"
	"rollsync/logging"
	lognet "rollsync/logging/network"
	loggingsinks "rollsync/logging/sinks"
)

type Options struct {
	Config config.Config
	Logger telemetry.Logger

	// ExtraSinks are appended to the default console sink.
	ExtraSinks []logging.NamedSink
}

// Run executes a session until the context is cancelled, the configured
// number of ticks has elapsed, or a desync is detected. A desync is returned
// as an error wrapping desync.ErrChecksumMismatch.
func Run(ctx context.Context, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}

	cfg := config.FromEnv(opts.Config, logger)
	if err := cfg.Validate(); err != nil {
		return err
	}

	sinks := append([]logging.NamedSink{
		{Name: "console", Sink: loggingsinks.NewConsoleSink(os.Stdout, logging.ConsoleConfig{})},
	}, opts.ExtraSinks...)
	router, err := logging.NewRouter(nil, logging.DefaultConfig(), sinks)
	if err != nil {
		return fmt.Errorf("app: construct logging router: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if cerr := router.Close(closeCtx); cerr != nil {
			logger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	switch cfg.Mode {
	case config.ModeLoopback:
		return runLoopback(ctx, cfg, logger, router)
	case config.ModeListen:
		link, shutdown, err := listenForPeer(ctx, cfg.ListenAddr, logger)
		if err != nil {
			return err
		}
		defer shutdown()
		return runSinglePeer(ctx, cfg, 0, link, logger, router)
	case config.ModeDial:
		link, err := peerlink.Dial(cfg.DialURL)
		if err != nil {
			return fmt.Errorf("app: dial peer: %w", err)
		}
		return runSinglePeer(ctx, cfg, 1, link, logger, router)
	default:
		return fmt.Errorf("app: unknown mode %q", cfg.Mode)
	}
}

// peer bundles one side's session, engine and core for the tick loop.
type peer struct {
	name     string
	sess     *session.P2P
	core     *core.Core
	counters *telemetry.Counters
	injector *inputInjector
}

func newPeer(cfg config.Config, handle session.PlayerHandle, link peerlink.Link, logger telemetry.Logger, router *logging.Router) (*peer, error) {
	sess, err := session.NewP2P(link, session.P2PConfig{
		LocalHandle:       handle,
		InputDelay:        cfg.InputDelay,
		MaxPrediction:     cfg.MaxPrediction,
		DisconnectTimeout: cfg.DisconnectTimeoutTicks,
	})
	if err != nil {
		return nil, err
	}
	counters := telemetry.NewCounters()
	name := fmt.Sprintf("peer%d", handle)
	publisher := logging.WithFields(router, map[string]any{"peer": name})
	c, err := core.New(sess, world.New(cfg.NumPlayers), core.Config{
		MaxPrediction: cfg.MaxPrediction,
		RingSize:      cfg.DesyncMaxFrames,
		Gate:          gate.WithDefaultOffset(0, cfg.WarmupTicks),
	}, core.Deps{
		Logger:    logger,
		Metrics:   counters,
		Publisher: publisher,
	})
	if err != nil {
		return nil, err
	}
	return &peer{
		name:     name,
		sess:     sess,
		core:     c,
		counters: counters,
		injector: newInputInjector(cfg.Seed, int(handle)),
	}, nil
}

func runLoopback(ctx context.Context, cfg config.Config, logger telemetry.Logger, router *logging.Router) error {
	la, lb := peerlink.NewLoopbackPair(cfg.LatencyTicks)
	peerA, err := newPeer(cfg, 0, la, logger, router)
	if err != nil {
		return fmt.Errorf("app: build peer 0: %w", err)
	}
	peerB, err := newPeer(cfg, 1, lb, logger, router)
	if err != nil {
		return fmt.Errorf("app: build peer 1: %w", err)
	}
	peers := []*peer{peerA, peerB}

	logger.Printf("loopback session: %d ticks/s, latency %d ticks, prediction window %d",
		cfg.TickRate, cfg.LatencyTicks, cfg.MaxPrediction)

	interval := time.Second / time.Duration(cfg.TickRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tick := 0
	nextSoakRearm := cfg.SoakRearmIntervalTicks
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		tick++

		for _, p := range peers {
			if err := p.tickOnce(ctx, tick); err != nil {
				return err
			}
		}
		la.Advance()
		lb.Advance()

		if cfg.SoakRearmIntervalTicks > 0 && tick >= nextSoakRearm {
			rearmSoakGate(cfg, peers, logger)
			nextSoakRearm = tick + cfg.SoakRearmIntervalTicks
		}
		if cfg.StatsIntervalTicks > 0 && tick%cfg.StatsIntervalTicks == 0 {
			for _, p := range peers {
				p.publishStats(ctx, router)
			}
		}
		if cfg.RunTicks > 0 && tick >= cfg.RunTicks {
			logger.Printf("run complete after %d ticks", tick)
			return nil
		}
	}
}

func runSinglePeer(ctx context.Context, cfg config.Config, handle session.PlayerHandle, link peerlink.Link, logger telemetry.Logger, router *logging.Router) error {
	p, err := newPeer(cfg, handle, link, logger, router)
	if err != nil {
		return fmt.Errorf("app: build peer %d: %w", handle, err)
	}
	defer p.sess.Close()

	logger.Printf("%s online: %d ticks/s, prediction window %d", p.name, cfg.TickRate, cfg.MaxPrediction)

	interval := time.Second / time.Duration(cfg.TickRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		tick++
		if err := p.tickOnce(ctx, tick); err != nil {
			return err
		}
		if cfg.StatsIntervalTicks > 0 && tick%cfg.StatsIntervalTicks == 0 {
			p.publishStats(ctx, router)
		}
		if cfg.RunTicks > 0 && tick >= cfg.RunTicks {
			logger.Printf("run complete after %d ticks", tick)
			return nil
		}
	}
}

func (p *peer) tickOnce(ctx context.Context, tick int) error {
	err := p.core.RunTick(ctx, p.injector.buttons(tick))
	if err == nil {
		return nil
	}
	if errors.Is(err, desync.ErrChecksumMismatch) {
		return fmt.Errorf("app: %s desynced: %w", p.name, err)
	}
	return fmt.Errorf("app: %s tick %d: %w", p.name, tick, err)
}

func (p *peer) publishStats(ctx context.Context, pub logging.Publisher) {
	sent, received := p.sess.Stats()
	lognet.Stats(ctx, pub, int64(p.core.CurrentFrame()), lognet.StatsPayload{
		MessagesSent:     sent,
		MessagesReceived: received,
		Rollbacks:        p.counters.Get(telemetry.MetricRollbacks),
		ReplayedFrames:   p.counters.Get(telemetry.MetricReplayedFrames),
		StalledTicks:     p.counters.Get(telemetry.MetricStalledTicks),
		ValidatedFrames:  p.counters.Get(telemetry.MetricValidatedFrames),
		ConfirmedFrame:   int64(p.core.ConfirmedFrame()),
	})
}

// rearmSoakGate schedules a pause window far enough ahead that neither peer
// has simulated (or could roll back to) any frame inside it, so both observe
// identical gate verdicts for every frame.
func rearmSoakGate(cfg config.Config, peers []*peer, logger telemetry.Logger) {
	anchor := frame.Frame(0)
	for _, p := range peers {
		if f := p.core.CurrentFrame(); f > anchor {
			anchor = f
		}
	}
	anchor += frame.Frame(cfg.MaxPrediction + cfg.InputDelay + 2)
	pause := cfg.SoakPauseTicks
	if pause <= 0 {
		pause = cfg.WarmupTicks
	}
	for _, p := range peers {
		p.core.RearmGate(anchor, pause)
	}
	logger.Printf("soak: gate rearmed at frame %d for %d ticks", anchor, pause)
}

// listenForPeer serves the websocket endpoint and blocks until one peer
// connects.
func listenForPeer(ctx context.Context, addr string, logger telemetry.Logger) (peerlink.Link, func(), error) {
	links := make(chan *peerlink.WSLink, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		link, err := peerlink.Upgrade(w, r)
		if err != nil {
			logger.Printf("upgrade failed: %v", err)
			return
		}
		select {
		case links <- link:
		default:
			link.Close()
		}
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("listen failed: %v", err)
		}
	}()
	shutdown := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(closeCtx)
	}

	logger.Printf("waiting for peer on %s", addr)
	select {
	case <-ctx.Done():
		shutdown()
		return nil, nil, ctx.Err()
	case link := <-links:
		return link, shutdown, nil
	}
}

// inputInjector produces a deterministic pseudo-random button stream, holding
// each value a few ticks so predictions are sometimes right and sometimes
// wrong.
type inputInjector struct {
	rng  *rand.Rand
	held uint16
}

func newInputInjector(seed int64, handle int) *inputInjector {
	return &inputInjector{rng: rand.New(rand.NewSource(seed + int64(handle)*7919))}
}

func (i *inputInjector) buttons(tick int) uint16 {
	if tick%4 == 1 {
		i.held = uint16(i.rng.Intn(16))
	}
	return i.held
}
