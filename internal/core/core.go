// Package core owns the per-tick rollback and desync-detection loop. It
// drives the networking session, rewinds the simulation engine when a frame
// regression is detected, fingerprints confirmed state, and cross-checks
// those fingerprints against the remote peer's.
package core

import (
	"context"
	"errors"
	"fmt"

	"rollsync/internal/desync"
	"rollsync/internal/frame"
	"rollsync/internal/gate"
	"rollsync/internal/session"
	"rollsync/internal/snapshot"
	"rollsync/internal/telemetry"
	"rollsync/logging"
	lognet "rollsync/logging/network"
	logsim "rollsync/logging/simulation"
)

// Engine is the deterministic fixed-step simulation the core snapshots and
// rewinds. Exactly one tick's worth of simulated time advances per Step.
type Engine interface {
	snapshot.Engine
	SetActive(active bool)
	ApplyInput(handle int, buttons uint16)
	Step()
}

// Config carries the tuning constants for one core instance. Set once at
// startup; the core never mutates it.
type Config struct {
	// MaxPrediction caps how far simulation runs past confirmed input. It
	// also sets the validatable-frame boundary.
	MaxPrediction int

	// RingSize is the slot count of both frame-hash rings. It must be large
	// enough that confirmed-but-unvalidated entries are never recycled by
	// in-flight predicted frames; three times MaxPrediction is the floor.
	// Zero picks that floor.
	RingSize int

	// SnapshotDepth is the snapshot ring capacity. Zero matches RingSize.
	SnapshotDepth int

	// BootFrame marks the engine's boot state. Rollbacks to frames at or
	// below it skip the restore: the live state is already correct there,
	// and restoring it on a laggy start can masquerade as an instant desync.
	// Zero means frame 1.
	BootFrame frame.Frame

	// Gate disables physics stepping for frames strictly inside its window,
	// giving peers a deterministic warm-up in which nothing can diverge.
	Gate gate.Window
}

// Deps are the injected observability collaborators. Nil fields fall back to
// no-op implementations.
type Deps struct {
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	Publisher logging.Publisher
}

// Core threads the frame clock, the hash rings, the snapshot store and the
// enable gate through one strictly ordered tick function. All state is owned
// by the single simulation loop; nothing here locks.
type Core struct {
	cfg  Config
	deps Deps

	sess session.Session
	eng  Engine

	clock     *frame.Clock
	window    *frame.Validatable
	local     *desync.History
	remote    *desync.RemoteHistory
	validator *desync.Validator
	snaps     *snapshot.Store
	gate      gate.Window

	gateEnabled bool
	peerLost    bool
}

// New wires a core around a session and an engine.
func New(sess session.Session, eng Engine, cfg Config, deps Deps) (*Core, error) {
	if sess == nil {
		return nil, errors.New("core: nil session")
	}
	if eng == nil {
		return nil, errors.New("core: nil engine")
	}
	if cfg.MaxPrediction < 1 {
		return nil, fmt.Errorf("core: max prediction %d, want at least 1", cfg.MaxPrediction)
	}
	if cfg.RingSize == 0 {
		cfg.RingSize = 3 * cfg.MaxPrediction
	}
	if cfg.RingSize < 3*cfg.MaxPrediction {
		return nil, fmt.Errorf("core: ring size %d below 3x prediction window %d", cfg.RingSize, cfg.MaxPrediction)
	}
	if cfg.SnapshotDepth == 0 {
		cfg.SnapshotDepth = cfg.RingSize
	}
	if cfg.BootFrame == 0 {
		cfg.BootFrame = 1
	}
	if deps.Logger == nil {
		deps.Logger = telemetry.NopLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetry.NopMetrics()
	}
	if deps.Publisher == nil {
		deps.Publisher = logging.NopPublisher()
	}

	local := desync.NewHistory(cfg.RingSize)
	remote := desync.NewRemoteHistory(cfg.RingSize)
	validator, err := desync.NewValidator(local, remote)
	if err != nil {
		return nil, err
	}

	return &Core{
		cfg:         cfg,
		deps:        deps,
		sess:        sess,
		eng:         eng,
		clock:       frame.NewClock(),
		window:      frame.NewValidatable(),
		local:       local,
		remote:      remote,
		validator:   validator,
		snaps:       snapshot.NewStore(cfg.SnapshotDepth),
		gate:        cfg.Gate,
		gateEnabled: cfg.Gate.Enabled(0),
	}, nil
}

// RunTick executes one fixed-rate tick: commit and transmit local input,
// ingest network traffic, simulate whatever frames the session planned
// (replays first on a rollback), and select the next confirmed fingerprint
// to piggyback outward. A desync is returned as an error wrapping
// desync.ErrChecksumMismatch and leaves the core unusable.
func (c *Core) RunTick(ctx context.Context, localButtons uint16) error {
	if err := c.sess.AddLocalInput(localButtons); err != nil {
		return fmt.Errorf("core: commit input: %w", err)
	}
	requests, err := c.sess.AdvanceFrame()
	if err != nil {
		return fmt.Errorf("core: advance session: %w", err)
	}

	c.ingestEvents(ctx)
	if err := c.ingestChecksums(); err != nil {
		return err
	}

	if len(requests) == 0 {
		c.deps.Metrics.Add(telemetry.MetricStalledTicks, 1)
		next := c.sess.CurrentFrame() + 1
		lognet.Stall(ctx, c.deps.Publisher, int64(next), lognet.StallPayload{
			ConfirmedFrame: int64(c.sess.ConfirmedFrame()),
			PredictionGap:  int64(next - c.sess.ConfirmedFrame()),
		})
		return nil
	}

	for _, req := range requests {
		if err := c.simulateFrame(ctx, req); err != nil {
			return err
		}
	}

	// At most one confirmed, unsent, validation-safe fingerprint rides each
	// outbound input message.
	if f, sum, ok := c.local.NextUnsent(c.window); ok {
		c.sess.AttachChecksum(f, sum)
		c.deps.Metrics.Add(telemetry.MetricChecksumsSent, 1)
	}
	return nil
}

// simulateFrame runs the fixed intra-tick order for one frame. Reordering
// any step relative to its dependents is the classic source of spurious
// desyncs, so everything lives in this one function.
func (c *Core) simulateFrame(ctx context.Context, req session.Request) error {
	// Clock first: every later step observes one frame identity.
	c.clock.SyncSession(c.sess.CurrentFrame())
	c.clock.SyncConfirmed(c.sess.ConfirmedFrame())
	status := c.clock.Tick(req.Frame)

	c.window.Recompute(c.clock.Current(), c.clock.Session(), c.clock.Confirmed(), c.cfg.MaxPrediction)

	enabled := c.gate.Enabled(req.Frame)
	c.eng.SetActive(enabled)
	if enabled != c.gateEnabled {
		c.gateEnabled = enabled
		c.deps.Metrics.Add(telemetry.MetricGateToggles, 1)
		logsim.GateToggle(ctx, c.deps.Publisher, int64(req.Frame), logsim.GateTogglePayload{
			Enabled:     enabled,
			WindowStart: int64(c.gate.Start),
			WindowEnd:   int64(c.gate.End),
		})
	}

	if status.IsRollback {
		c.deps.Metrics.Add(telemetry.MetricRollbacks, 1)
		c.restoreForRollback(ctx, status)
	}
	if status.IsReplay {
		c.deps.Metrics.Add(telemetry.MetricReplayedFrames, 1)
	}

	// Input application and the step itself are both gated: applying forces
	// without a matching simulation step would accumulate state changes the
	// other peer never sees.
	if enabled {
		for handle := 0; handle < c.sess.NumPlayers(); handle++ {
			in := req.Inputs[session.PlayerHandle(handle)]
			c.eng.ApplyInput(handle, in.Buttons)
		}
		c.eng.Step()
	}

	sum, err := c.snaps.Save(req.Frame, c.eng)
	if err != nil {
		// A missed snapshot degrades to restoring an older one next time;
		// real divergence still surfaces through validation.
		c.deps.Metrics.Add(telemetry.MetricSkippedSaves, 1)
		c.deps.Logger.Printf("snapshot save skipped at frame %d: %v", req.Frame, err)
		logsim.SnapshotSkipped(ctx, c.deps.Publisher, int64(req.Frame), logsim.SnapshotSkippedPayload{
			Operation: "save",
			Reason:    err.Error(),
		})
	} else {
		c.local.Record(req.Frame, sum, c.clock.Confirmed())
	}
	c.local.ConfirmThrough(c.clock.Confirmed())

	validated, err := c.validator.Validate(c.window)
	for _, f := range validated {
		c.deps.Metrics.Add(telemetry.MetricValidatedFrames, 1)
		logsim.FrameValidated(ctx, c.deps.Publisher, int64(f), c.local.At(f).Checksum)
	}
	if err != nil {
		var mismatch *desync.MismatchError
		if errors.As(err, &mismatch) {
			logsim.ChecksumMismatch(ctx, c.deps.Publisher, int64(mismatch.Frame),
				logging.PeerRef{Handle: int(c.remotePeer()), Role: logging.PeerRoleRemote},
				logsim.MismatchPayload{LocalChecksum: mismatch.Local, RemoteChecksum: mismatch.Remote})
		}
		return fmt.Errorf("core: frame %d: %w", req.Frame, err)
	}

	c.deps.Metrics.Add(telemetry.MetricFramesSimulated, 1)
	return nil
}

// restoreForRollback rewinds the engine to the last completed frame before
// the rollback point. Rollbacks into the boot window skip the restore.
func (c *Core) restoreForRollback(ctx context.Context, status frame.Status) {
	if status.RollbackFrame <= c.cfg.BootFrame {
		c.deps.Metrics.Add(telemetry.MetricSkippedRestores, 1)
		return
	}
	target := status.RollbackFrame - 1
	if err := c.snaps.Restore(target, c.eng); err != nil {
		c.deps.Metrics.Add(telemetry.MetricSkippedRestores, 1)
		c.deps.Logger.Printf("snapshot restore skipped at frame %d: %v", target, err)
		logsim.SnapshotSkipped(ctx, c.deps.Publisher, int64(target), logsim.SnapshotSkippedPayload{
			Operation: "restore",
			Reason:    err.Error(),
		})
		return
	}
	c.deps.Metrics.Add(telemetry.MetricRestoredFrames, 1)
	logsim.Rollback(ctx, c.deps.Publisher, int64(status.RollbackFrame), logsim.RollbackPayload{
		RollbackFrame: int64(status.RollbackFrame),
		RestoredFrame: int64(target),
		Replayed:      int64(c.sess.CurrentFrame()-status.RollbackFrame) + 1,
	})
}

// ingestChecksums records fingerprints the peer piggybacked on its input
// messages. After a disconnect the peer's hashes are no longer trusted.
func (c *Core) ingestChecksums() error {
	for _, rx := range c.sess.DrainRemoteChecksums() {
		if c.peerLost {
			continue
		}
		c.deps.Metrics.Add(telemetry.MetricChecksumsRx, 1)
		if err := c.remote.Record(rx.Frame, rx.Checksum); err != nil {
			c.deps.Metrics.Add(telemetry.MetricAnomalousResends, 1)
			return fmt.Errorf("core: remote checksum for frame %d: %w", rx.Frame, err)
		}
	}
	return nil
}

func (c *Core) ingestEvents(ctx context.Context) {
	for _, ev := range c.sess.DrainEvents() {
		ref := logging.PeerRef{Handle: int(ev.Peer), Role: logging.PeerRoleRemote}
		switch ev.Kind {
		case session.EventPeerConnected:
			lognet.PeerConnected(ctx, c.deps.Publisher, int64(c.clock.Current()), ref)
		case session.EventPeerDisconnected:
			c.peerLost = true
			c.deps.Metrics.Add(telemetry.MetricPeerDisconnects, 1)
			lognet.PeerDisconnected(ctx, c.deps.Publisher, int64(c.clock.Current()), ref)
		}
	}
}

func (c *Core) remotePeer() session.PlayerHandle {
	return 1 - c.sess.LocalHandle()
}

// CurrentFrame is the last frame handed to the engine.
func (c *Core) CurrentFrame() frame.Frame { return c.clock.Current() }

// ConfirmedFrame mirrors the session's confirmed-frame counter as of the
// last tick.
func (c *Core) ConfirmedFrame() frame.Frame { return c.clock.Confirmed() }

// Boundary is the current validatable-frame boundary.
func (c *Core) Boundary() frame.Frame { return c.window.Boundary() }

// LatestChecksum is the fingerprint of the most recently saved snapshot.
func (c *Core) LatestChecksum() uint16 { return c.snaps.Checksum() }

// RearmGate re-anchors the enable window at the given frame, pausing physics
// for warmupTicks. Used by soak runs to exercise pause and resume.
func (c *Core) RearmGate(at frame.Frame, warmupTicks int) {
	c.gate.Rearm(at, warmupTicks)
}
