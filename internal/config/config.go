// Package config carries the process-wide constants of a rollback session.
// Everything here is set once at startup and never mutated afterwards; the
// determinism of the whole system depends on both peers agreeing on these
// values.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"rollsync/internal/telemetry"
)

type Mode string

const (
	// ModeLoopback runs both peers in-process over a deterministic link.
	ModeLoopback Mode = "loopback"
	// ModeListen serves one peer over a websocket and waits for the other.
	ModeListen Mode = "listen"
	// ModeDial connects to a listening peer over a websocket.
	ModeDial Mode = "dial"
)

type Config struct {
	// NumPlayers is fixed at two for the shipped session; the hash rings
	// generalize per peer.
	NumPlayers int `json:"numPlayers"`

	// TickRate is the fixed simulation rate in ticks per second.
	TickRate int `json:"tickRate"`

	// MaxPrediction caps how many frames simulation may run past confirmed
	// input before stalling.
	MaxPrediction int `json:"maxPrediction"`

	// InputDelay shifts local input forward so it usually arrives in time.
	InputDelay int `json:"inputDelay"`

	// DesyncMaxFrames sizes the frame-hash rings. Must be at least three
	// times MaxPrediction so confirmed-but-unvalidated entries survive
	// in-flight predicted frames.
	DesyncMaxFrames int `json:"desyncMaxFrames"`

	// WarmupTicks is the length of the physics-disabled grace window after
	// start, keeping connection jitter out of the validated history.
	WarmupTicks int `json:"warmupTicks"`

	// DisconnectTimeoutTicks declares a silent peer disconnected. Zero
	// disables the watchdog.
	DisconnectTimeoutTicks int `json:"disconnectTimeoutTicks"`

	// LatencyTicks is the simulated one-way latency in loopback mode.
	LatencyTicks int `json:"latencyTicks"`

	// RunTicks bounds the run; zero means run until interrupted.
	RunTicks int `json:"runTicks"`

	// StatsIntervalTicks is how often the periodic network.stats event is
	// published. Zero disables it.
	StatsIntervalTicks int `json:"statsIntervalTicks"`

	// SoakRearmIntervalTicks, when nonzero, rearms the physics gate every
	// interval to exercise pause/resume under load.
	SoakRearmIntervalTicks int `json:"soakRearmIntervalTicks"`

	// SoakPauseTicks is the pause length of each soak rearm.
	SoakPauseTicks int `json:"soakPauseTicks"`

	// Seed drives the deterministic input injector.
	Seed int64 `json:"seed"`

	// Mode selects the transport wiring.
	Mode Mode `json:"mode"`

	// ListenAddr is the websocket listen address for ModeListen.
	ListenAddr string `json:"listenAddr"`

	// DialURL is the websocket peer URL for ModeDial.
	DialURL string `json:"dialUrl"`
}

func Default() Config {
	return Config{
		NumPlayers:             2,
		TickRate:               60,
		MaxPrediction:          8,
		InputDelay:             2,
		DesyncMaxFrames:        30,
		WarmupTicks:            60,
		DisconnectTimeoutTicks: 300,
		LatencyTicks:           2,
		RunTicks:               0,
		StatsIntervalTicks:     300,
		Seed:                   1,
		Mode:                   ModeLoopback,
		ListenAddr:             ":8080",
		DialURL:                "ws://127.0.0.1:8080/session",
	}
}

func (c Config) Validate() error {
	if c.NumPlayers != 2 {
		return fmt.Errorf("config: %d players unsupported, want 2", c.NumPlayers)
	}
	if c.TickRate < 1 {
		return fmt.Errorf("config: tick rate %d, want at least 1", c.TickRate)
	}
	if c.MaxPrediction < 1 {
		return fmt.Errorf("config: max prediction %d, want at least 1", c.MaxPrediction)
	}
	if c.InputDelay < 0 {
		return fmt.Errorf("config: negative input delay %d", c.InputDelay)
	}
	if c.DesyncMaxFrames < 3*c.MaxPrediction {
		return fmt.Errorf("config: desync ring %d below 3x prediction window %d", c.DesyncMaxFrames, c.MaxPrediction)
	}
	if c.WarmupTicks < 0 {
		return fmt.Errorf("config: negative warmup %d", c.WarmupTicks)
	}
	switch c.Mode {
	case ModeLoopback, ModeListen, ModeDial:
	default:
		return fmt.Errorf("config: unknown mode %q", c.Mode)
	}
	return nil
}

// Load reads a JSON config file over the defaults. Fields absent from the
// file keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// FromEnv applies environment overrides on top of cfg. Invalid values are
// logged and ignored rather than fatal, matching how the binaries recover
// from a bad deployment environment.
func FromEnv(cfg Config, logger telemetry.Logger) Config {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	intVar := func(name string, target *int) {
		raw := os.Getenv(name)
		if raw == "" {
			return
		}
		if value, err := strconv.Atoi(raw); err == nil {
			*target = value
		} else {
			logger.Printf("invalid %s=%q: %v", name, raw, err)
		}
	}
	intVar("ROLLSYNC_TICK_RATE", &cfg.TickRate)
	intVar("ROLLSYNC_MAX_PREDICTION", &cfg.MaxPrediction)
	intVar("ROLLSYNC_INPUT_DELAY", &cfg.InputDelay)
	intVar("ROLLSYNC_DESYNC_MAX_FRAMES", &cfg.DesyncMaxFrames)
	intVar("ROLLSYNC_WARMUP_TICKS", &cfg.WarmupTicks)
	intVar("ROLLSYNC_LATENCY_TICKS", &cfg.LatencyTicks)
	intVar("ROLLSYNC_RUN_TICKS", &cfg.RunTicks)
	intVar("ROLLSYNC_STATS_INTERVAL", &cfg.StatsIntervalTicks)
	intVar("ROLLSYNC_SOAK_REARM_INTERVAL", &cfg.SoakRearmIntervalTicks)
	intVar("ROLLSYNC_SOAK_PAUSE_TICKS", &cfg.SoakPauseTicks)
	intVar("ROLLSYNC_DISCONNECT_TIMEOUT", &cfg.DisconnectTimeoutTicks)

	if raw := os.Getenv("ROLLSYNC_SEED"); raw != "" {
		if value, err := strconv.ParseInt(raw, 10, 64); err == nil {
			cfg.Seed = value
		} else {
			logger.Printf("invalid ROLLSYNC_SEED=%q: %v", raw, err)
		}
	}
	if raw := os.Getenv("ROLLSYNC_MODE"); raw != "" {
		cfg.Mode = Mode(raw)
	}
	if raw := os.Getenv("ROLLSYNC_LISTEN_ADDR"); raw != "" {
		cfg.ListenAddr = raw
	}
	if raw := os.Getenv("ROLLSYNC_DIAL_URL"); raw != "" {
		cfg.DialURL = raw
	}
	return cfg
}
