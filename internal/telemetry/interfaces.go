// Package telemetry defines the small logging and metrics surfaces injected
// into the rollback core, keeping the simulation loop decoupled from the
// event router that ultimately records its activity.
package telemetry

import "log"

// Logger exposes the logging capability required by core components.
type Logger interface {
	Printf(format string, args ...any)
}

// LoggerFunc adapts functions into the Logger interface.
type LoggerFunc func(format string, args ...any)

// Printf implements Logger for LoggerFunc.
func (f LoggerFunc) Printf(format string, args ...any) {
	if f == nil {
		return
	}
	f(format, args...)
}

// WrapLogger adapts a standard library logger to the Logger interface.
func WrapLogger(logger *log.Logger) Logger {
	return &loggerAdapter{logger: logger}
}

type loggerAdapter struct {
	logger *log.Logger
}

func (l *loggerAdapter) Printf(format string, args ...any) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Printf(format, args...)
}

// NopLogger discards everything.
func NopLogger() Logger {
	return LoggerFunc(nil)
}

// Metric keys recorded by the rollback core.
const (
	MetricFramesSimulated  = "frames_simulated"
	MetricRollbacks        = "rollbacks"
	MetricReplayedFrames   = "replayed_frames"
	MetricRestoredFrames   = "restored_frames"
	MetricSkippedSaves     = "skipped_saves"
	MetricSkippedRestores  = "skipped_restores"
	MetricValidatedFrames  = "validated_frames"
	MetricChecksumsSent    = "checksums_sent"
	MetricChecksumsRx      = "checksums_received"
	MetricStalledTicks     = "stalled_ticks"
	MetricGateToggles      = "gate_toggles"
	MetricPeerDisconnects  = "peer_disconnects"
	MetricAnomalousResends = "anomalous_resends"
)

// Metrics exposes the counters required by core components.
type Metrics interface {
	Add(key string, delta uint64)
	Store(key string, value uint64)
}

type nopMetrics struct{}

func (nopMetrics) Add(string, uint64)   {}
func (nopMetrics) Store(string, uint64) {}

// NopMetrics discards every counter update.
func NopMetrics() Metrics {
	return nopMetrics{}
}

// Counters is a plain in-memory Metrics for tests and the soak binary's
// periodic stats dump. Not safe for concurrent use; only the tick loop
// writes it.
type Counters struct {
	values map[string]uint64
}

// NewCounters builds an empty counter set.
func NewCounters() *Counters {
	return &Counters{values: make(map[string]uint64)}
}

// Add increments a counter.
func (c *Counters) Add(key string, delta uint64) {
	if c == nil {
		return
	}
	c.values[key] += delta
}

// Store overwrites a counter.
func (c *Counters) Store(key string, value uint64) {
	if c == nil {
		return
	}
	c.values[key] = value
}

// Get returns the current value for key.
func (c *Counters) Get(key string) uint64 {
	if c == nil {
		return 0
	}
	return c.values[key]
}

// Snapshot copies all counters for reporting.
func (c *Counters) Snapshot() map[string]uint64 {
	if c == nil {
		return nil
	}
	out := make(map[string]uint64, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}
