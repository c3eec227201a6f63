// Package gate holds the small state machine that decides whether the
// simulation step runs at all for a given frame. It implements the
// deterministic warm-up window after (re)start and, in soak runs, the
// periodic pause/resume used to prove that pausing itself never desyncs.
package gate

import "rollsync/internal/frame"

// Window disables physics for every frame strictly inside (Start, End).
// The boundary frames themselves stay enabled: the start frame is the one the
// window was rearmed on and rolling back to it must observe the same verdict
// it produced originally.
type Window struct {
	Start frame.Frame
	End   frame.Frame
}

// NewWindow builds a window over the open interval (start, end).
func NewWindow(start, end frame.Frame) Window {
	return Window{Start: start, End: end}
}

// WithDefaultOffset anchors a warm-up window at offset lasting warmupTicks.
func WithDefaultOffset(offset frame.Frame, warmupTicks int) Window {
	return NewWindow(offset, offset+frame.Frame(warmupTicks))
}

// Rearm re-anchors the window at offset, used by the soak mode to force a
// pause/resume cycle mid-match. Returns the previous window for logging.
func (w *Window) Rearm(offset frame.Frame, warmupTicks int) Window {
	prev := *w
	w.Start = offset
	w.End = offset + frame.Frame(warmupTicks)
	return prev
}

// Enabled reports whether physics may step on frame f. Consumers must gate
// both the physics step and any system that applies forces or velocities,
// otherwise state changes accumulate with no simulation step to match.
func (w Window) Enabled(f frame.Frame) bool {
	return !(w.Start < f && f < w.End)
}
