package frame

// Status is the per-tick rollback verdict derived by the clock.
type Status struct {
	// IsRollback reports that the current frame failed to advance past the
	// previous tick's frame, which means the session is resimulating.
	IsRollback bool

	// IsReplay reports that this tick replays a frame the session has already
	// advanced past, either because of a rollback or because the local
	// counter is catching up to the session counter.
	IsReplay bool

	// RollbackFrame is the frame the simulation was rewound to. Only
	// meaningful while IsRollback is set.
	RollbackFrame Frame
}

// Clock owns the frame counters for a single simulation loop. It is plain
// single-owner state: exactly one Tick per simulated frame, strictly before
// any other per-frame work, so every component observes one frame identity.
type Clock struct {
	last      Frame
	current   Frame
	session   Frame
	confirmed Frame
	status    Status
}

// NewClock returns a clock with all counters at zero, matching the state of a
// session that has not simulated its first frame yet.
func NewClock() *Clock {
	return &Clock{}
}

// Tick records the frame about to be simulated and derives the rollback
// status. A current frame at or below the previous tick's frame means the
// clock went backward or failed to advance; both signal resimulation.
func (c *Clock) Tick(current Frame) Status {
	c.current = current

	c.status.IsRollback = current <= c.last
	c.status.IsReplay = c.status.IsRollback || c.session > current
	if c.status.IsRollback {
		c.status.RollbackFrame = current
	}

	// Once a rollback starts we resimulate every frame back to where we left
	// off, and further rollbacks can land during that replay, so the
	// comparison baseline must follow every tick.
	c.last = current
	return c.status
}

// SyncSession copies the frame the session reports as authoritative. Outside
// a rollback this equals the current frame; during resimulation it reflects
// how far the session has actually advanced.
func (c *Clock) SyncSession(session Frame) {
	c.session = session
}

// SyncConfirmed copies the highest frame for which every player's input is
// confirmed.
func (c *Clock) SyncConfirmed(confirmed Frame) {
	c.confirmed = confirmed
}

// Current returns the frame recorded by the latest Tick.
func (c *Clock) Current() Frame { return c.current }

// Session returns the latest session-reported frame.
func (c *Clock) Session() Frame { return c.session }

// Confirmed returns the latest confirmed frame.
func (c *Clock) Confirmed() Frame { return c.confirmed }

// Status returns the verdict derived by the latest Tick.
func (c *Clock) Status() Status { return c.status }
