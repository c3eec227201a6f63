package core

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"rollsync/internal/desync"
	"rollsync/internal/frame"
	"rollsync/internal/gate"
	"rollsync/internal/net/peerlink"
	"rollsync/internal/session"
	"rollsync/internal/telemetry"
)

// fakeEngine is a tiny deterministic state machine: one mixed word plus a
// step counter, both serialized. skewFrom injects a divergence from the given
// step onward that survives restore-and-replay, mimicking a real determinism
// bug on one peer.
type fakeEngine struct {
	state    uint32
	tick     uint32
	inputs   [2]uint16
	active   bool
	steps    int
	skewFrom uint32
	failSave bool
}

func (e *fakeEngine) Serialize() ([]byte, error) {
	if e.failSave {
		e.failSave = false
		return nil, errors.New("forced serialize failure")
	}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], e.state)
	binary.LittleEndian.PutUint32(buf[4:8], e.tick)
	return buf, nil
}

func (e *fakeEngine) Restore(state []byte) error {
	if len(state) != 8 {
		return errors.New("bad state length")
	}
	e.state = binary.LittleEndian.Uint32(state[0:4])
	e.tick = binary.LittleEndian.Uint32(state[4:8])
	return nil
}

func (e *fakeEngine) SetActive(active bool) { e.active = active }

func (e *fakeEngine) ApplyInput(handle int, buttons uint16) {
	if handle >= 0 && handle < len(e.inputs) {
		e.inputs[handle] = buttons
	}
}

func (e *fakeEngine) Step() {
	if !e.active {
		return
	}
	e.tick++
	e.state = e.state*2654435761 + uint32(e.inputs[0])*31 + uint32(e.inputs[1])*131 + 1
	if e.skewFrom > 0 && e.tick >= e.skewFrom {
		e.state ^= 1
	}
	e.steps++
}

// scriptedSession feeds the core a fixed series of request batches with empty
// confirmed inputs, for tests that exercise the tick order in isolation.
type scriptedSession struct {
	batches  [][]frame.Frame
	i        int
	current  frame.Frame
	attached []session.RemoteChecksum
}

func (s *scriptedSession) AddLocalInput(uint16) error { return nil }

func (s *scriptedSession) AdvanceFrame() ([]session.Request, error) {
	if s.i >= len(s.batches) {
		return nil, nil
	}
	frames := s.batches[s.i]
	s.i++
	reqs := make([]session.Request, 0, len(frames))
	for _, f := range frames {
		if f > s.current {
			s.current = f
		}
		reqs = append(reqs, session.Request{
			Frame: f,
			Inputs: map[session.PlayerHandle]session.InputFrame{
				0: {Status: session.InputConfirmed},
				1: {Status: session.InputConfirmed},
			},
		})
	}
	return reqs, nil
}

func (s *scriptedSession) CurrentFrame() frame.Frame   { return s.current }
func (s *scriptedSession) ConfirmedFrame() frame.Frame { return s.current }

func (s *scriptedSession) AttachChecksum(f frame.Frame, sum uint16) {
	s.attached = append(s.attached, session.RemoteChecksum{Frame: f, Checksum: sum})
}

func (s *scriptedSession) DrainRemoteChecksums() []session.RemoteChecksum { return nil }
func (s *scriptedSession) DrainEvents() []session.Event                   { return nil }
func (s *scriptedSession) LocalHandle() session.PlayerHandle              { return 0 }
func (s *scriptedSession) NumPlayers() int                                { return 2 }

func sequentialBatches(n int) [][]frame.Frame {
	out := make([][]frame.Frame, n)
	for i := range out {
		out[i] = []frame.Frame{frame.Frame(i + 1)}
	}
	return out
}

func TestCoreRestoresBeforeReplay(t *testing.T) {
	// A rollback to frame 3 must restore the frame-2 snapshot and replay
	// from there, landing on the same state as an uninterrupted run.
	sess := &scriptedSession{batches: [][]frame.Frame{
		{1}, {2}, {3}, {4}, {3, 4, 5}, {6},
	}}
	eng := &fakeEngine{}
	counters := telemetry.NewCounters()
	c, err := New(sess, eng, Config{MaxPrediction: 2}, Deps{Metrics: counters})
	if err != nil {
		t.Fatalf("new core: %v", err)
	}
	for i := 0; i < 6; i++ {
		if err := c.RunTick(context.Background(), 0); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}

	ref := &fakeEngine{}
	ref.SetActive(true)
	for i := 0; i < 6; i++ {
		ref.Step()
	}
	if eng.state != ref.state || eng.tick != ref.tick {
		t.Fatalf("replayed state %d/%d, want %d/%d", eng.state, eng.tick, ref.state, ref.tick)
	}
	if got := counters.Get(telemetry.MetricRestoredFrames); got != 1 {
		t.Fatalf("restored frames %d, want 1", got)
	}
	if got := counters.Get(telemetry.MetricRollbacks); got != 1 {
		t.Fatalf("rollbacks %d, want 1", got)
	}
}

func TestCoreSkipsRestoreIntoBootWindow(t *testing.T) {
	sess := &scriptedSession{batches: [][]frame.Frame{
		{1}, {1, 2},
	}}
	eng := &fakeEngine{}
	counters := telemetry.NewCounters()
	c, err := New(sess, eng, Config{MaxPrediction: 2}, Deps{Metrics: counters})
	if err != nil {
		t.Fatalf("new core: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := c.RunTick(context.Background(), 0); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}
	if got := counters.Get(telemetry.MetricSkippedRestores); got != 1 {
		t.Fatalf("skipped restores %d, want 1", got)
	}
	if got := counters.Get(telemetry.MetricRestoredFrames); got != 0 {
		t.Fatalf("restored frames %d, want 0", got)
	}
}

func TestCoreGateSkipsWarmupFrames(t *testing.T) {
	sess := &scriptedSession{batches: sequentialBatches(120)}
	eng := &fakeEngine{}
	counters := telemetry.NewCounters()
	c, err := New(sess, eng, Config{
		MaxPrediction: 8,
		Gate:          gate.WithDefaultOffset(0, 60),
	}, Deps{Metrics: counters})
	if err != nil {
		t.Fatalf("new core: %v", err)
	}
	for i := 0; i < 120; i++ {
		if err := c.RunTick(context.Background(), 0); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}
	// Frames 1..59 sit inside the warm-up window, frames 60..120 step.
	if eng.steps != 61 {
		t.Fatalf("engine stepped %d times, want 61", eng.steps)
	}
	if got := counters.Get(telemetry.MetricGateToggles); got != 2 {
		t.Fatalf("gate toggles %d, want 2", got)
	}
}

func TestCoreSurvivesSerializeFailure(t *testing.T) {
	sess := &scriptedSession{batches: sequentialBatches(10)}
	eng := &fakeEngine{}
	counters := telemetry.NewCounters()
	c, err := New(sess, eng, Config{MaxPrediction: 2}, Deps{Metrics: counters})
	if err != nil {
		t.Fatalf("new core: %v", err)
	}
	for i := 0; i < 10; i++ {
		if i == 4 {
			eng.failSave = true
		}
		if err := c.RunTick(context.Background(), 0); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}
	if got := counters.Get(telemetry.MetricSkippedSaves); got != 1 {
		t.Fatalf("skipped saves %d, want 1", got)
	}
	if got := counters.Get(telemetry.MetricFramesSimulated); got != 10 {
		t.Fatalf("frames simulated %d, want 10", got)
	}
	if c.LatestChecksum() == 0 {
		t.Fatal("snapshot store never recovered after the failed save")
	}
}

// peerHarness drives two full cores over a latent loopback link.
type peerHarness struct {
	coreA, coreB *Core
	engA, engB   *fakeEngine
	la, lb       *peerlink.Loopback
	countersA    *telemetry.Counters
	countersB    *telemetry.Counters
}

func newPeerHarness(t *testing.T, latency int, skewFromB uint32) *peerHarness {
	t.Helper()
	la, lb := peerlink.NewLoopbackPair(latency)
	sessA, err := session.NewP2P(la, session.P2PConfig{LocalHandle: 0, MaxPrediction: 8})
	if err != nil {
		t.Fatalf("session a: %v", err)
	}
	sessB, err := session.NewP2P(lb, session.P2PConfig{LocalHandle: 1, MaxPrediction: 8})
	if err != nil {
		t.Fatalf("session b: %v", err)
	}
	h := &peerHarness{
		engA:      &fakeEngine{},
		engB:      &fakeEngine{skewFrom: skewFromB},
		la:        la,
		lb:        lb,
		countersA: telemetry.NewCounters(),
		countersB: telemetry.NewCounters(),
	}
	cfg := Config{MaxPrediction: 8}
	h.coreA, err = New(sessA, h.engA, cfg, Deps{Metrics: h.countersA})
	if err != nil {
		t.Fatalf("core a: %v", err)
	}
	h.coreB, err = New(sessB, h.engB, cfg, Deps{Metrics: h.countersB})
	if err != nil {
		t.Fatalf("core b: %v", err)
	}
	return h
}

// tick runs one fixed-rate tick on both peers and advances the link clocks.
func (h *peerHarness) tick(i int) (errA, errB error) {
	inA := uint16((i / 3) % 16)
	inB := uint16((i / 5) % 16)
	errA = h.coreA.RunTick(context.Background(), inA)
	errB = h.coreB.RunTick(context.Background(), inB)
	h.la.Advance()
	h.lb.Advance()
	return errA, errB
}

func TestCoreTwoPeersValidateCleanRun(t *testing.T) {
	h := newPeerHarness(t, 1, 0)

	for i := 1; i <= 200; i++ {
		errA, errB := h.tick(i)
		if errA != nil {
			t.Fatalf("tick %d peer a: %v", i, errA)
		}
		if errB != nil {
			t.Fatalf("tick %d peer b: %v", i, errB)
		}
	}

	for name, counters := range map[string]*telemetry.Counters{"a": h.countersA, "b": h.countersB} {
		if got := counters.Get(telemetry.MetricValidatedFrames); got < 100 {
			t.Fatalf("peer %s validated %d frames, want at least 100", name, got)
		}
		if got := counters.Get(telemetry.MetricChecksumsRx); got < 100 {
			t.Fatalf("peer %s received %d checksums, want at least 100", name, got)
		}
	}
	// With one tick of latency and changing inputs, prediction misses must
	// have forced replays without any of them tripping the validator.
	total := h.countersA.Get(telemetry.MetricRollbacks) + h.countersB.Get(telemetry.MetricRollbacks)
	if total == 0 {
		t.Fatal("expected rollbacks during a latent run")
	}
}

func TestCoreTwoPeersDetectInjectedDivergence(t *testing.T) {
	const divergeAt = 50
	h := newPeerHarness(t, 1, divergeAt)

	var fatal error
	fatalTick := 0
	for i := 1; i <= 200; i++ {
		errA, errB := h.tick(i)
		if errA != nil || errB != nil {
			fatal = errA
			if fatal == nil {
				fatal = errB
			}
			fatalTick = i
			break
		}
	}

	if fatal == nil {
		t.Fatal("divergence was never detected")
	}
	if !errors.Is(fatal, desync.ErrChecksumMismatch) {
		t.Fatalf("fatal error %v, want checksum mismatch", fatal)
	}
	var mismatch *desync.MismatchError
	if !errors.As(fatal, &mismatch) {
		t.Fatalf("error %v carries no mismatch detail", fatal)
	}
	if mismatch.Frame != divergeAt {
		t.Fatalf("mismatch on frame %d, want %d", mismatch.Frame, divergeAt)
	}
	// Not before the frame leaves the prediction window, not unreasonably
	// after.
	if fatalTick <= divergeAt+8 {
		t.Fatalf("detected at tick %d, inside the prediction window", fatalTick)
	}
	if fatalTick > divergeAt+40 {
		t.Fatalf("detected at tick %d, too long after frame %d", fatalTick, divergeAt)
	}
	// Every frame before the divergence validated cleanly somewhere.
	validated := h.countersA.Get(telemetry.MetricValidatedFrames)
	if validated < divergeAt-1 {
		t.Fatalf("only %d frames validated before detection, want %d", validated, divergeAt-1)
	}
}
