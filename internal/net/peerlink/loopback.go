package peerlink

// Loopback is the in-process half of a deterministic link pair. Messages are
// held until the pair's delivery clock advances past their arrival tick, so
// tests and the single-process soak run can dial in an exact transit latency
// in ticks and reproduce rollbacks on demand.
type Loopback struct {
	peer    *Loopback
	latency int

	clock  int
	queue  []timedMessage
	closed bool
}

type timedMessage struct {
	arriveAt int
	payload  []byte
}

// NewLoopbackPair returns two connected loopback links. A message sent on one
// side becomes receivable on the other after latencyTicks calls to Advance on
// the receiving side. Latency zero delivers on the next Recv.
func NewLoopbackPair(latencyTicks int) (*Loopback, *Loopback) {
	if latencyTicks < 0 {
		latencyTicks = 0
	}
	a := &Loopback{latency: latencyTicks}
	b := &Loopback{latency: latencyTicks}
	a.peer = b
	b.peer = a
	return a, b
}

// Advance moves this side's delivery clock one tick forward.
func (l *Loopback) Advance() {
	l.clock++
}

// Send queues payload for the remote side.
func (l *Loopback) Send(payload []byte) error {
	if l.closed || l.peer.closed {
		return ErrClosed
	}
	msg := timedMessage{
		arriveAt: l.peer.clock + l.latency,
		payload:  append([]byte(nil), payload...),
	}
	l.peer.queue = append(l.peer.queue, msg)
	return nil
}

// Recv returns every queued message whose arrival tick has passed.
func (l *Loopback) Recv() ([][]byte, error) {
	if l.closed {
		return nil, ErrClosed
	}
	var out [][]byte
	remaining := l.queue[:0]
	for _, msg := range l.queue {
		if msg.arriveAt <= l.clock {
			out = append(out, msg.payload)
		} else {
			remaining = append(remaining, msg)
		}
	}
	l.queue = remaining
	return out, nil
}

// Close shuts this side down. The peer's queued messages stay readable.
func (l *Loopback) Close() error {
	l.closed = true
	return nil
}
