package session

import (
	"fmt"

	"rollsync/internal/frame"
	"rollsync/internal/net/peerlink"
)

// P2PConfig parameterizes a two-peer session.
type P2PConfig struct {
	// LocalHandle is this peer's player slot (0 or 1).
	LocalHandle PlayerHandle
	// InputDelay shifts local input forward so it usually arrives before the
	// remote peer needs it. Frames 1..InputDelay are pre-seeded with empty
	// input on both sides.
	InputDelay int
	// MaxPrediction caps how far simulation may run past the confirmed
	// frame. When the gap would exceed it, AdvanceFrame stalls instead.
	MaxPrediction int
	// DisconnectTimeout is how many consecutive AdvanceFrame calls may pass
	// without a remote message before the peer is declared disconnected.
	// Zero disables the watchdog.
	DisconnectTimeout int
}

const p2pPlayers = 2

// P2P is a two-peer rollback session over a peer link. It commits and
// transmits local input with a fixed delay, predicts missing remote input by
// repeating the last known one, and plans replays when a late input proves a
// prediction wrong.
//
// P2P is not safe for concurrent use; drive it from the simulation loop.
type P2P struct {
	link peerlink.Link
	cfg  P2PConfig

	current frame.Frame

	// inputs holds true inputs per player. lastKnown tracks the highest
	// frame with a contiguous run of true inputs from frame 1.
	inputs    [p2pPlayers]map[frame.Frame]uint16
	lastKnown [p2pPlayers]frame.Frame

	// used records what was actually fed to simulation for the remote
	// player, so a late true input can be compared against the prediction.
	used map[frame.Frame]uint16

	pendingRollback frame.Frame

	pendingChecksum      RemoteChecksum
	pendingChecksumValid bool

	rxChecksums []RemoteChecksum
	events      []Event

	sent         int
	received     int
	ticksNoRx    int
	peerSeen     bool
	disconnected bool
}

// NewP2P builds a session bound to the given link.
func NewP2P(link peerlink.Link, cfg P2PConfig) (*P2P, error) {
	if cfg.LocalHandle < 0 || cfg.LocalHandle >= p2pPlayers {
		return nil, fmt.Errorf("session: local handle %d out of range", cfg.LocalHandle)
	}
	if cfg.MaxPrediction < 1 {
		return nil, fmt.Errorf("session: max prediction %d, want at least 1", cfg.MaxPrediction)
	}
	if cfg.InputDelay < 0 {
		return nil, fmt.Errorf("session: negative input delay %d", cfg.InputDelay)
	}
	s := &P2P{
		link:            link,
		cfg:             cfg,
		used:            make(map[frame.Frame]uint16),
		pendingRollback: frame.NullFrame,
	}
	for p := 0; p < p2pPlayers; p++ {
		s.inputs[p] = make(map[frame.Frame]uint16)
		for f := frame.Frame(1); f <= frame.Frame(cfg.InputDelay); f++ {
			s.inputs[p][f] = 0
		}
		s.lastKnown[p] = frame.Frame(cfg.InputDelay)
	}
	return s, nil
}

func (s *P2P) remoteHandle() PlayerHandle {
	return 1 - s.cfg.LocalHandle
}

// LocalHandle implements Session.
func (s *P2P) LocalHandle() PlayerHandle { return s.cfg.LocalHandle }

// NumPlayers implements Session.
func (s *P2P) NumPlayers() int { return p2pPlayers }

// CurrentFrame implements Session.
func (s *P2P) CurrentFrame() frame.Frame { return s.current }

// ConfirmedFrame implements Session. Disconnected peers no longer constrain
// it; their input is fixed at nothing.
func (s *P2P) ConfirmedFrame() frame.Frame {
	confirmed := s.lastKnown[s.cfg.LocalHandle]
	if !s.disconnected && s.lastKnown[s.remoteHandle()] < confirmed {
		confirmed = s.lastKnown[s.remoteHandle()]
	}
	return confirmed
}

// AttachChecksum implements Session. Only the newest fingerprint is held;
// the core hands over at most one per tick.
func (s *P2P) AttachChecksum(f frame.Frame, sum uint16) {
	s.pendingChecksum = RemoteChecksum{Peer: s.cfg.LocalHandle, Frame: f, Checksum: sum}
	s.pendingChecksumValid = true
}

// AddLocalInput implements Session. The input lands on frame
// current+1+delay. If that frame already has a committed input (the session
// stalled and the caller retried), the original commitment stands and is
// retransmitted.
func (s *P2P) AddLocalInput(buttons uint16) error {
	local := s.cfg.LocalHandle
	target := s.current + 1 + frame.Frame(s.cfg.InputDelay)
	if prev, ok := s.inputs[local][target]; ok {
		buttons = prev
	} else {
		s.inputs[local][target] = buttons
		s.bumpLastKnown(local)
	}
	msg := Message{Frame: target, Input: WireInput{Buttons: buttons}}
	if s.pendingChecksumValid {
		msg.Input.LastConfirmedFrame = int32(s.pendingChecksum.Frame)
		msg.Input.LastConfirmedChecksum = s.pendingChecksum.Checksum
		s.pendingChecksumValid = false
	}
	if err := s.link.Send(msg.Encode()); err != nil {
		return fmt.Errorf("session: send input for frame %d: %w", target, err)
	}
	s.sent++
	return nil
}

// AdvanceFrame implements Session. It first drains and applies network
// traffic, then plans: any replay forced by a mispredicted input, followed by
// the next new frame unless the prediction window is exhausted.
func (s *P2P) AdvanceFrame() ([]Request, error) {
	if err := s.poll(); err != nil {
		return nil, err
	}
	s.watchdog()

	var reqs []Request
	if s.pendingRollback != frame.NullFrame && s.pendingRollback <= s.current {
		for f := s.pendingRollback; f <= s.current; f++ {
			reqs = append(reqs, s.requestFor(f))
		}
	}
	s.pendingRollback = frame.NullFrame

	next := s.current + 1
	if next-s.ConfirmedFrame() > frame.Frame(s.cfg.MaxPrediction) {
		// Stalled: too far ahead of the slowest peer.
		return reqs, nil
	}
	reqs = append(reqs, s.requestFor(next))
	s.current = next
	s.prune()
	return reqs, nil
}

// DrainRemoteChecksums implements Session.
func (s *P2P) DrainRemoteChecksums() []RemoteChecksum {
	out := s.rxChecksums
	s.rxChecksums = nil
	return out
}

// DrainEvents implements Session.
func (s *P2P) DrainEvents() []Event {
	out := s.events
	s.events = nil
	return out
}

// Stats reports messages sent and received since the session started.
func (s *P2P) Stats() (sent, received int) {
	return s.sent, s.received
}

// Close releases the underlying link.
func (s *P2P) Close() error { return s.link.Close() }

func (s *P2P) poll() error {
	payloads, err := s.link.Recv()
	if err != nil {
		return fmt.Errorf("session: recv: %w", err)
	}
	remote := s.remoteHandle()
	for _, buf := range payloads {
		msg, err := DecodeMessage(buf)
		if err != nil {
			return err
		}
		s.received++
		s.ticksNoRx = 0
		if !s.peerSeen {
			s.peerSeen = true
			s.events = append(s.events, Event{Kind: EventPeerConnected, Peer: remote})
		}
		if msg.Input.LastConfirmedFrame > 0 {
			s.rxChecksums = append(s.rxChecksums, RemoteChecksum{
				Peer:     remote,
				Frame:    frame.Frame(msg.Input.LastConfirmedFrame),
				Checksum: msg.Input.LastConfirmedChecksum,
			})
		}
		if msg.Frame < 1 {
			continue
		}
		if _, ok := s.inputs[remote][msg.Frame]; ok {
			// Duplicate delivery; the first commitment stands.
			continue
		}
		s.inputs[remote][msg.Frame] = msg.Input.Buttons
		s.bumpLastKnown(remote)
		if msg.Frame <= s.current {
			if predicted, ok := s.used[msg.Frame]; ok && predicted != msg.Input.Buttons {
				if s.pendingRollback == frame.NullFrame || msg.Frame < s.pendingRollback {
					s.pendingRollback = msg.Frame
				}
			}
		}
	}
	return nil
}

func (s *P2P) watchdog() {
	if s.disconnected || s.cfg.DisconnectTimeout <= 0 {
		return
	}
	s.ticksNoRx++
	if s.ticksNoRx > s.cfg.DisconnectTimeout {
		s.disconnected = true
		s.events = append(s.events, Event{Kind: EventPeerDisconnected, Peer: s.remoteHandle()})
	}
}

// requestFor assembles the inputs for one frame from whatever is currently
// known, recording the remote value used so late arrivals can be checked.
func (s *P2P) requestFor(f frame.Frame) Request {
	inputs := make(map[PlayerHandle]InputFrame, p2pPlayers)
	for p := PlayerHandle(0); p < p2pPlayers; p++ {
		inputs[p] = s.inputFor(p, f)
	}
	s.used[f] = inputs[s.remoteHandle()].Buttons
	return Request{Frame: f, Inputs: inputs}
}

func (s *P2P) inputFor(p PlayerHandle, f frame.Frame) InputFrame {
	if buttons, ok := s.inputs[p][f]; ok {
		return InputFrame{Buttons: buttons, Status: InputConfirmed}
	}
	if p != s.cfg.LocalHandle && s.disconnected {
		return InputFrame{Status: InputDisconnected}
	}
	// Predict by repeating the last known input.
	return InputFrame{Buttons: s.inputs[p][s.lastKnown[p]], Status: InputPredicted}
}

func (s *P2P) bumpLastKnown(p PlayerHandle) {
	for {
		if _, ok := s.inputs[p][s.lastKnown[p]+1]; !ok {
			return
		}
		s.lastKnown[p]++
	}
}

// prune drops input and prediction records far behind the confirmed frame.
// Rollbacks never reach past it, so a generous margin is enough.
func (s *P2P) prune() {
	margin := frame.Frame(4*s.cfg.MaxPrediction + s.cfg.InputDelay + 8)
	floor := s.ConfirmedFrame() - margin
	if floor <= 1 {
		return
	}
	for p := 0; p < p2pPlayers; p++ {
		for f := range s.inputs[p] {
			if f < floor {
				delete(s.inputs[p], f)
			}
		}
	}
	for f := range s.used {
		if f < floor {
			delete(s.used, f)
		}
	}
}
