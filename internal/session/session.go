// Package session defines the contract with the rollback-capable networking
// collaborator and ships a two-peer implementation over a peer link. The
// session owns input exchange, prediction and rollback planning; the core
// owns snapshots, checksums and desync validation.
package session

import "rollsync/internal/frame"

// PlayerHandle identifies one player slot in the session.
type PlayerHandle int

// InputStatus qualifies the input delivered for a player on a frame.
type InputStatus uint8

const (
	// InputConfirmed is the player's true input for the frame.
	InputConfirmed InputStatus = iota
	// InputPredicted repeats the player's last known input while the true
	// one is still in flight; the session rolls back if the guess was wrong.
	InputPredicted
	// InputDisconnected stands in for a peer that stopped responding;
	// disconnected players do nothing.
	InputDisconnected
)

// String implements fmt.Stringer for log output.
func (s InputStatus) String() string {
	switch s {
	case InputConfirmed:
		return "confirmed"
	case InputPredicted:
		return "predicted"
	case InputDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// InputFrame is one player's input for one frame, with its trust level.
type InputFrame struct {
	Buttons uint16
	Status  InputStatus
}

// Request instructs the core to simulate one frame with the given inputs.
// A request frame at or below the previously simulated frame is a rollback:
// the core detects the regression through its frame clock and restores state
// before stepping.
type Request struct {
	Frame  frame.Frame
	Inputs map[PlayerHandle]InputFrame
}

// RemoteChecksum is a desync fingerprint received from a peer, piggybacked on
// an input message.
type RemoteChecksum struct {
	Peer     PlayerHandle
	Frame    frame.Frame
	Checksum uint16
}

// EventKind labels session lifecycle events.
type EventKind uint8

const (
	// EventPeerConnected fires on the first message from a peer.
	EventPeerConnected EventKind = iota
	// EventPeerDisconnected fires once when a peer exceeds the receive
	// timeout. The core stops trusting the peer's remote hashes; ending or
	// pausing the match is the application's policy.
	EventPeerDisconnected
)

// Event is a session lifecycle notification.
type Event struct {
	Kind EventKind
	Peer PlayerHandle
}

// Session is the collaborator surface the rollback core drives once per tick.
type Session interface {
	// AddLocalInput commits the local player's input for the next frame
	// (shifted by the input delay) and transmits it, carrying along any
	// checksum attached since the previous call.
	AddLocalInput(buttons uint16) error

	// AttachChecksum queues a confirmed local state fingerprint to ride on
	// the next outbound input message.
	AttachChecksum(f frame.Frame, sum uint16)

	// AdvanceFrame ingests whatever arrived from the network and plans the
	// frames to simulate this tick: zero requests on a stall, one on a plain
	// advance, several when a mispredicted input forces a replay.
	AdvanceFrame() ([]Request, error)

	// CurrentFrame is the highest frame handed out for simulation.
	CurrentFrame() frame.Frame

	// ConfirmedFrame is the highest frame for which every player's true
	// input is known.
	ConfirmedFrame() frame.Frame

	// DrainRemoteChecksums returns fingerprints received since last drained.
	DrainRemoteChecksums() []RemoteChecksum

	// DrainEvents returns lifecycle events raised since last drained.
	DrainEvents() []Event

	// LocalHandle is the local player's slot.
	LocalHandle() PlayerHandle

	// NumPlayers is the session's player count.
	NumPlayers() int
}
