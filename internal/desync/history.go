// Package desync records per-frame simulation checksums on both sides of a
// session and cross-checks them once frames fall out of the prediction
// window. It is the correctness oracle for the rollback loop: two peers
// running deterministic simulations over identical confirmed inputs must
// produce identical checksums for every confirmed frame.
package desync

import (
	"fmt"

	"rollsync/internal/frame"
)

// FrameHash is the bookkeeping stored for a locally simulated frame.
type FrameHash struct {
	// Frame identifies which logical frame currently occupies the slot.
	Frame frame.Frame

	// Checksum fingerprints the serialized simulation state for the frame.
	Checksum uint16

	// Confirmed is set once the session reports the frame as confirmed for
	// all players, i.e. no longer subject to prediction.
	Confirmed bool

	// Sent is set once the checksum has been transmitted to the remote peer.
	Sent bool

	// Validated is set once the checksum has been cross-checked against the
	// remote peer's value for the same frame.
	Validated bool
}

// RemoteFrameHash is the bookkeeping stored for a checksum received from a
// remote peer. There is no send/confirm state: received data is by definition
// confirmed on the sender's side.
type RemoteFrameHash struct {
	Frame     frame.Frame
	Checksum  uint16
	Validated bool
}

// History is a fixed-size ring of local frame hashes indexed by
// frame mod size. The ring must be sized to a small multiple of the max
// prediction window (three or more) so confirmed-but-unvalidated entries
// cannot be overwritten by in-flight predicted frames.
type History struct {
	slots []FrameHash
}

// NewHistory allocates a local hash ring with the given slot count.
func NewHistory(size int) *History {
	if size <= 0 {
		size = 1
	}
	return &History{slots: make([]FrameHash, size)}
}

// Size returns the slot count.
func (h *History) Size() int { return len(h.slots) }

// Record stores the checksum for a freshly simulated frame, resetting the
// sent/validated flags. The entry starts confirmed only when the session's
// confirmed counter has already reached the frame; otherwise ConfirmThrough
// flips it later.
func (h *History) Record(f frame.Frame, sum uint16, confirmed frame.Frame) {
	slot := h.slot(f)
	slot.Frame = f
	slot.Checksum = sum
	slot.Confirmed = f <= confirmed
	slot.Sent = false
	slot.Validated = false
}

// ConfirmThrough marks every recorded frame at or below confirmed as no
// longer subject to prediction.
func (h *History) ConfirmThrough(confirmed frame.Frame) {
	for i := range h.slots {
		slot := &h.slots[i]
		if slot.Frame > 0 && !slot.Confirmed && slot.Frame <= confirmed {
			slot.Confirmed = true
		}
	}
}

// NextUnsent scans for a confirmed, unsent entry that is already outside the
// prediction window and marks it sent. At most one entry is selected per call
// so a single checksum rides along with each outbound input message. Sending
// is gated on validatability because transmitting a hash the sender itself
// could still roll back would silently invalidate a value already claimed as
// final. Returns false when nothing is eligible.
func (h *History) NextUnsent(v *frame.Validatable) (frame.Frame, uint16, bool) {
	for i := range h.slots {
		slot := &h.slots[i]
		if slot.Frame > 0 && slot.Confirmed && !slot.Sent && v.IsValidatable(slot.Frame) {
			slot.Sent = true
			return slot.Frame, slot.Checksum, true
		}
	}
	return frame.NullFrame, 0, false
}

// At returns a copy of the entry currently occupying the slot for f.
func (h *History) At(f frame.Frame) FrameHash {
	return *h.slot(f)
}

func (h *History) slot(f frame.Frame) *FrameHash {
	idx := int(f) % len(h.slots)
	if idx < 0 {
		idx += len(h.slots)
	}
	return &h.slots[idx]
}

// RemoteHistory is the receive-side ring, populated from checksums piggybacked
// on inbound input messages from one remote peer.
type RemoteHistory struct {
	slots []RemoteFrameHash
}

// NewRemoteHistory allocates a remote hash ring with the given slot count.
// Local and remote rings must agree on size so identical frames land in
// identical slots.
func NewRemoteHistory(size int) *RemoteHistory {
	if size <= 0 {
		size = 1
	}
	return &RemoteHistory{slots: make([]RemoteFrameHash, size)}
}

// Size returns the slot count.
func (r *RemoteHistory) Size() int { return len(r.slots) }

// Record stores a received (frame, checksum) pair. Duplicate resends of the
// slot's current frame are ignored. Overwriting a validated entry for a
// different frame is the normal ring recycle; receiving a different checksum
// for the very frame already validated in the slot means the peer rewrote
// history and is reported as a protocol anomaly.
func (r *RemoteHistory) Record(f frame.Frame, sum uint16) error {
	if f <= 0 {
		return nil
	}
	slot := r.slot(f)
	if slot.Frame == f {
		if slot.Validated && slot.Checksum != sum {
			return fmt.Errorf("%w: frame %d already validated with checksum 0x%04X, peer resent 0x%04X",
				ErrStaleOverwrite, f, slot.Checksum, sum)
		}
		// Duplicate or stale resend: keep what we have.
		return nil
	}
	slot.Frame = f
	slot.Checksum = sum
	slot.Validated = false
	return nil
}

// At returns a copy of the entry currently occupying the slot for f.
func (r *RemoteHistory) At(f frame.Frame) RemoteFrameHash {
	return *r.slot(f)
}

func (r *RemoteHistory) slot(f frame.Frame) *RemoteFrameHash {
	idx := int(f) % len(r.slots)
	if idx < 0 {
		idx += len(r.slots)
	}
	return &r.slots[idx]
}
