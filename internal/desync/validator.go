package desync

import (
	"errors"
	"fmt"

	"rollsync/internal/frame"
)

// ErrChecksumMismatch is the one fatal condition this package exists to
// catch: a confirmed, validation-eligible frame whose local and remote
// checksums disagree. Once peers diverge no data exists to reconcile them, so
// callers must treat this as terminal rather than attempt silent recovery.
var ErrChecksumMismatch = errors.New("desync: checksum mismatch on confirmed frame")

// ErrStaleOverwrite reports an inbound checksum that contradicts a frame this
// side already validated. The protocol never rewrites validated history, so a
// conflicting resend is a peer logic error, not data to merge.
var ErrStaleOverwrite = errors.New("desync: conflicting checksum for validated frame")

// MismatchError carries both sides of a diverged comparison. It unwraps to
// ErrChecksumMismatch.
type MismatchError struct {
	Frame  frame.Frame
	Local  uint16
	Remote uint16
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%v: frame %d local 0x%04X remote 0x%04X",
		ErrChecksumMismatch, e.Frame, e.Local, e.Remote)
}

func (e *MismatchError) Unwrap() error { return ErrChecksumMismatch }

// Validator cross-checks one local ring against one remote peer's ring.
type Validator struct {
	local  *History
	remote *RemoteHistory
}

// NewValidator pairs the local history with a remote peer's history. Both
// rings must share a slot count.
func NewValidator(local *History, remote *RemoteHistory) (*Validator, error) {
	if local == nil || remote == nil {
		return nil, errors.New("desync: validator requires both histories")
	}
	if local.Size() != remote.Size() {
		return nil, fmt.Errorf("desync: ring size mismatch, local %d vs remote %d", local.Size(), remote.Size())
	}
	return &Validator{local: local, remote: remote}, nil
}

// Validate sweeps every slot and compares checksums for frames that are
// confirmed and unvalidated on both sides and already below the validatable
// boundary. Matching entries are flipped to validated on both rings and
// returned; a mismatch returns ErrChecksumMismatch with both values.
func (v *Validator) Validate(boundary *frame.Validatable) ([]frame.Frame, error) {
	var validated []frame.Frame

	for i := range v.remote.slots {
		rx := &v.remote.slots[i]
		if rx.Frame <= 0 || rx.Validated {
			continue
		}
		sx := &v.local.slots[i]
		// The slot must hold the exact same frame on both sides: a remote
		// entry whose local counterpart was already recycled is simply not
		// comparable yet (or ever), never an error.
		if sx.Frame != rx.Frame || !sx.Confirmed || sx.Validated {
			continue
		}
		if !boundary.IsValidatable(sx.Frame) {
			continue
		}
		if sx.Checksum != rx.Checksum {
			return validated, &MismatchError{Frame: sx.Frame, Local: sx.Checksum, Remote: rx.Checksum}
		}
		sx.Validated = true
		rx.Validated = true
		validated = append(validated, sx.Frame)
	}

	return validated, nil
}
