package frame

// Validatable is the oldest frame boundary past which cross-peer checksum
// comparison is safe: neither side can roll a frame below it back, so hashes
// for those frames are final.
type Validatable struct {
	boundary Frame
}

// NewValidatable starts at the minimum representable frame so that nothing is
// considered validatable before a session exists.
func NewValidatable() *Validatable {
	return &Validatable{boundary: MinFrame}
}

// Recompute derives the boundary as the most pessimistic of the three frame
// counters minus the prediction window. Runs after the clock tick and before
// input collection, since input collection decides what to transmit based on
// this value.
func (v *Validatable) Recompute(current, session, confirmed Frame, maxPrediction int) Frame {
	boundary := current
	if session < boundary {
		boundary = session
	}
	if confirmed < boundary {
		boundary = confirmed
	}
	v.boundary = boundary - Frame(maxPrediction)
	return v.boundary
}

// IsValidatable reports whether f is old enough that no rollback can touch it.
func (v *Validatable) IsValidatable(f Frame) bool {
	return f < v.boundary
}

// Boundary returns the current validatable-frame boundary.
func (v *Validatable) Boundary() Frame { return v.boundary }
