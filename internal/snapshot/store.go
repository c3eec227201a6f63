// Package snapshot owns the serialized simulation state used to rewind the
// engine during rollbacks. The engine itself never retains history; the store
// keeps the last-known-good blob per frame and hands it back when the clock
// detects a rewind.
package snapshot

import (
	"errors"
	"fmt"

	"rollsync/internal/checksum"
	"rollsync/internal/frame"
)

// ErrNoSnapshot reports that no stored state covers the requested frame. The
// caller logs and skips the restore: the next successful save self-heals, and
// real divergence still surfaces through the desync validator.
var ErrNoSnapshot = errors.New("snapshot: no state stored for frame")

// Engine is the surface the store needs from the deterministic simulation.
// Serialize must produce a byte-exact, field-order-stable encoding of the
// complete public state; Restore must copy a decoded state back into the live
// engine structure by structure, preserving internals that are not part of
// the serialized surface.
type Engine interface {
	Serialize() ([]byte, error)
	Restore(state []byte) error
}

type entry struct {
	frame frame.Frame
	state []byte
	sum   uint16
}

// Store keeps the latest serialized engine state plus a frame-indexed ring of
// recent states deep enough to cover every frame a rollback can target.
type Store struct {
	entries []entry
	latest  entry
	saved   bool
}

// NewStore allocates a store whose ring covers capacity frames. Capacity must
// cover at least the prediction window; sizing it like the desync rings keeps
// the two structures aligned.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = 1
	}
	return &Store{entries: make([]entry, capacity)}
}

// Save serializes the engine at the end of the given frame and records the
// blob and its checksum. Runs every frame, not just around rollbacks, so the
// stored state always reflects the most recently completed step.
func (s *Store) Save(f frame.Frame, eng Engine) (uint16, error) {
	state, err := eng.Serialize()
	if err != nil {
		return 0, fmt.Errorf("snapshot: serialize frame %d: %w", f, err)
	}
	sum := checksum.Fletcher16(state)

	e := entry{frame: f, state: state, sum: sum}
	*s.slot(f) = e
	s.latest = e
	s.saved = true
	return sum, nil
}

// Restore rewinds the engine to the state saved at the end of frame f.
func (s *Store) Restore(f frame.Frame, eng Engine) error {
	e := s.slot(f)
	if !s.saved || e.frame != f || e.state == nil {
		return fmt.Errorf("%w: %d", ErrNoSnapshot, f)
	}
	if err := eng.Restore(e.state); err != nil {
		return fmt.Errorf("snapshot: restore frame %d: %w", f, err)
	}
	return nil
}

// Checksum returns the checksum of the most recent save.
func (s *Store) Checksum() uint16 { return s.latest.sum }

// LatestFrame returns the frame of the most recent save, or NullFrame before
// the first save.
func (s *Store) LatestFrame() frame.Frame {
	if !s.saved {
		return frame.NullFrame
	}
	return s.latest.frame
}

// Covers reports whether a restore target is currently held in the ring.
func (s *Store) Covers(f frame.Frame) bool {
	e := s.slot(f)
	return s.saved && e.frame == f && e.state != nil
}

func (s *Store) slot(f frame.Frame) *entry {
	idx := int(f) % len(s.entries)
	if idx < 0 {
		idx += len(s.entries)
	}
	return &s.entries[idx]
}
