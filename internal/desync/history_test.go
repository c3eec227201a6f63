package desync

import (
	"errors"
	"testing"

	"rollsync/internal/frame"
)

func windowAt(t *testing.T, current frame.Frame, prediction int) *frame.Validatable {
	t.Helper()
	v := frame.NewValidatable()
	v.Recompute(current, current, current, prediction)
	return v
}

func TestHistoryRecordAndConfirm(t *testing.T) {
	h := NewHistory(8)

	h.Record(5, 0xBEEF, 3)
	entry := h.At(5)
	if entry.Frame != 5 || entry.Checksum != 0xBEEF {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if entry.Confirmed {
		t.Fatal("frame 5 recorded with confirmed counter at 3 must start unconfirmed")
	}

	h.ConfirmThrough(4)
	if h.At(5).Confirmed {
		t.Fatal("confirm sweep through 4 must not confirm frame 5")
	}
	h.ConfirmThrough(5)
	if !h.At(5).Confirmed {
		t.Fatal("confirm sweep through 5 must confirm frame 5")
	}
}

func TestHistoryRecordAlreadyConfirmed(t *testing.T) {
	h := NewHistory(8)
	h.Record(2, 0x0101, 7)
	if !h.At(2).Confirmed {
		t.Fatal("frame at or below the confirmed counter must start confirmed")
	}
}

func TestHistoryRecycleResetsFlags(t *testing.T) {
	h := NewHistory(4)
	h.Record(1, 0x1111, 1)
	h.ConfirmThrough(1)
	v := windowAt(t, 20, 4)
	if _, _, ok := h.NextUnsent(v); !ok {
		t.Fatal("expected frame 1 to be selectable")
	}

	// Frame 5 lands in the same slot and must reset the bookkeeping.
	h.Record(5, 0x5555, 0)
	entry := h.At(5)
	if entry.Sent || entry.Validated || entry.Confirmed {
		t.Fatalf("recycled slot kept stale flags: %+v", entry)
	}
}

func TestNextUnsentIdempotent(t *testing.T) {
	h := NewHistory(8)
	h.Record(3, 0xABCD, 3)

	v := windowAt(t, 20, 4)

	f, sum, ok := h.NextUnsent(v)
	if !ok || f != 3 || sum != 0xABCD {
		t.Fatalf("expected to select frame 3, got frame=%d sum=0x%04X ok=%v", f, sum, ok)
	}

	// Marking an entry sent twice must not re-select it.
	if _, _, ok := h.NextUnsent(v); ok {
		t.Fatal("sent entry was selected a second time")
	}
}

func TestNextUnsentRespectsValidatableBoundary(t *testing.T) {
	h := NewHistory(16)
	h.Record(10, 0x1010, 10)

	// Boundary is 10-8=2: frame 10 still inside the prediction window.
	v := frame.NewValidatable()
	v.Recompute(10, 10, 10, 8)
	if _, _, ok := h.NextUnsent(v); ok {
		t.Fatal("frame inside the prediction window must not be sent")
	}

	// Window has moved past frame 10.
	v.Recompute(20, 20, 20, 8)
	if f, _, ok := h.NextUnsent(v); !ok || f != 10 {
		t.Fatalf("expected frame 10 to become sendable, got frame=%d ok=%v", f, ok)
	}
}

func TestNextUnsentSelectsOnePerCall(t *testing.T) {
	h := NewHistory(16)
	h.Record(1, 0x0001, 5)
	h.Record(2, 0x0002, 5)
	h.Record(3, 0x0003, 5)

	v := windowAt(t, 30, 4)

	seen := map[frame.Frame]bool{}
	for i := 0; i < 3; i++ {
		f, _, ok := h.NextUnsent(v)
		if !ok {
			t.Fatalf("selection %d: expected an eligible entry", i)
		}
		if seen[f] {
			t.Fatalf("frame %d selected twice", f)
		}
		seen[f] = true
	}
	if _, _, ok := h.NextUnsent(v); ok {
		t.Fatal("all entries sent, expected no further selection")
	}
}

func TestRemoteHistoryRecord(t *testing.T) {
	r := NewRemoteHistory(8)

	if err := r.Record(0, 0x1234); err != nil {
		t.Fatalf("frame 0 must be ignored, got %v", err)
	}
	if err := r.Record(-3, 0x1234); err != nil {
		t.Fatalf("negative frame must be ignored, got %v", err)
	}

	if err := r.Record(4, 0x4444); err != nil {
		t.Fatalf("record: %v", err)
	}
	entry := r.At(4)
	if entry.Frame != 4 || entry.Checksum != 0x4444 || entry.Validated {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestRemoteHistoryDuplicateResendIgnored(t *testing.T) {
	r := NewRemoteHistory(8)
	if err := r.Record(4, 0x4444); err != nil {
		t.Fatalf("record: %v", err)
	}

	// Same frame again, even with a different value, must not clobber an
	// unvalidated entry; the first received value stands.
	if err := r.Record(4, 0x4444); err != nil {
		t.Fatalf("duplicate resend: %v", err)
	}
	if got := r.At(4).Checksum; got != 0x4444 {
		t.Fatalf("expected checksum to stay 0x4444, got 0x%04X", got)
	}
}

func TestRemoteHistoryConflictingValidatedResend(t *testing.T) {
	local := NewHistory(8)
	r := NewRemoteHistory(8)
	if err := r.Record(4, 0x4444); err != nil {
		t.Fatalf("record: %v", err)
	}

	local.Record(4, 0x4444, 4)
	validator, err := NewValidator(local, r)
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	if _, err := validator.Validate(windowAt(t, 20, 4)); err != nil {
		t.Fatalf("validate: %v", err)
	}

	err = r.Record(4, 0x9999)
	if !errors.Is(err, ErrStaleOverwrite) {
		t.Fatalf("expected ErrStaleOverwrite for conflicting validated resend, got %v", err)
	}
}

func TestRemoteHistoryRecyclesValidatedSlots(t *testing.T) {
	r := NewRemoteHistory(4)
	if err := r.Record(2, 0x2222); err != nil {
		t.Fatalf("record: %v", err)
	}
	// Frame 6 shares the slot; a new frame may replace validated history.
	if err := r.Record(6, 0x6666); err != nil {
		t.Fatalf("recycle: %v", err)
	}
	entry := r.At(6)
	if entry.Frame != 6 || entry.Checksum != 0x6666 || entry.Validated {
		t.Fatalf("unexpected recycled entry %+v", entry)
	}
}

func TestNegativeFrameSlotIndexing(t *testing.T) {
	h := NewHistory(8)
	// Callers only record positive frames, but a negative frame must still
	// map to a slot without panicking.
	h.Record(frame.NullFrame, 0x0001, 0)
}
