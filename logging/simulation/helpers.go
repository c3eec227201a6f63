package simulation

import (
	"context"

	"rollsync/logging"
)

const (
	// EventRollback is emitted when a frame regression triggers a state restore.
	EventRollback logging.EventType = "simulation.rollback"
	// EventGateToggle is emitted when the physics enable gate changes state.
	EventGateToggle logging.EventType = "simulation.gate_toggle"
	// EventSnapshotSkipped is emitted when a snapshot save or restore fails and is skipped.
	EventSnapshotSkipped logging.EventType = "simulation.snapshot_skipped"
	// EventFrameValidated is emitted when a frame's checksum matches across peers.
	EventFrameValidated logging.EventType = "desync.frame_validated"
	// EventChecksumMismatch is emitted when a confirmed frame's checksums diverge between peers.
	EventChecksumMismatch logging.EventType = "desync.checksum_mismatch"
)

// RollbackPayload captures how far a rollback rewound and how much it replays.
type RollbackPayload struct {
	RollbackFrame int64 `json:"rollbackFrame"`
	RestoredFrame int64 `json:"restoredFrame"`
	Replayed      int64 `json:"replayed"`
}

// Rollback publishes a debug event when the core restores state for a replay.
func Rollback(ctx context.Context, pub logging.Publisher, frame int64, payload RollbackPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventRollback,
		Frame:    frame,
		Severity: logging.SeverityDebug,
		Category: logging.CategorySimulation,
		Payload:  payload,
	})
}

// GateTogglePayload records the new gate state and its window.
type GateTogglePayload struct {
	Enabled     bool  `json:"enabled"`
	WindowStart int64 `json:"windowStart"`
	WindowEnd   int64 `json:"windowEnd"`
}

// GateToggle publishes an info event when physics stepping pauses or resumes.
func GateToggle(ctx context.Context, pub logging.Publisher, frame int64, payload GateTogglePayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventGateToggle,
		Frame:    frame,
		Severity: logging.SeverityInfo,
		Category: logging.CategorySimulation,
		Payload:  payload,
	})
}

// SnapshotSkippedPayload names the failed operation and its cause.
type SnapshotSkippedPayload struct {
	Operation string `json:"operation"`
	Reason    string `json:"reason"`
}

// SnapshotSkipped publishes a warning when a snapshot save or restore is skipped.
func SnapshotSkipped(ctx context.Context, pub logging.Publisher, frame int64, payload SnapshotSkippedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventSnapshotSkipped,
		Frame:    frame,
		Severity: logging.SeverityWarn,
		Category: logging.CategorySimulation,
		Payload:  payload,
	})
}

// FrameValidated publishes a debug event when a frame checksum cross-checks clean.
func FrameValidated(ctx context.Context, pub logging.Publisher, frame int64, checksum uint16) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventFrameValidated,
		Frame:    frame,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryDesync,
		Payload:  map[string]any{"checksum": checksum},
	})
}

// MismatchPayload carries both sides of a diverged checksum comparison.
type MismatchPayload struct {
	LocalChecksum  uint16 `json:"localChecksum"`
	RemoteChecksum uint16 `json:"remoteChecksum"`
}

// ChecksumMismatch publishes the fatal divergence event. The caller is
// expected to halt the session after publishing.
func ChecksumMismatch(ctx context.Context, pub logging.Publisher, frame int64, peer logging.PeerRef, payload MismatchPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventChecksumMismatch,
		Frame:    frame,
		Peer:     peer,
		Severity: logging.SeverityError,
		Category: logging.CategoryDesync,
		Payload:  payload,
	})
}
