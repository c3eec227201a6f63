package network

import (
	"context"

	"rollsync/logging"
)

const (
	// EventPeerConnected is emitted on the first message from a peer.
	EventPeerConnected logging.EventType = "network.peer_connected"
	// EventPeerDisconnected is emitted when a peer exceeds the receive timeout.
	EventPeerDisconnected logging.EventType = "network.peer_disconnected"
	// EventStall is emitted when the session refuses to advance past the prediction window.
	EventStall logging.EventType = "network.stall"
	// EventStats is emitted periodically with link and session counters.
	EventStats logging.EventType = "network.stats"
)

// PeerConnected publishes an info event for a newly seen peer.
func PeerConnected(ctx context.Context, pub logging.Publisher, frame int64, peer logging.PeerRef) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPeerConnected,
		Frame:    frame,
		Peer:     peer,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
	})
}

// PeerDisconnected publishes a warning for a peer that stopped responding.
func PeerDisconnected(ctx context.Context, pub logging.Publisher, frame int64, peer logging.PeerRef) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPeerDisconnected,
		Frame:    frame,
		Peer:     peer,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
	})
}

// StallPayload records how far the session is ahead of confirmed input.
type StallPayload struct {
	ConfirmedFrame int64 `json:"confirmedFrame"`
	PredictionGap  int64 `json:"predictionGap"`
}

// Stall publishes a debug event for a tick the session sat out.
func Stall(ctx context.Context, pub logging.Publisher, frame int64, payload StallPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventStall,
		Frame:    frame,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}

// StatsPayload is the periodic counter dump for one peer's session.
type StatsPayload struct {
	MessagesSent     int    `json:"messagesSent"`
	MessagesReceived int    `json:"messagesReceived"`
	Rollbacks        uint64 `json:"rollbacks"`
	ReplayedFrames   uint64 `json:"replayedFrames"`
	StalledTicks     uint64 `json:"stalledTicks"`
	ValidatedFrames  uint64 `json:"validatedFrames"`
	ConfirmedFrame   int64  `json:"confirmedFrame"`
}

// Stats publishes the periodic session counter snapshot.
func Stats(ctx context.Context, pub logging.Publisher, frame int64, payload StatsPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventStats,
		Frame:    frame,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}
