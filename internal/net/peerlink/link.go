// Package peerlink provides the ordered, reliable per-peer byte channel the
// rollback session rides on. The session never blocks on it: outbound
// messages are fire-and-forget, inbound messages are drained as the latest
// available data at the start of a tick.
package peerlink

import "errors"

// ErrClosed reports a send or receive on a closed link.
var ErrClosed = errors.New("peerlink: link closed")

// Link is an ordered, reliable channel to one remote peer.
type Link interface {
	// Send queues one message for delivery. Must not block on the network.
	Send(payload []byte) error

	// Recv drains every message that has arrived since the previous call,
	// in arrival order, without blocking.
	Recv() ([][]byte, error)

	// Close releases the link. Further sends and receives fail with ErrClosed.
	Close() error
}
