package session

import (
	"encoding/binary"
	"fmt"

	"rollsync/internal/frame"
)

// WireInput is the payload of one input message: the button state plus an
// optional piggybacked state fingerprint. A LastConfirmedFrame of zero means
// no fingerprint rides on this message.
type WireInput struct {
	Buttons               uint16
	LastConfirmedFrame    int32
	LastConfirmedChecksum uint16
}

// Message is one per-frame input exchanged between peers.
type Message struct {
	Frame frame.Frame
	Input WireInput
}

// messageSize is the fixed encoded length: i32 frame, u16 buttons,
// i32 confirmed frame, u16 checksum.
const messageSize = 12

// Encode serializes the message in little-endian byte order.
func (m Message) Encode() []byte {
	buf := make([]byte, messageSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(m.Frame))
	binary.LittleEndian.PutUint16(buf[4:6], m.Input.Buttons)
	binary.LittleEndian.PutUint32(buf[6:10], uint32(m.Input.LastConfirmedFrame))
	binary.LittleEndian.PutUint16(buf[10:12], m.Input.LastConfirmedChecksum)
	return buf
}

// DecodeMessage parses an encoded input message.
func DecodeMessage(buf []byte) (Message, error) {
	if len(buf) != messageSize {
		return Message{}, fmt.Errorf("session: message length %d, want %d", len(buf), messageSize)
	}
	var m Message
	m.Frame = frame.Frame(binary.LittleEndian.Uint32(buf[0:4]))
	m.Input.Buttons = binary.LittleEndian.Uint16(buf[4:6])
	m.Input.LastConfirmedFrame = int32(binary.LittleEndian.Uint32(buf[6:10]))
	m.Input.LastConfirmedChecksum = binary.LittleEndian.Uint16(buf[10:12])
	return m, nil
}
