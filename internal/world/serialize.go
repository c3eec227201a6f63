package world

import (
	"encoding/binary"
	"fmt"
)

// Serialization is a wire contract: peers checksum these exact bytes to
// detect desyncs, so the field order below must never change without bumping
// stateVersion. Layout, little-endian throughout:
//
//	u16 stateVersion
//	u32 tick
//	u32 body count
//	per body: i32 X, i32 Y, i32 VX, i32 VY
//
// Structural fields (sizes, kinds, names) are not serialized; Restore copies
// decoded values into the live body list and therefore requires the same
// scene on both ends.
const stateVersion uint16 = 1

const bodyRecordSize = 16

// Serialize encodes the complete public state of the world.
func (w *World) Serialize() ([]byte, error) {
	size := 2 + 4 + 4 + len(w.bodies)*bodyRecordSize
	if cap(w.scratch) < size {
		w.scratch = make([]byte, size)
	}
	buf := w.scratch[:size]

	binary.LittleEndian.PutUint16(buf[0:], stateVersion)
	binary.LittleEndian.PutUint32(buf[2:], w.tick)
	binary.LittleEndian.PutUint32(buf[6:], uint32(len(w.bodies)))

	off := 10
	for i := range w.bodies {
		b := &w.bodies[i]
		binary.LittleEndian.PutUint32(buf[off+0:], uint32(b.X))
		binary.LittleEndian.PutUint32(buf[off+4:], uint32(b.Y))
		binary.LittleEndian.PutUint32(buf[off+8:], uint32(b.VX))
		binary.LittleEndian.PutUint32(buf[off+12:], uint32(b.VY))
		off += bodyRecordSize
	}

	out := make([]byte, size)
	copy(out, buf)
	return out, nil
}

// Restore decodes state and copies it field by field into the live bodies.
// The body list itself is never replaced: names, sizes, kinds and the
// unserialized engine internals persist across restores.
func (w *World) Restore(state []byte) error {
	if len(state) < 10 {
		return fmt.Errorf("world: state too short: %d bytes", len(state))
	}
	version := binary.LittleEndian.Uint16(state[0:])
	if version != stateVersion {
		return fmt.Errorf("world: state version %d, expected %d", version, stateVersion)
	}
	count := binary.LittleEndian.Uint32(state[6:])
	if int(count) != len(w.bodies) {
		return fmt.Errorf("world: state carries %d bodies, scene has %d", count, len(w.bodies))
	}
	want := 10 + int(count)*bodyRecordSize
	if len(state) != want {
		return fmt.Errorf("world: state is %d bytes, expected %d", len(state), want)
	}

	w.tick = binary.LittleEndian.Uint32(state[2:])
	off := 10
	for i := range w.bodies {
		b := &w.bodies[i]
		b.X = int32(binary.LittleEndian.Uint32(state[off+0:]))
		b.Y = int32(binary.LittleEndian.Uint32(state[off+4:]))
		b.VX = int32(binary.LittleEndian.Uint32(state[off+8:]))
		b.VY = int32(binary.LittleEndian.Uint32(state[off+12:]))
		off += bodyRecordSize
	}
	return nil
}
