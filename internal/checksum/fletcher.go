// Package checksum fingerprints serialized simulation state.
//
// The byte layout fed into these functions is a wire contract: peers compare
// the resulting values to detect divergence, so any change to the field order
// or padding of the serialized state is a protocol-breaking change.
package checksum

// Fletcher16 reduces data to a 16-bit checksum using two running sums mod 255,
// combined as (sum2 << 8) | sum1. Order-sensitive and allocation-free.
func Fletcher16(data []byte) uint16 {
	var sum1, sum2 uint16
	for _, b := range data {
		sum1 = (sum1 + uint16(b)) % 255
		sum2 = (sum2 + sum1) % 255
	}
	return sum2<<8 | sum1
}
