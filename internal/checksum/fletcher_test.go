package checksum

import "testing"

func TestFletcher16KnownVectors(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want uint16
	}{
		{name: "empty", data: nil, want: 0},
		{name: "single zero byte", data: []byte{0}, want: 0},
		{name: "single byte", data: []byte{1}, want: 0x0101},
		// Classic vectors from the Fletcher checksum definition.
		{name: "abcde", data: []byte("abcde"), want: 0xC8F0},
		{name: "abcdef", data: []byte("abcdef"), want: 0x2057},
		{name: "abcdefgh", data: []byte("abcdefgh"), want: 0x0627},
	}

	for _, tc := range cases {
		if got := Fletcher16(tc.data); got != tc.want {
			t.Fatalf("%s: expected 0x%04X, got 0x%04X", tc.name, tc.want, got)
		}
	}
}

func TestFletcher16Deterministic(t *testing.T) {
	data := make([]byte, 1024)
	for i := range data {
		data[i] = byte(i * 31)
	}
	first := Fletcher16(data)
	second := Fletcher16(data)
	if first != second {
		t.Fatalf("expected identical checksums for identical input, got 0x%04X and 0x%04X", first, second)
	}
}

func TestFletcher16OrderSensitive(t *testing.T) {
	if Fletcher16([]byte{1, 2}) == Fletcher16([]byte{2, 1}) {
		t.Fatal("expected checksum to depend on byte order")
	}
}

func TestFletcher16SingleBitFlip(t *testing.T) {
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}
	base := Fletcher16(data)

	flipped := 0
	for i := range data {
		mutated := append([]byte(nil), data...)
		mutated[i] ^= 0x40
		if Fletcher16(mutated) != base {
			flipped++
		}
	}
	// Fletcher-16 is not collision free, but a single-bit change should move
	// the checksum for the overwhelming majority of positions.
	if flipped < len(data)*9/10 {
		t.Fatalf("expected most single-bit flips to change the checksum, only %d/%d did", flipped, len(data))
	}
}
