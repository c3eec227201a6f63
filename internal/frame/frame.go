// Package frame tracks simulation frame identity across ticks and derives the
// rollback status every other component keys off of.
package frame

import "math"

// Frame identifies a simulation tick. It increases monotonically during
// normal play but the current counter can be observed to regress while the
// session resimulates after a rollback.
type Frame = int32

// NullFrame marks "no frame" / "nothing to report yet".
const NullFrame Frame = -1

// MinFrame is the lowest representable frame, used as the startup value for
// boundaries that must consider nothing eligible until a session exists.
const MinFrame Frame = math.MinInt32
