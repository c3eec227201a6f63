// Package world is a small deterministic 2D physics world used as the
// reference simulation behind the rollback core. All math is integer
// fixed-point so two peers on different architectures step bit-identically,
// which is the property the desync validator certifies.
package world

// Input bit flags carried in the low bits of the wire input word. Sixteen bits
// for bit-packing alignment in the input struct.
const (
	InputUp    uint16 = 0b0001
	InputDown  uint16 = 0b0010
	InputLeft  uint16 = 0b0100
	InputRight uint16 = 0b1000
)

// Fixed-point scale: 256 units per pixel.
const (
	Scale = 256

	// moveAccel is the per-tick velocity impulse applied while a direction is
	// held, in units per tick.
	moveAccel = 48

	// gravity pulls dynamic bodies down every step, in units per tick squared.
	gravity = 6

	// maxSpeed clamps per-axis velocity below the thinnest combined collision
	// extent (wall half-thickness plus body half-size), so a body can never
	// cross static geometry in a single step.
	maxSpeed = 12 * Scale
)

// BodyKind separates bodies the integrator moves from static geometry.
type BodyKind uint8

const (
	BodyStatic BodyKind = iota
	BodyDynamic
)

// Body is an axis-aligned box (or ball approximated as one) in the world.
// X/Y is the center, velocities are per tick, all in fixed-point units.
type Body struct {
	Name    string
	Kind    BodyKind
	X, Y    int32
	VX, VY  int32
	HalfW   int32
	HalfH   int32
	Bouncy  bool
	Gravity bool
}

// World owns the body set and a tick counter that is part of the serialized
// state. Fields outside the serialized surface (step statistics, the reusable
// serialization buffer, the pipeline flag) persist across restores.
type World struct {
	tick   uint32
	bodies []Body

	active bool

	// Engine internals, deliberately outside the serialized surface.
	totalSteps uint64
	players    []int // body index per player handle
	scratch    []byte
}

// New builds the boot scene: a bouncy ball, one box per player, and the
// static floor, walls and ceiling. Spawn order is fixed; every peer must
// construct the identical body list or their serialized states will never
// agree.
func New(numPlayers int) *World {
	w := &World{}
	w.buildScene(numPlayers)
	return w
}

func (w *World) buildScene(numPlayers int) {
	const (
		boxLength = 200 * Scale
		thickness = 10 * Scale
		overlap   = boxLength + thickness
	)

	w.bodies = w.bodies[:0]
	w.players = w.players[:0]
	w.tick = 0

	w.bodies = append(w.bodies, Body{
		Name: "Ball", Kind: BodyDynamic,
		X: 0, Y: 10 * Scale,
		HalfW: 4 * Scale, HalfH: 4 * Scale,
		Bouncy: true, Gravity: true,
	})

	spawns := []int32{-10 * Scale, 10 * Scale, -30 * Scale, 30 * Scale}
	for i := 0; i < numPlayers; i++ {
		x := spawns[i%len(spawns)]
		w.players = append(w.players, len(w.bodies))
		w.bodies = append(w.bodies, Body{
			Name: playerName(i), Kind: BodyDynamic,
			X: x, Y: -50 * Scale,
			HalfW: 8 * Scale, HalfH: 8 * Scale,
			Gravity: true,
		})
	}

	w.bodies = append(w.bodies,
		Body{Name: "Floor", Kind: BodyStatic, X: 0, Y: -boxLength, HalfW: overlap, HalfH: thickness},
		Body{Name: "Left Wall", Kind: BodyStatic, X: -boxLength, Y: 0, HalfW: thickness, HalfH: overlap},
		Body{Name: "Right Wall", Kind: BodyStatic, X: boxLength, Y: 0, HalfW: thickness, HalfH: overlap},
		Body{Name: "Ceiling", Kind: BodyStatic, X: 0, Y: boxLength, HalfW: overlap, HalfH: thickness},
	)
}

func playerName(handle int) string {
	return "Player " + string(rune('1'+handle))
}

// Reset rebuilds the boot scene in place. The caller is expected to save the
// blank slate immediately afterwards: frame 0 is a legal rollback target.
func (w *World) Reset() {
	numPlayers := len(w.players)
	w.buildScene(numPlayers)
}

// SetActive toggles the simulation pipeline. While inactive, Step is a no-op;
// input application must be gated by the same flag so velocities cannot
// accumulate without a matching step.
func (w *World) SetActive(active bool) { w.active = active }

// Active reports the pipeline flag.
func (w *World) Active() bool { return w.active }

// Tick returns the world's own step counter, part of the serialized state.
func (w *World) Tick() uint32 { return w.tick }

// TotalSteps counts every executed step across restores, an engine-internal
// statistic that must survive rollbacks unchanged.
func (w *World) TotalSteps() uint64 { return w.totalSteps }

// Players returns the number of player bodies.
func (w *World) Players() int { return len(w.players) }

// PlayerBody returns a copy of the body for a player handle.
func (w *World) PlayerBody(handle int) (Body, bool) {
	if handle < 0 || handle >= len(w.players) {
		return Body{}, false
	}
	return w.bodies[w.players[handle]], true
}

// Bodies returns a copy of all bodies, for inspection.
func (w *World) Bodies() []Body {
	out := make([]Body, len(w.bodies))
	copy(out, w.bodies)
	return out
}

// ApplyInput translates a player's input bits into velocity changes.
// Opposing bits cancel; a held direction accelerates, a released axis zeroes
// that axis, mirroring the reference movement feel. A no-op while the
// pipeline is inactive.
func (w *World) ApplyInput(handle int, buttons uint16) {
	if !w.active || handle < 0 || handle >= len(w.players) {
		return
	}
	body := &w.bodies[w.players[handle]]

	right := buttons&InputRight != 0
	left := buttons&InputLeft != 0
	up := buttons&InputUp != 0
	down := buttons&InputDown != 0

	var horizontal, vertical int32
	if right && !left {
		horizontal = 1
	} else if left && !right {
		horizontal = -1
	}
	if up && !down {
		vertical = 1
	} else if down && !up {
		vertical = -1
	}

	if horizontal != 0 {
		body.VX = clampSpeed(body.VX + horizontal*moveAccel)
	} else {
		body.VX = 0
	}
	if vertical != 0 {
		body.VY = clampSpeed(body.VY + vertical*moveAccel)
	} else {
		body.VY = 0
	}
}

// Step advances the world exactly one tick: gravity, integration, then
// collision against static geometry and dynamic pairs, all in fixed body
// order. A no-op while the pipeline is inactive.
func (w *World) Step() {
	if !w.active {
		return
	}
	w.tick++
	w.totalSteps++

	for i := range w.bodies {
		body := &w.bodies[i]
		if body.Kind != BodyDynamic {
			continue
		}
		if body.Gravity {
			body.VY = clampSpeed(body.VY - gravity)
		}
		body.X += body.VX
		body.Y += body.VY
	}

	// Static collision first so dynamic pairs resolve against settled
	// positions. Both passes run in ascending index order every tick.
	for i := range w.bodies {
		dyn := &w.bodies[i]
		if dyn.Kind != BodyDynamic {
			continue
		}
		for j := range w.bodies {
			if w.bodies[j].Kind != BodyStatic {
				continue
			}
			resolveStatic(dyn, &w.bodies[j])
		}
	}

	for i := range w.bodies {
		if w.bodies[i].Kind != BodyDynamic {
			continue
		}
		for j := i + 1; j < len(w.bodies); j++ {
			if w.bodies[j].Kind != BodyDynamic {
				continue
			}
			resolveDynamic(&w.bodies[i], &w.bodies[j])
		}
	}
}

// resolveStatic pushes a dynamic body out of a static box along the shallow
// axis, reflecting or zeroing the velocity component.
func resolveStatic(dyn, stat *Body) {
	dx := dyn.X - stat.X
	dy := dyn.Y - stat.Y
	px := stat.HalfW + dyn.HalfW - abs32(dx)
	py := stat.HalfH + dyn.HalfH - abs32(dy)
	if px <= 0 || py <= 0 {
		return
	}

	if px < py {
		if dx < 0 {
			dyn.X -= px
		} else {
			dyn.X += px
		}
		dyn.VX = bounce(dyn.VX, dyn.Bouncy)
	} else {
		if dy < 0 {
			dyn.Y -= py
		} else {
			dyn.Y += py
		}
		dyn.VY = bounce(dyn.VY, dyn.Bouncy)
	}
}

// resolveDynamic separates two overlapping dynamic bodies symmetrically and
// swaps the velocity component along the collision axis.
func resolveDynamic(a, b *Body) {
	dx := b.X - a.X
	dy := b.Y - a.Y
	px := a.HalfW + b.HalfW - abs32(dx)
	py := a.HalfH + b.HalfH - abs32(dy)
	if px <= 0 || py <= 0 {
		return
	}

	if px < py {
		half := px / 2
		if dx < 0 {
			a.X += half
			b.X -= px - half
		} else {
			a.X -= half
			b.X += px - half
		}
		a.VX, b.VX = b.VX, a.VX
	} else {
		half := py / 2
		if dy < 0 {
			a.Y += half
			b.Y -= py - half
		} else {
			a.Y -= half
			b.Y += py - half
		}
		a.VY, b.VY = b.VY, a.VY
	}
}

func bounce(v int32, bouncy bool) int32 {
	if bouncy {
		return -v
	}
	return 0
}

func clampSpeed(v int32) int32 {
	if v > maxSpeed {
		return maxSpeed
	}
	if v < -maxSpeed {
		return -maxSpeed
	}
	return v
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
