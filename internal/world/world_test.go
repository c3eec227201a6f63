package world

import (
	"bytes"
	"math/rand"
	"testing"
)

func activeWorld(numPlayers int) *World {
	w := New(numPlayers)
	w.SetActive(true)
	return w
}

func TestNewSceneShape(t *testing.T) {
	w := New(2)
	if w.Players() != 2 {
		t.Fatalf("expected 2 players, got %d", w.Players())
	}
	bodies := w.Bodies()
	// Ball + 2 players + 4 static boxes.
	if len(bodies) != 7 {
		t.Fatalf("expected 7 bodies, got %d", len(bodies))
	}
	if bodies[0].Name != "Ball" || !bodies[0].Bouncy {
		t.Fatalf("expected bouncy ball first, got %+v", bodies[0])
	}
	p1, ok := w.PlayerBody(0)
	if !ok || p1.Name != "Player 1" {
		t.Fatalf("unexpected player body %+v", p1)
	}
}

func TestStepInactiveIsNoop(t *testing.T) {
	w := New(2)
	before, err := w.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	w.Step()
	w.ApplyInput(0, InputRight)
	after, err := w.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatal("inactive world must not change state")
	}
	if w.Tick() != 0 || w.TotalSteps() != 0 {
		t.Fatal("inactive world must not count steps")
	}
}

func TestApplyInputOpposingBitsCancel(t *testing.T) {
	w := activeWorld(1)
	w.ApplyInput(0, InputLeft|InputRight)
	body, _ := w.PlayerBody(0)
	if body.VX != 0 {
		t.Fatalf("opposing horizontal bits must cancel, got VX=%d", body.VX)
	}

	w.ApplyInput(0, InputRight)
	body, _ = w.PlayerBody(0)
	if body.VX <= 0 {
		t.Fatalf("expected rightward velocity, got %d", body.VX)
	}

	// Releasing the axis zeroes it.
	w.ApplyInput(0, 0)
	body, _ = w.PlayerBody(0)
	if body.VX != 0 {
		t.Fatalf("released axis must zero velocity, got %d", body.VX)
	}
}

func TestStepDeterministic(t *testing.T) {
	script := func(w *World) []byte {
		for i := 0; i < 300; i++ {
			switch {
			case i%7 == 0:
				w.ApplyInput(0, InputRight|InputUp)
			case i%5 == 0:
				w.ApplyInput(1, InputLeft)
			default:
				w.ApplyInput(0, 0)
			}
			w.Step()
		}
		state, err := w.Serialize()
		if err != nil {
			t.Fatalf("serialize: %v", err)
		}
		return state
	}

	a := script(activeWorld(2))
	b := script(activeWorld(2))
	if !bytes.Equal(a, b) {
		t.Fatal("identical input scripts must produce identical state")
	}
}

func TestBodiesStayInsideArena(t *testing.T) {
	w := activeWorld(2)
	for i := 0; i < 2000; i++ {
		w.ApplyInput(0, InputLeft|InputDown)
		w.ApplyInput(1, InputRight|InputUp)
		w.Step()
	}
	const limit = 220 * Scale
	for _, b := range w.Bodies() {
		if b.Kind != BodyDynamic {
			continue
		}
		if abs32(b.X) > limit || abs32(b.Y) > limit {
			t.Fatalf("body %s escaped the arena at (%d, %d)", b.Name, b.X, b.Y)
		}
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for trial := 0; trial < 50; trial++ {
		w := activeWorld(2)
		steps := rng.Intn(200)
		for i := 0; i < steps; i++ {
			w.ApplyInput(rng.Intn(2), uint16(rng.Intn(16)))
			w.Step()
		}
		state, err := w.Serialize()
		if err != nil {
			t.Fatalf("serialize: %v", err)
		}

		restored := activeWorld(2)
		if err := restored.Restore(state); err != nil {
			t.Fatalf("restore: %v", err)
		}
		if restored.Tick() != w.Tick() {
			t.Fatalf("tick mismatch: %d vs %d", restored.Tick(), w.Tick())
		}
		got := restored.Bodies()
		want := w.Bodies()
		for i := range want {
			if got[i].X != want[i].X || got[i].Y != want[i].Y ||
				got[i].VX != want[i].VX || got[i].VY != want[i].VY {
				t.Fatalf("trial %d: body %s diverged after round trip: %+v vs %+v",
					trial, want[i].Name, got[i], want[i])
			}
		}
	}
}

func TestRestorePreservesEngineInternals(t *testing.T) {
	w := activeWorld(1)
	for i := 0; i < 10; i++ {
		w.Step()
	}
	state, err := w.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	for i := 0; i < 5; i++ {
		w.Step()
	}

	stepsBefore := w.TotalSteps()
	if err := w.Restore(state); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if w.Tick() != 10 {
		t.Fatalf("expected serialized tick 10, got %d", w.Tick())
	}
	if w.TotalSteps() != stepsBefore {
		t.Fatal("restore must not touch the total step counter")
	}
	names := w.Bodies()
	if names[0].Name != "Ball" {
		t.Fatal("restore must not touch structural fields")
	}
}

func TestRestoreRejectsMismatchedScene(t *testing.T) {
	w := activeWorld(2)
	state, err := w.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	other := activeWorld(1)
	if err := other.Restore(state); err == nil {
		t.Fatal("expected restore to reject a different body count")
	}

	if err := w.Restore(state[:5]); err == nil {
		t.Fatal("expected restore to reject truncated state")
	}

	bad := append([]byte(nil), state...)
	bad[0] ^= 0xFF
	if err := w.Restore(bad); err == nil {
		t.Fatal("expected restore to reject unknown state version")
	}
}

func TestResetRebuildsBootScene(t *testing.T) {
	w := activeWorld(2)
	boot, err := w.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	for i := 0; i < 50; i++ {
		w.ApplyInput(0, InputRight)
		w.Step()
	}

	w.Reset()
	again, err := w.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if !bytes.Equal(boot, again) {
		t.Fatal("reset must reproduce the boot state byte for byte")
	}
	if w.Players() != 2 {
		t.Fatalf("reset lost player bodies: %d", w.Players())
	}
}
