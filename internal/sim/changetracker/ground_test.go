package changetracker

import (
	"math"
	"testing"
)

// standingBox is a player sized box resting on top of cell (0,64,0).
var standingBox = Box{MinX: 0.2, MinY: 65, MinZ: 0.2, MaxX: 0.8, MaxY: 66.8, MaxZ: 0.8}

func TestWasOnGround_NoHistory(t *testing.T) {
	tr, clock := newTestTracker(0)
	p := newFakeProvider()
	if tr.WasOnGround(p, nil, 0, testWorld, standingBox, 0) {
		t.Fatalf("unknown partition must not be on ground")
	}

	record(t, tr, clock, p, 1, Coord{X: 50, Y: 64, Z: 50}, "yes")
	if tr.WasOnGround(p, nil, 1, testWorld, standingBox, 0) {
		t.Fatalf("column without history must not be on ground")
	}
	if p.calls != 0 {
		t.Fatalf("GroundContact calls=%d want=0", p.calls)
	}
	if tr.WasOnGround(nil, nil, 1, testWorld, standingBox, 0) {
		t.Fatalf("nil provider must not be on ground")
	}
}

func TestWasOnGround_MaybeThenYes(t *testing.T) {
	tr, clock := newTestTracker(0)
	p := newFakeProvider()
	c := Coord{X: 0, Y: 64, Z: 0}
	record(t, tr, clock, p, 1, c, "maybe")
	idYes := record(t, tr, clock, p, 2, c, "yes")

	ref := &Reference{}
	if !tr.WasOnGround(p, ref, 2, testWorld, standingBox, 0) {
		t.Fatalf("expected ground from the second past state")
	}
	if p.calls != 2 {
		t.Fatalf("GroundContact calls=%d want=2", p.calls)
	}
	if !ref.HasSpan() || ref.LastSpan().ID != idYes || ref.FirstSpan().ID != idYes {
		t.Fatalf("span first=%v last=%v want id %d", ref.FirstSpan(), ref.LastSpan(), idYes)
	}
}

// A level where every pair answers NO ends the column, even when a lower
// level would have answered YES. This mirrors the top down contract of the
// real time ground test.
func TestWasOnGround_AllNoEndsColumn(t *testing.T) {
	tr, clock := newTestTracker(0)
	p := newFakeProvider()
	record(t, tr, clock, p, 1, Coord{X: 0, Y: 64, Z: 0}, "yes")
	record(t, tr, clock, p, 2, Coord{X: 0, Y: 65, Z: 0}, "stone")

	if tr.WasOnGround(p, nil, 2, testWorld, standingBox, 0) {
		t.Fatalf("all NO at y=65 should end the column")
	}
	if p.calls != 1 {
		t.Fatalf("GroundContact calls=%d want=1", p.calls)
	}
}

func TestWasOnGround_MaybeDescends(t *testing.T) {
	tr, clock := newTestTracker(0)
	p := newFakeProvider()
	idYes := record(t, tr, clock, p, 1, Coord{X: 0, Y: 64, Z: 0}, "yes")
	idMaybe := record(t, tr, clock, p, 2, Coord{X: 0, Y: 65, Z: 0}, "maybe")

	var seenAbove []CellState
	p.ground = func(x, y, z int, node, above CellState) GroundResult {
		if y == 64 {
			seenAbove = append(seenAbove, above)
		}
		switch node {
		case "yes":
			return GroundYes
		case "maybe", "air":
			return GroundMaybe
		}
		return GroundNo
	}

	ref := &Reference{}
	if !tr.WasOnGround(p, ref, 2, testWorld, standingBox, 0) {
		t.Fatalf("MAYBE at y=65 should descend to YES at y=64")
	}
	if len(seenAbove) != 1 || seenAbove[0] != "maybe" {
		t.Fatalf("above states at y=64: %v want [maybe]", seenAbove)
	}
	if ref.FirstSpan().ID != idYes || ref.LastSpan().ID != idMaybe {
		t.Fatalf("span=%d..%d want %d..%d", ref.FirstSpan().ID, ref.LastSpan().ID, idYes, idMaybe)
	}
}

func TestWasOnGround_SkipsDisjointIntervals(t *testing.T) {
	tr, clock := newTestTracker(0)
	p := newFakeProvider()
	p.ground = func(x, y, z int, node, above CellState) GroundResult {
		switch {
		case node == "yes" && above == "open":
			return GroundYes
		case node == "stone":
			return GroundNo
		}
		return GroundMaybe
	}
	c := Coord{X: 0, Y: 64, Z: 0}
	record(t, tr, clock, p, 1, c, "yes")   // valid [1,2)
	record(t, tr, clock, p, 2, c, "stone") // valid [2,...)
	record(t, tr, clock, p, 3, Coord{X: 0, Y: 65, Z: 0}, "open")

	if tr.WasOnGround(p, nil, 3, testWorld, standingBox, 0) {
		t.Fatalf("yes@[1,2) never coexisted with open@[3,...)")
	}
	// One call at y=65, one for the only overlapping pair at y=64.
	if p.calls != 2 {
		t.Fatalf("GroundContact calls=%d want=2", p.calls)
	}
}

func TestWasOnGround_UnchangedNeighbourUsesCurrentState(t *testing.T) {
	tr, clock := newTestTracker(0)
	p := newFakeProvider()
	p.states[Coord{X: 0, Y: 65, Z: 0}] = "open"
	p.ground = func(x, y, z int, node, above CellState) GroundResult {
		if node == "yes" && above == "open" {
			return GroundYes
		}
		return GroundMaybe
	}
	record(t, tr, clock, p, 1, Coord{X: 0, Y: 64, Z: 0}, "yes")

	// y=65 itself has no history, so the walk passes it without a call.
	if !tr.WasOnGround(p, nil, 1, testWorld, standingBox, 0) {
		t.Fatalf("expected ground combining history with the current state above")
	}
}

func TestWasOnGround_ScansEveryColumn(t *testing.T) {
	tr, clock := newTestTracker(0)
	p := newFakeProvider()
	record(t, tr, clock, p, 1, Coord{X: 1, Y: 64, Z: 0}, "yes")

	wide := standingBox
	wide.MaxX = 1.3
	if !tr.WasOnGround(p, nil, 1, testWorld, wide, 0) {
		t.Fatalf("history in the second column should be found")
	}
	if tr.WasOnGround(p, nil, 1, testWorld, standingBox, 0) {
		t.Fatalf("box confined to x=0 must not see column x=1")
	}
}

func TestWasOnGround_ReferenceConsumesEntries(t *testing.T) {
	tr, clock := newTestTracker(0)
	p := newFakeProvider()
	record(t, tr, clock, p, 1, Coord{X: 0, Y: 64, Z: 0}, "yes")

	ref := &Reference{}
	if !tr.WasOnGround(p, ref, 1, testWorld, standingBox, 0) {
		t.Fatalf("first use should succeed")
	}
	ref.UpdateFinal()
	if !tr.WasOnGround(p, ref, 1, testWorld, standingBox, 0) {
		t.Fatalf("still valid reference should accept the same change")
	}
	ref.UpdateFinal()
	ref.Invalidate()
	if tr.WasOnGround(p, ref, 1, testWorld, standingBox, 0) {
		t.Fatalf("invalidated reference must not reuse the change")
	}
}

func TestWasOnGround_Bounds(t *testing.T) {
	tr, clock := newTestTracker(0)
	p := newFakeProvider()
	p.maxY = 10
	record(t, tr, clock, p, 1, Coord{X: 0, Y: 9, Z: 0}, "yes")

	high := Box{MinX: 0.2, MinY: 100, MinZ: 0.2, MaxX: 0.8, MaxY: 101.8, MaxZ: 0.8}
	if tr.WasOnGround(p, nil, 1, testWorld, high, 0) {
		t.Fatalf("box above max height must not be on ground")
	}
	// Tall box clipped to max height still reaches the top cell.
	tall := Box{MinX: 0.2, MinY: 10, MinZ: 0.2, MaxX: 0.8, MaxY: 40, MaxZ: 0.8}
	if !tr.WasOnGround(p, nil, 1, testWorld, tall, 0) {
		t.Fatalf("expected ground at y=9")
	}
	if tr.WasOnGround(p, nil, 200, testWorld, tall, 0) {
		t.Fatalf("expired history must not be on ground")
	}
}

// A cell changed twice in one tick keeps the state it had when the tick
// began, so the standing pair at that tick is still found.
func TestWasOnGround_SameTickChangeKeepsTickStartState(t *testing.T) {
	tr, clock := newTestTracker(0)
	p := newFakeProvider()
	c := Coord{X: 0, Y: 64, Z: 0}
	id := record(t, tr, clock, p, 5, c, "yes")
	record(t, tr, clock, p, 5, c, "stone")
	record(t, tr, clock, p, 5, Coord{X: 0, Y: 65, Z: 0}, "open")

	p.ground = func(x, y, z int, node, above CellState) GroundResult {
		switch {
		case node == "yes" && above == "open":
			return GroundYes
		case node == "open":
			return GroundMaybe
		}
		return GroundNo
	}
	if !tr.WasOnGround(p, nil, 5, testWorld, standingBox, 0) {
		t.Fatalf("expected ground from the state at the start of tick 5")
	}
	hist := historyAt(tr, testWorld, c)
	if len(hist) != 1 {
		t.Fatalf("entries=%d want=1", len(hist))
	}
	if hist[0].PreviousState != "yes" || hist[0].ID != id || !hist[0].Open() {
		t.Fatalf("entry=%+v want state=yes id=%d open", hist[0], id)
	}
}

func TestWasOnGround_UnboundedBoxes(t *testing.T) {
	tr, clock := newTestTracker(0)
	p := newFakeProvider()
	record(t, tr, clock, p, 1, Coord{X: 0, Y: 64, Z: 0}, "yes")

	for _, box := range []Box{
		{MinX: math.NaN(), MinY: 65, MinZ: 0.2, MaxX: 0.8, MaxY: 66.8, MaxZ: 0.8},
		{MinX: math.Inf(-1), MinY: 65, MinZ: 0.2, MaxX: math.Inf(1), MaxY: 66.8, MaxZ: 0.8},
	} {
		if tr.WasOnGround(p, nil, 1, testWorld, box, 0) {
			t.Fatalf("non finite box %+v reported ground", box)
		}
	}
	if p.calls != 0 {
		t.Fatalf("GroundContact calls=%d want=0", p.calls)
	}

	// A box far wider than the history only visits columns that have one.
	huge := Box{MinX: -1e12, MinY: 65, MinZ: -1e12, MaxX: 1e12, MaxY: 66.8, MaxZ: 1e12}
	if !tr.WasOnGround(p, nil, 1, testWorld, huge, 0) {
		t.Fatalf("huge box should find the recorded column")
	}
	if p.calls != 1 {
		t.Fatalf("GroundContact calls=%d want=1", p.calls)
	}
	beside := Box{MinX: 1.2, MinY: 65, MinZ: -1e12, MaxX: 1e12, MaxY: 66.8, MaxZ: 1e12}
	if tr.WasOnGround(p, nil, 1, testWorld, beside, 0) {
		t.Fatalf("box beside the recorded column reported ground")
	}
}
