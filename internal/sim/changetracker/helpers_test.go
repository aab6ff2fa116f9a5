package changetracker

import (
	"testing"

	"github.com/google/uuid"
)

type fakeProvider struct {
	states map[Coord]CellState
	maxY   int
	ground func(x, y, z int, node, above CellState) GroundResult

	calls    int
	bound    []PartitionID
	released int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{states: map[Coord]CellState{}, maxY: 255}
}

func (p *fakeProvider) CurrentState(x, y, z int) CellState {
	if s, ok := p.states[Coord{X: x, Y: y, Z: z}]; ok {
		return s
	}
	return "air"
}

func (p *fakeProvider) GroundContact(_ Box, _ uint64, x, y, z int, node, above CellState) GroundResult {
	p.calls++
	if p.ground != nil {
		return p.ground(x, y, z, node, above)
	}
	switch node {
	case "yes":
		return GroundYes
	case "maybe", "air":
		return GroundMaybe
	}
	return GroundNo
}

func (p *fakeProvider) MaxHeight() int { return p.maxY }

func (p *fakeProvider) Bind(id PartitionID) { p.bound = append(p.bound, id) }
func (p *fakeProvider) Release()            { p.released++ }

var testWorld = uuid.MustParse("6f1c2a8e-3b1d-4c55-9a7e-0d2b7c1e9f10")

func newTestTracker(start int) (*Tracker, *TickCounter) {
	clock := NewTickCounter(start)
	return New(DefaultConfig(), clock, nil), clock
}

func historyAt(tr *Tracker, id PartitionID, c Coord) []*Entry {
	node := tr.worlds[id]
	if node == nil {
		return nil
	}
	h, ok := node.blocks.Get(c)
	if !ok {
		return nil
	}
	return h.entries
}

// record sets the current state of c and records it as a neutral change at tick.
func record(t *testing.T, tr *Tracker, clock *TickCounter, p *fakeProvider, tick int, c Coord, state CellState) uint64 {
	clock.Set(tick)
	p.states[c] = state
	t.Helper()
	id, err := tr.RecordNeutralCells(p, testWorld, []Coord{c})
	if err != nil {
		t.Fatalf("RecordNeutralCells: %v", err)
	}
	return id
}
