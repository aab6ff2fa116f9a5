package changetracker

// CellState is an opaque snapshot of a cell, produced and interpreted by the
// CellStateProvider.
type CellState any

// Entry records the state of one cell before a change. Its validity interval
// is [Tick, NextEntryTick), where NextEntryTick < 0 means still open.
//
// Callers must treat entries handed out by the Tracker as read-only.
type Entry struct {
	ID            uint64
	Tick          int
	X, Y, Z       int
	Direction     Direction
	PreviousState CellState
	NextEntryTick int
}

func newEntry(id uint64, tick, x, y, z int, dir Direction, prev CellState) *Entry {
	return &Entry{
		ID:            id,
		Tick:          tick,
		X:             x,
		Y:             y,
		Z:             z,
		Direction:     dir,
		PreviousState: prev,
		NextEntryTick: -1,
	}
}

// Open reports whether no newer entry exists for the same cell.
func (e *Entry) Open() bool {
	return e.NextEntryTick < 0
}

// OverlapsValidity reports whether the validity intervals of e and other
// intersect, with an open end treated as +inf.
func (e *Entry) OverlapsValidity(other *Entry) bool {
	switch {
	case e.Open() && other.Open():
		return true
	case e.Open():
		return e.Tick < other.NextEntryTick
	case other.Open():
		return other.Tick < e.NextEntryTick
	default:
		return e.Tick < other.NextEntryTick && other.Tick < e.NextEntryTick
	}
}

// Equal compares the identifying fields only; the previous state and the
// interval end are ignored.
func (e *Entry) Equal(other *Entry) bool {
	if e == nil || other == nil {
		return e == other
	}
	return e.ID == other.ID && e.Tick == other.Tick &&
		e.X == other.X && e.Y == other.Y && e.Z == other.Z &&
		e.Direction == other.Direction
}

func (e *Entry) Coord() Coord {
	return Coord{X: e.X, Y: e.Y, Z: e.Z}
}
