package changetracker

import "fmt"

// GroundResult is the outcome of a ground contact test for one cell pair.
type GroundResult uint8

const (
	// GroundNo: the box does not rest on this cell pair.
	GroundNo GroundResult = iota
	// GroundYes: the box rests on this cell pair.
	GroundYes
	// GroundMaybe: inconclusive here; cells further down may still count.
	GroundMaybe
)

func (r GroundResult) String() string {
	switch r {
	case GroundNo:
		return "NO"
	case GroundYes:
		return "YES"
	case GroundMaybe:
		return "MAYBE"
	}
	return fmt.Sprintf("GroundResult(%d)", uint8(r))
}

// CellStateProvider is the authoritative world model for a partition.
type CellStateProvider interface {
	// CurrentState returns the state of a cell before any in-progress
	// mutation has been applied to it.
	CurrentState(x, y, z int) CellState

	// GroundContact decides whether box rests on the cell at (x,y,z), given
	// the state of that cell and of the cell above it. ignoreFlags is passed
	// through unchanged from the caller.
	GroundContact(box Box, ignoreFlags uint64, x, y, z int, node, nodeAbove CellState) GroundResult

	MaxHeight() int
}

// AccessBinder is implemented by providers that need to be attached to a
// partition while the tracker reads states from them.
type AccessBinder interface {
	Bind(id PartitionID)
	Release()
}

// ValidityFilter decides whether a recorded entry may be used to answer a
// query, typically by comparing it against what was already consumed.
type ValidityFilter interface {
	Accepts(e *Entry) bool
}

// SpanRecorder is implemented by filters that want to learn which entries
// made a ground search succeed.
type SpanRecorder interface {
	UpdateSpan(e *Entry)
}
