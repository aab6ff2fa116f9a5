package changetracker

import "sort"

// groundProbeMargin extends the search below the box, so a box hovering by a
// typical collision epsilon still finds the cell it stands on.
const groundProbeMargin = 0.5626

// candidate is one possible state of a cell during a ground search. A nil
// entry stands for the current state of a cell without recorded history.
type candidate struct {
	entry *Entry
	state CellState
}

func (c candidate) overlaps(o candidate) bool {
	if c.entry == nil || o.entry == nil {
		return true
	}
	return c.entry.OverlapsValidity(o.entry)
}

// groundCursor enumerates the (cell, cell above) candidate pairs for one
// column position. Scratch state for a single WasOnGround call.
type groundCursor struct {
	provider CellStateProvider
	ref      ValidityFilter

	// Raw live history for the current cell and the cell above it.
	entries      []*Entry
	entriesAbove []*Entry

	nodes      []candidate
	nodesAbove []candidate
	i, j       int
}

func (g *groundCursor) setEntries(entries []*Entry)      { g.entries = entries }
func (g *groundCursor) setEntriesAbove(entries []*Entry) { g.entriesAbove = entries }

func (g *groundCursor) hasAnyEntries() bool {
	return len(g.entries) > 0 || len(g.entriesAbove) > 0
}

// moveDown makes the current cell the cell above for the next lower level.
func (g *groundCursor) moveDown() {
	g.entriesAbove = g.entries
	g.entries = nil
}

// init builds the candidate lists for (x,y,z) and positions the cursor on
// the first overlapping pair. It reports false if there is none.
func (g *groundCursor) init(x, y, z int) bool {
	g.nodes = g.candidates(g.nodes[:0], g.entries, x, y, z)
	g.nodesAbove = g.candidates(g.nodesAbove[:0], g.entriesAbove, x, y+1, z)
	g.i, g.j = 0, -1
	return g.advance()
}

func (g *groundCursor) candidates(out []candidate, entries []*Entry, x, y, z int) []candidate {
	if len(entries) == 0 {
		return append(out, candidate{state: g.provider.CurrentState(x, y, z)})
	}
	for _, e := range entries {
		if g.ref != nil && !g.ref.Accepts(e) {
			continue
		}
		out = append(out, candidate{entry: e, state: e.PreviousState})
	}
	return out
}

// advance moves to the next pair whose validity intervals overlap. Pairs
// are visited in time order: above varies fastest.
func (g *groundCursor) advance() bool {
	for g.i < len(g.nodes) {
		for g.j++; g.j < len(g.nodesAbove); g.j++ {
			if g.nodes[g.i].overlaps(g.nodesAbove[g.j]) {
				return true
			}
		}
		g.i++
		g.j = -1
	}
	return false
}

func (g *groundCursor) node() CellState      { return g.nodes[g.i].state }
func (g *groundCursor) nodeAbove() CellState { return g.nodesAbove[g.j].state }

// recordSpan tells the filter which entries made the search succeed.
func (g *groundCursor) recordSpan() {
	rec, ok := g.ref.(SpanRecorder)
	if !ok {
		return
	}
	if e := g.nodes[g.i].entry; e != nil {
		rec.UpdateSpan(e)
	}
	if e := g.nodesAbove[g.j].entry; e != nil {
		rec.UpdateSpan(e)
	}
}

func (g *groundCursor) clear() {
	g.entries = nil
	g.entriesAbove = nil
	clear(g.nodes)
	clear(g.nodesAbove)
	g.nodes = g.nodes[:0]
	g.nodesAbove = g.nodesAbove[:0]
}

// WasOnGround reports whether some combination of recorded past states in
// the columns below box would have let it rest on ground. It is meant as a
// second opinion after the box was found not on ground with current states;
// without any recorded history it returns false.
//
// Each column is walked from the top. A level where every pair answers NO
// ends that column; a MAYBE moves on to the level below. The walk assumes
// solidity is decided from the top down, the same contract the real time
// ground test follows.
func (t *Tracker) WasOnGround(provider CellStateProvider, ref ValidityFilter, tick int, id PartitionID, box Box, ignoreFlags uint64) bool {
	if provider == nil || !box.Finite() {
		return false
	}
	node := t.validWorldNode(tick, id)
	if node == nil {
		return false
	}
	maxY := provider.MaxHeight()
	iMinX, _ := blockOf(box.MinX)
	iMaxX, _ := blockOf(box.MaxX)
	iMinY, _ := blockOf(box.MinY - groundProbeMargin)
	iMaxY, _ := blockOf(box.MaxY)
	iMaxY = min(iMaxY, maxY)
	iMinZ, _ := blockOf(box.MinZ)
	iMaxZ, _ := blockOf(box.MaxZ)
	if iMinX > iMaxX || iMinY > iMaxY || iMinZ > iMaxZ {
		return false
	}

	g := groundCursor{provider: provider, ref: ref}
	defer g.clear()
	if spanExceeds(iMaxX-iMinX+1, iMaxZ-iMinZ+1, iMaxY-iMinY+1, node.blocks.Len()) {
		// Only columns with history can answer YES, and only down to one
		// level below their lowest entry.
		for _, col := range historyColumns(node, iMinX, iMinY, iMinZ, iMaxX, iMaxY+1, iMaxZ) {
			if t.groundColumn(&g, node, tick, box, ignoreFlags, col.x, col.z, max(iMinY, col.lowY-1), iMaxY) {
				return true
			}
		}
		return false
	}
	for x := iMinX; x <= iMaxX; x++ {
		for z := iMinZ; z <= iMaxZ; z++ {
			if t.groundColumn(&g, node, tick, box, ignoreFlags, x, z, iMinY, iMaxY) {
				return true
			}
		}
	}
	return false
}

// groundColumn walks one column from maxY down to minY.
func (t *Tracker) groundColumn(g *groundCursor, node *worldNode, tick int, box Box, ignoreFlags uint64, x, z, minY, maxY int) bool {
	g.setEntriesAbove(t.validEntries(tick, node, x, maxY+1, z))
	for y := maxY; y >= minY; y-- {
		g.setEntries(t.validEntries(tick, node, x, y, z))
		if !g.hasAnyEntries() || !g.init(x, y, z) {
			// No history here is no proof of no ground below.
			g.moveDown()
			continue
		}
		maybe := false
		for ok := true; ok; ok = g.advance() {
			switch g.provider.GroundContact(box, ignoreFlags, x, y, z, g.node(), g.nodeAbove()) {
			case GroundYes:
				g.recordSpan()
				return true
			case GroundMaybe:
				maybe = true
			case GroundNo:
			}
		}
		if !maybe {
			return false
		}
		g.moveDown()
	}
	return false
}

type historyColumn struct {
	x, z int
	lowY int
}

// historyColumns lists the columns holding history within the range, in the
// same x then z order as the dense walk.
func historyColumns(node *worldNode, minX, minY, minZ, maxX, maxY, maxZ int) []historyColumn {
	low := map[[2]int]int{}
	node.blocks.Each(func(c Coord, _ *cellHistory) bool {
		if c.X < minX || c.X > maxX || c.Z < minZ || c.Z > maxZ || c.Y < minY || c.Y > maxY {
			return true
		}
		k := [2]int{c.X, c.Z}
		if y, ok := low[k]; !ok || c.Y < y {
			low[k] = c.Y
		}
		return true
	})
	cols := make([]historyColumn, 0, len(low))
	for k, y := range low {
		cols = append(cols, historyColumn{x: k[0], z: k[1], lowY: y})
	}
	sort.Slice(cols, func(i, j int) bool {
		if cols[i].x != cols[j].x {
			return cols[i].x < cols[j].x
		}
		return cols[i].z < cols[j].z
	})
	return cols
}
