package changetracker

import (
	"math"

	"voxelhistory.ai/internal/sim/logic/mathx"
)

// HasActivity reports whether any live entry was recorded in a coarse cell
// overlapping the inclusive cell range [min, max]. The answer is coarse: a
// true result only means something changed within the same activity cells.
// Bounds must be ordered; an inverted range has no activity. Large ranges
// walk the counters instead of the range.
func (t *Tracker) HasActivity(id PartitionID, minX, minY, minZ, maxX, maxY, maxZ int) bool {
	node := t.worlds[id]
	if node == nil || minX > maxX || minY > maxY || minZ > maxZ {
		return false
	}
	res := t.cfg.ActivityResolution
	minCX, minCY, minCZ := minX/res, minY/res, minZ/res
	maxCX, maxCY, maxCZ := maxX/res, maxY/res, maxZ/res
	if spanExceeds(maxCX-minCX+1, maxCY-minCY+1, maxCZ-minCZ+1, node.activity.Len()) {
		return node.activity.AnyWithin(minCX, minCY, minCZ, maxCX, maxCY, maxCZ)
	}
	for x := minCX; x <= maxCX; x++ {
		for z := minCZ; z <= maxCZ; z++ {
			for y := minCY; y <= maxCY; y++ {
				if node.activity.ContainsCoarse(x, y, z) {
					return true
				}
			}
		}
	}
	return false
}

// spanExceeds reports whether a range of dx*dy*dz coarse cells is larger than
// n, without overflowing. A non-positive span is an overflowed one.
func spanExceeds(dx, dy, dz, n int) bool {
	if dx <= 0 || dy <= 0 || dz <= 0 || dx > n || dy > n || dz > n {
		return true
	}
	if dx*dy > n {
		return true
	}
	return dx*dy*dz > n
}

// maxQueryCoord bounds world coordinates handed to the float variants, far
// beyond any world but small enough for int arithmetic on cell spans.
const maxQueryCoord = 1 << 40

// blockOf maps a world coordinate to its cell, clamped to maxQueryCoord.
// NaN has no cell.
func blockOf(v float64) (int, bool) {
	if math.IsNaN(v) {
		return 0, false
	}
	return mathx.LocToBlock(max(-maxQueryCoord, min(v, maxQueryCoord))), true
}

func (t *Tracker) hasActivityFloat(id PartitionID, x1, y1, z1, x2, y2, z2 float64) bool {
	var c [6]int
	for i, v := range [6]float64{x1, y1, z1, x2, y2, z2} {
		b, ok := blockOf(v)
		if !ok {
			return false
		}
		c[i] = b
	}
	return t.HasActivityUnordered(id, c[0], c[1], c[2], c[3], c[4], c[5])
}

// HasActivityUnordered is HasActivity for two arbitrary corner cells.
func (t *Tracker) HasActivityUnordered(id PartitionID, x1, y1, z1, x2, y2, z2 int) bool {
	minX, maxX := mathx.MinMax(x1, x2)
	minY, maxY := mathx.MinMax(y1, y2)
	minZ, maxZ := mathx.MinMax(z1, z2)
	return t.HasActivity(id, minX, minY, minZ, maxX, maxY, maxZ)
}

// HasActivityF is HasActivity for ordered world coordinates.
func (t *Tracker) HasActivityF(id PartitionID, minX, minY, minZ, maxX, maxY, maxZ float64) bool {
	return t.hasActivityFloat(id, minX, minY, minZ, maxX, maxY, maxZ)
}

// HasActivityUnorderedF is HasActivity for two arbitrary world positions.
func (t *Tracker) HasActivityUnorderedF(id PartitionID, x1, y1, z1, x2, y2, z2 float64) bool {
	return t.hasActivityFloat(id, x1, y1, z1, x2, y2, z2)
}

// HasActivityMargin expands the box spanned by two arbitrary world positions
// by margin on all sides before checking.
func (t *Tracker) HasActivityMargin(id PartitionID, x1, y1, z1, x2, y2, z2, margin float64) bool {
	minX, maxX := mathx.MinMaxF(x1, x2)
	minY, maxY := mathx.MinMaxF(y1, y2)
	minZ, maxZ := mathx.MinMaxF(z1, z2)
	return t.HasActivityF(id, minX-margin, minY-margin, minZ-margin, maxX+margin, maxY+margin, maxZ+margin)
}

// HasActivityBetween is HasActivityMargin for two positions, e.g. the start
// and end of a move.
func (t *Tracker) HasActivityBetween(id PartitionID, from, to Vec3, margin float64) bool {
	return t.HasActivityMargin(id, from.X, from.Y, from.Z, to.X, to.Y, to.Z, margin)
}

// HasActivityBox is HasActivityMargin for a bounding box.
func (t *Tracker) HasActivityBox(id PartitionID, box Box, margin float64) bool {
	return t.HasActivityMargin(id, box.MinX, box.MinY, box.MinZ, box.MaxX, box.MaxY, box.MaxZ, margin)
}
