package changetracker

// ActivityIndex counts live entries per coarse cell. It answers "did anything
// change around here" without touching the per-cell history.
type ActivityIndex struct {
	resolution int
	counts     map[Coord]int
}

func NewActivityIndex(resolution int) *ActivityIndex {
	if resolution <= 0 {
		resolution = DefaultActivityResolution
	}
	return &ActivityIndex{
		resolution: resolution,
		counts:     map[Coord]int{},
	}
}

func (a *ActivityIndex) Resolution() int { return a.resolution }

// Coarse maps a fine coordinate to its coarse cell. Division truncates
// toward zero on every axis.
func (a *ActivityIndex) Coarse(x, y, z int) Coord {
	return Coord{X: x / a.resolution, Y: y / a.resolution, Z: z / a.resolution}
}

// Add adjusts the counter of the coarse cell containing (x,y,z) by n and
// returns the new count. Cells reaching zero or below are dropped.
func (a *ActivityIndex) Add(x, y, z, n int) int {
	k := a.Coarse(x, y, z)
	c := a.counts[k] + n
	if c <= 0 {
		delete(a.counts, k)
		return c
	}
	a.counts[k] = c
	return c
}

func (a *ActivityIndex) Count(x, y, z int) int {
	return a.counts[a.Coarse(x, y, z)]
}

func (a *ActivityIndex) ContainsCoarse(cx, cy, cz int) bool {
	_, ok := a.counts[Coord{X: cx, Y: cy, Z: cz}]
	return ok
}

func (a *ActivityIndex) Len() int { return len(a.counts) }

// AnyWithin reports whether a counted coarse cell lies in the inclusive
// coarse range. It walks the counters, not the range.
func (a *ActivityIndex) AnyWithin(minCX, minCY, minCZ, maxCX, maxCY, maxCZ int) bool {
	for k := range a.counts {
		if k.X >= minCX && k.X <= maxCX && k.Y >= minCY && k.Y <= maxCY && k.Z >= minCZ && k.Z <= maxCZ {
			return true
		}
	}
	return false
}

func (a *ActivityIndex) Clear() {
	clear(a.counts)
}
