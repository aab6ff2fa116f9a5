package changetracker

import (
	"math"

	"github.com/google/uuid"
)

// PartitionID identifies one independent world with its own coordinate space.
type PartitionID = uuid.UUID

type Coord struct {
	X, Y, Z int
}

// Relative returns the neighbouring cell one step along d.
func (c Coord) Relative(d Direction) Coord {
	dx, dy, dz := d.Offset()
	return Coord{X: c.X + dx, Y: c.Y + dy, Z: c.Z + dz}
}

// Vec3 is a continuous position, used for region queries.
type Vec3 struct {
	X, Y, Z float64
}

// Box is an axis aligned bounding box in world units.
type Box struct {
	MinX, MinY, MinZ float64
	MaxX, MaxY, MaxZ float64
}

// Finite reports whether every bound is a finite number.
func (b Box) Finite() bool {
	for _, v := range [6]float64{b.MinX, b.MinY, b.MinZ, b.MaxX, b.MaxY, b.MaxZ} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
