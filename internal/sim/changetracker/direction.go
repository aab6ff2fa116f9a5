package changetracker

import "fmt"

// Direction is the axis a recorded cell was moved along. The content now at
// the cell is understood to have come from the opposite side.
type Direction uint8

const (
	DirNone Direction = iota
	DirXPos
	DirXNeg
	DirYPos
	DirYNeg
	DirZPos
	DirZNeg
)

var directionNames = [...]string{
	DirNone: "NONE",
	DirXPos: "X_POS",
	DirXNeg: "X_NEG",
	DirYPos: "Y_POS",
	DirYNeg: "Y_NEG",
	DirZPos: "Z_POS",
	DirZNeg: "Z_NEG",
}

// DirectionOf maps a unit offset to a Direction. The first non-zero axis in
// x, y, z order wins; anything else is DirNone.
func DirectionOf(dx, dy, dz int) Direction {
	switch {
	case dx == 1:
		return DirXPos
	case dx == -1:
		return DirXNeg
	case dy == 1:
		return DirYPos
	case dy == -1:
		return DirYNeg
	case dz == 1:
		return DirZPos
	case dz == -1:
		return DirZNeg
	}
	return DirNone
}

func (d Direction) Offset() (dx, dy, dz int) {
	switch d {
	case DirXPos:
		return 1, 0, 0
	case DirXNeg:
		return -1, 0, 0
	case DirYPos:
		return 0, 1, 0
	case DirYNeg:
		return 0, -1, 0
	case DirZPos:
		return 0, 0, 1
	case DirZNeg:
		return 0, 0, -1
	}
	return 0, 0, 0
}

func (d Direction) String() string {
	if int(d) < len(directionNames) {
		return directionNames[d]
	}
	return fmt.Sprintf("Direction(%d)", uint8(d))
}

func ParseDirection(s string) (Direction, error) {
	if s == "" {
		return DirNone, nil
	}
	for i, name := range directionNames {
		if name == s {
			return Direction(i), nil
		}
	}
	return DirNone, fmt.Errorf("unknown direction %q", s)
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}
