package protocol

import (
	"fmt"

	"github.com/google/uuid"
)

// MaxCellsPerChange bounds moved cells plus written cells of one event.
const MaxCellsPerChange = 4096

// PUSH / PLACE (client -> server)
//
// A PUSH moves every cell in Moved one step along Direction; Pusher, if set,
// is the cell that caused the push. A PLACE overwrites Cells with new blocks.
type ChangeEvent struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version,omitempty"`
	WorldID         string      `json:"world_id"`
	Pusher          *[3]int     `json:"pusher,omitempty"`
	Direction       string      `json:"direction,omitempty"`
	Moved           [][3]int    `json:"moved,omitempty"`
	Cells           []CellWrite `json:"cells,omitempty"`
}

type CellWrite struct {
	Pos   [3]int `json:"pos"`
	Block string `json:"block"`
}

// Check validates what the schema cannot express.
func (e ChangeEvent) Check() error {
	if _, err := uuid.Parse(e.WorldID); err != nil {
		return fmt.Errorf("world_id: %w", err)
	}
	switch e.Type {
	case TypePush:
		if e.Direction == "" || e.Direction == "NONE" {
			return fmt.Errorf("push without direction")
		}
		if e.Pusher == nil && len(e.Moved) == 0 {
			return fmt.Errorf("push without cells")
		}
		if len(e.Cells) > 0 {
			return fmt.Errorf("push must not carry cells")
		}
	case TypePlace:
		if len(e.Cells) == 0 {
			return fmt.Errorf("place without cells")
		}
		if len(e.Moved) > 0 || e.Pusher != nil {
			return fmt.Errorf("place must not carry moved cells")
		}
	default:
		return fmt.Errorf("unknown type %q", e.Type)
	}
	if n := len(e.Moved) + len(e.Cells); n > MaxCellsPerChange {
		return fmt.Errorf("too many cells: %d > %d", n, MaxCellsPerChange)
	}
	return nil
}

// ChangeResult acknowledges an applied change.
type ChangeResult struct {
	ChangeID uint64 `json:"change_id"`
	Tick     int    `json:"tick"`
	WorldID  string `json:"world_id"`
	Cells    int    `json:"cells"`
}

type GroundQueryResult struct {
	WorldID  string `json:"world_id"`
	Tick     int    `json:"tick"`
	OnGround bool   `json:"on_ground"`
}

type ActivityQueryResult struct {
	WorldID string `json:"world_id"`
	Tick    int    `json:"tick"`
	Active  bool   `json:"active"`
}

// EntryView is the wire form of one recorded cell change.
type EntryView struct {
	ID            uint64 `json:"id"`
	Tick          int    `json:"tick"`
	Pos           [3]int `json:"pos"`
	Direction     string `json:"direction"`
	PreviousBlock string `json:"previous_block"`
	NextEntryTick int    `json:"next_entry_tick"`
}

type EntryQueryResult struct {
	WorldID string     `json:"world_id"`
	Tick    int        `json:"tick"`
	Entry   *EntryView `json:"entry"`
}
