package observerproto

import "voxelhistory.ai/internal/sim/changetracker"

// Version is the observer protocol version (separate from the change API).
const Version = "0.1"

// Client -> Server. First message on the observer WS connection, and can be re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Optional: only report changes of these worlds. Empty means all.
	WorldIDs []string `json:"world_ids,omitempty"`
	// MaxChanges caps the change summaries per TICK message.
	MaxChanges int `json:"max_changes,omitempty"`
}

// HTTP response for GET /v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string        `json:"protocol_version"`
	Tick            int           `json:"tick"`
	TickRateHz      int           `json:"tick_rate_hz"`
	Tracker         TrackerParams `json:"tracker"`
	Worlds          []WorldInfo   `json:"worlds"`
	BlockPalette    []string      `json:"block_palette"`
}

type TrackerParams struct {
	RetentionTicks       int `json:"retention_ticks"`
	ExpirySweepThreshold int `json:"expiry_sweep_threshold"`
	ActivityResolution   int `json:"activity_resolution"`
}

type WorldInfo struct {
	WorldID     string `json:"world_id"`
	Name        string `json:"name"`
	Height      int    `json:"height"`
	GroundLevel int    `json:"ground_level"`
	BoundaryR   int    `json:"boundary_r"`
}

// Server -> Client. Sent every tick.
type TickMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            int    `json:"tick"`

	Tracker changetracker.Stats `json:"tracker"`
	Changes []ChangeSummary     `json:"changes,omitempty"`
	// Truncated is set when more changes happened than MaxChanges allowed.
	Truncated bool `json:"truncated,omitempty"`
	Swept     int  `json:"swept,omitempty"`
}

type ChangeSummary struct {
	ChangeID  uint64 `json:"change_id"`
	WorldID   string `json:"world_id"`
	Type      string `json:"type"`
	Direction string `json:"direction,omitempty"`
	Cells     int    `json:"cells"`
}
