package host

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"voxelhistory.ai/internal/protocol"
	"voxelhistory.ai/internal/sim/catalogs"
	"voxelhistory.ai/internal/sim/changetracker"
	"voxelhistory.ai/internal/sim/terrain/store"
	"voxelhistory.ai/internal/sim/tuning"
)

var (
	ErrBusy             = errors.New("host: inbox full")
	ErrStopped          = errors.New("host: stopped")
	ErrUnknownPartition = errors.New("host: unknown partition")
	ErrUnknownBlock     = errors.New("host: unknown block")
	ErrOutOfBounds      = errors.New("host: cell out of bounds")
	ErrBadEvent         = errors.New("host: bad change event")
	ErrBadQuery         = errors.New("host: bad query")
)

// ErrorCode maps host errors to wire error codes.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBusy):
		return protocol.ErrWorldBusy
	case errors.Is(err, ErrStopped):
		return protocol.ErrStopped
	case errors.Is(err, ErrUnknownPartition):
		return protocol.ErrWorldNotFound
	case errors.Is(err, ErrUnknownBlock):
		return protocol.ErrUnknownBlock
	case errors.Is(err, ErrOutOfBounds):
		return protocol.ErrInvalidTarget
	case errors.Is(err, ErrBadEvent), errors.Is(err, ErrBadQuery):
		return protocol.ErrBadRequest
	}
	return protocol.ErrInternal
}

type WorldConfig struct {
	ID   uuid.UUID
	Name string
	Gen  store.WorldGen
}

type Config struct {
	TickRateHz       int
	InboxSize        int
	MaxEventsPerTick int
	// StartTick is the first simulated tick.
	StartTick int
	// MaxQueryExtent is the longest edge, in blocks, a query box may have
	// once its margin is added.
	MaxQueryExtent float64

	Tracker changetracker.Config
	Worlds  []WorldConfig
}

func ConfigFromTuning(t tuning.Tuning, blocks *catalogs.BlockCatalog) Config {
	base := store.GenFromCatalog(blocks)
	cfg := Config{
		TickRateHz:       t.TickRateHz,
		InboxSize:        t.Host.InboxSize,
		MaxEventsPerTick: t.Host.MaxEventsPerTick,
		MaxQueryExtent:   t.Host.MaxQueryExtent,
		Tracker:          t.TrackerConfig(),
	}
	for _, w := range t.Worlds {
		gen := base
		gen.Seed = w.Seed
		gen.Height = w.Height
		gen.GroundLevel = w.GroundLevel
		gen.BoundaryR = w.BoundaryR
		cfg.Worlds = append(cfg.Worlds, WorldConfig{ID: w.PartitionID(), Name: w.Name, Gen: gen})
	}
	return cfg
}

// ChangeRecord is one applied change event, as journaled and indexed.
type ChangeRecord struct {
	Tick     int                  `json:"tick"`
	ChangeID uint64               `json:"change_id"`
	WorldID  string               `json:"world_id"`
	Type     string               `json:"type"`
	Cells    int                  `json:"cells"`
	Event    protocol.ChangeEvent `json:"event"`
}

// SweepRecord describes one periodic sweep that removed entries.
type SweepRecord struct {
	Tick       int `json:"tick"`
	Dropped    int `json:"dropped"`
	Entries    int `json:"entries"`
	Partitions int `json:"partitions"`
}

type ChangeLogger interface {
	WriteChange(ChangeRecord) error
}

// Indexer receives records for the secondary index. Implementations must not
// block the loop.
type Indexer interface {
	RecordChange(ChangeRecord)
	RecordSweep(SweepRecord)
}

type Metrics interface {
	ObserveTick(tick int, st changetracker.Stats, d time.Duration)
	ChangeApplied(typ string, cells int)
	ChangeRejected(code string)
	Query(kind string, hit bool)
	Swept(entries int)
	InboxDropped()
}

// Stats is published once per tick and can be read from any goroutine.
type Stats struct {
	Tick      int                 `json:"tick"`
	Tracker   changetracker.Stats `json:"tracker"`
	Applied   uint64              `json:"applied"`
	Rejected  uint64              `json:"rejected"`
	Observers int                 `json:"observers"`
}

type ObserverJoinRequest struct {
	SessionID  string
	TickOut    chan []byte
	WorldIDs   []string
	MaxChanges int
}

type ObserverSubscribeRequest struct {
	SessionID  string
	WorldIDs   []string
	MaxChanges int
}

// StepResult is the outcome of one event passed to StepOnce.
type StepResult struct {
	Result protocol.ChangeResult
	Err    error
}
