package tuning

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"voxelhistory.ai/internal/sim/changetracker"
)

type Tuning struct {
	TickRateHz int `yaml:"tick_rate_hz"`

	Tracker TrackerTuning `yaml:"tracker"`
	Host    HostTuning    `yaml:"host"`
	Worlds  []WorldSpec   `yaml:"worlds"`
}

type TrackerTuning struct {
	RetentionTicks       int `yaml:"retention_ticks"`
	ExpirySweepThreshold int `yaml:"expiry_sweep_threshold"`
	ActivityResolution   int `yaml:"activity_resolution"`
}

type HostTuning struct {
	InboxSize int `yaml:"inbox_size"`
	// MaxEventsPerTick bounds how many submitted change events one step drains.
	MaxEventsPerTick int `yaml:"max_events_per_tick"`
	// MaxQueryExtent is the longest box edge, in blocks, a ground or
	// activity query may cover.
	MaxQueryExtent float64 `yaml:"max_query_extent"`
}

type WorldSpec struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Seed        int64  `yaml:"seed"`
	Height      int    `yaml:"height"`
	GroundLevel int    `yaml:"ground_level"`
	BoundaryR   int    `yaml:"boundary_r"`
}

// PartitionID parses the world id. Validate guarantees it parses.
func (w WorldSpec) PartitionID() uuid.UUID {
	id, _ := uuid.Parse(w.ID)
	return id
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz: 20,
		Tracker: TrackerTuning{
			RetentionTicks:       changetracker.DefaultRetentionTicks,
			ExpirySweepThreshold: changetracker.DefaultExpirySweepThreshold,
			ActivityResolution:   changetracker.DefaultActivityResolution,
		},
		Host: HostTuning{
			InboxSize:        1024,
			MaxEventsPerTick: 256,
			MaxQueryExtent:   256,
		},
		Worlds: []WorldSpec{
			{
				ID:          "6f1c2a8e-3b1d-4c55-9a7e-0d2b7c1e9f10",
				Name:        "OVERWORLD",
				Seed:        1337,
				Height:      256,
				GroundLevel: 64,
				BoundaryR:   4000,
			},
		},
	}
}

// Load reads tuning.yaml on top of Defaults. An empty path yields the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		t.Normalize()
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t *Tuning) Normalize() {
	d := Defaults()
	if t.TickRateHz <= 0 {
		t.TickRateHz = d.TickRateHz
	}
	if t.Tracker.RetentionTicks <= 0 {
		t.Tracker.RetentionTicks = d.Tracker.RetentionTicks
	}
	if t.Tracker.ExpirySweepThreshold <= 0 {
		t.Tracker.ExpirySweepThreshold = d.Tracker.ExpirySweepThreshold
	}
	if t.Tracker.ActivityResolution <= 0 {
		t.Tracker.ActivityResolution = d.Tracker.ActivityResolution
	}
	if t.Host.InboxSize <= 0 {
		t.Host.InboxSize = d.Host.InboxSize
	}
	if t.Host.MaxEventsPerTick <= 0 {
		t.Host.MaxEventsPerTick = d.Host.MaxEventsPerTick
	}
	if !(t.Host.MaxQueryExtent > 0) {
		t.Host.MaxQueryExtent = d.Host.MaxQueryExtent
	}
	for i := range t.Worlds {
		w := &t.Worlds[i]
		w.ID = strings.ToLower(strings.TrimSpace(w.ID))
		w.Name = strings.TrimSpace(w.Name)
		if w.Name == "" {
			w.Name = w.ID
		}
		if w.Height <= 0 {
			w.Height = 256
		}
	}
}

func (t Tuning) Validate() error {
	if len(t.Worlds) == 0 {
		return fmt.Errorf("worlds is empty")
	}
	seen := map[string]bool{}
	for _, w := range t.Worlds {
		if _, err := uuid.Parse(w.ID); err != nil {
			return fmt.Errorf("world %q: id: %w", w.Name, err)
		}
		if seen[w.ID] {
			return fmt.Errorf("duplicate world id %s", w.ID)
		}
		seen[w.ID] = true
		if w.GroundLevel < 0 || w.GroundLevel >= w.Height {
			return fmt.Errorf("world %s: ground_level %d outside [0,%d)", w.ID, w.GroundLevel, w.Height)
		}
		if w.BoundaryR < 0 {
			return fmt.Errorf("world %s: boundary_r must be >= 0", w.ID)
		}
	}
	if t.Tracker.ActivityResolution > 1<<16 {
		return fmt.Errorf("tracker.activity_resolution too large: %d", t.Tracker.ActivityResolution)
	}
	return nil
}

func (t Tuning) TrackerConfig() changetracker.Config {
	return changetracker.Config{
		RetentionTicks:       t.Tracker.RetentionTicks,
		ExpirySweepThreshold: t.Tracker.ExpirySweepThreshold,
		ActivityResolution:   t.Tracker.ActivityResolution,
	}
}

func (t Tuning) World(id uuid.UUID) (WorldSpec, bool) {
	for _, w := range t.Worlds {
		if w.PartitionID() == id {
			return w, true
		}
	}
	return WorldSpec{}, false
}
