package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	persistlog "voxelhistory.ai/internal/persistence/log"
	"voxelhistory.ai/internal/protocol"
	"voxelhistory.ai/internal/sim/catalogs"
	"voxelhistory.ai/internal/sim/host"
	"voxelhistory.ai/internal/sim/tuning"
)

func main() {
	var (
		dataDir    = flag.String("data", "./data", "data dir containing changes/changes-*.jsonl.zst")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		validate   = flag.Bool("validate", true, "check every journaled event against the change schema")
		toTick     = flag.Int("to_tick", 0, "stop after this tick (inclusive, optional)")
	)
	flag.Parse()

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load catalogs:", err)
		os.Exit(1)
	}
	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load tuning:", err)
		os.Exit(1)
	}

	files, err := persistlog.ListChangeFiles(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list journal:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no change journal found in", *dataDir)
		os.Exit(1)
	}

	r := newReplayer(host.ConfigFromTuning(tune, &cats.Blocks), &cats.Blocks)
	r.validate = *validate
	r.toTick = *toTick
	sum, err := r.run(files)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: changes=%d ticks=%d..%d entries=%d partitions=%d cells=%d last_change_id=%d\n",
		sum.Changes, sum.FirstTick, sum.LastTick,
		sum.Stats.Tracker.Entries, sum.Stats.Tracker.Partitions, sum.Stats.Tracker.Cells, sum.Stats.Tracker.LastChangeID)
}

type summary struct {
	Changes   int
	FirstTick int
	LastTick  int
	Stats     host.Stats
}

// replayer feeds journaled changes into a fresh host one tick at a time and
// checks that every change gets the same id and cell count again.
type replayer struct {
	cfg    host.Config
	blocks *catalogs.BlockCatalog

	validate bool
	toTick   int

	h       *host.Host
	pending []host.ChangeRecord
	sum     summary
}

func newReplayer(cfg host.Config, blocks *catalogs.BlockCatalog) *replayer {
	return &replayer{cfg: cfg, blocks: blocks}
}

var errStop = errors.New("stop")

func (r *replayer) run(files []string) (summary, error) {
	for _, path := range files {
		err := persistlog.ReadChanges(path, r.add)
		if errors.Is(err, errStop) {
			break
		}
		if err != nil {
			return r.sum, err
		}
	}
	if err := r.flush(); err != nil {
		return r.sum, err
	}
	if r.h == nil {
		return r.sum, fmt.Errorf("journal holds no changes")
	}
	r.sum.Stats = r.h.Stats()
	return r.sum, nil
}

func (r *replayer) add(rec host.ChangeRecord) error {
	if r.toTick != 0 && rec.Tick > r.toTick {
		return errStop
	}
	if r.validate {
		raw, err := json.Marshal(rec.Event)
		if err != nil {
			return err
		}
		if _, err := protocol.ValidateChangeEvent(raw); err != nil {
			return fmt.Errorf("change %d: %w", rec.ChangeID, err)
		}
	}
	if r.h == nil {
		cfg := r.cfg
		cfg.StartTick = rec.Tick
		h, err := host.New(cfg, r.blocks, nil)
		if err != nil {
			return err
		}
		r.h = h
		r.sum.FirstTick = rec.Tick
	}
	if len(r.pending) > 0 && r.pending[0].Tick != rec.Tick {
		if err := r.flush(); err != nil {
			return err
		}
	}
	r.pending = append(r.pending, rec)
	return nil
}

// flush steps empty ticks up to the pending tick, then applies the pending
// changes as one step.
func (r *replayer) flush() error {
	if len(r.pending) == 0 {
		return nil
	}
	tick := r.pending[0].Tick
	if tick < r.h.CurrentTick() {
		return fmt.Errorf("journal out of order: tick %d after %d", tick, r.h.CurrentTick()-1)
	}
	for r.h.CurrentTick() < tick {
		r.h.StepOnce(nil)
	}
	events := make([]protocol.ChangeEvent, len(r.pending))
	for i, rec := range r.pending {
		events[i] = rec.Event
	}
	_, results := r.h.StepOnce(events)
	for i, res := range results {
		want := r.pending[i]
		if res.Err != nil {
			return fmt.Errorf("change %d at tick %d: %w", want.ChangeID, tick, res.Err)
		}
		if res.Result.ChangeID != want.ChangeID || res.Result.Cells != want.Cells {
			return fmt.Errorf("change %d at tick %d: replayed id=%d cells=%d want cells=%d",
				want.ChangeID, tick, res.Result.ChangeID, res.Result.Cells, want.Cells)
		}
	}
	r.sum.Changes += len(r.pending)
	r.sum.LastTick = tick
	r.pending = r.pending[:0]
	return nil
}
