package host

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"voxelhistory.ai/internal/observerproto"
	"voxelhistory.ai/internal/protocol"
	"voxelhistory.ai/internal/sim/changetracker"
)

// step simulates one tick: apply queued changes in order, sweep expired
// history, then publish. The clock advances last so every change applied in
// this step carries the same tick.
func (h *Host) step(reqs []changeReq) {
	start := time.Now()
	tick := h.clock.Now()
	h.tickChanges = h.tickChanges[:0]

	for _, r := range reqs {
		res, err := h.apply(tick, r.ev)
		if err != nil {
			h.rejected++
			if h.metrics != nil {
				h.metrics.ChangeRejected(ErrorCode(err))
			}
		}
		if r.reply != nil {
			r.reply <- changeResp{res: res, err: err}
		}
	}

	swept := h.sweep(tick)
	st := h.tracker.Stats()
	h.stats.Store(&Stats{
		Tick:      tick,
		Tracker:   st,
		Applied:   h.applied,
		Rejected:  h.rejected,
		Observers: len(h.observers),
	})
	h.broadcastTick(tick, st, swept)
	if h.metrics != nil {
		h.metrics.ObserveTick(tick, st, time.Since(start))
	}
	h.clock.Advance()
}

func (h *Host) apply(tick int, ev protocol.ChangeEvent) (protocol.ChangeResult, error) {
	if err := ev.Check(); err != nil {
		return protocol.ChangeResult{}, fmt.Errorf("%w: %v", ErrBadEvent, err)
	}
	id, _ := uuid.Parse(ev.WorldID)
	w := h.worlds[id]
	if w == nil {
		return protocol.ChangeResult{}, fmt.Errorf("%w: %s", ErrUnknownPartition, ev.WorldID)
	}

	var (
		changeID uint64
		cells    int
		dir      changetracker.Direction
		err      error
	)
	switch ev.Type {
	case protocol.TypePush:
		changeID, cells, dir, err = h.applyPush(w, ev)
	case protocol.TypePlace:
		changeID, cells, err = h.applyPlace(w, ev)
	}
	if err != nil {
		return protocol.ChangeResult{}, err
	}
	if perr := w.provider.Err(); perr != nil {
		h.log.Printf("tick %d: %v", tick, perr)
	}

	h.applied++
	rec := ChangeRecord{
		Tick:     tick,
		ChangeID: changeID,
		WorldID:  ev.WorldID,
		Type:     ev.Type,
		Cells:    cells,
		Event:    ev,
	}
	if h.changeLogger != nil {
		if err := h.changeLogger.WriteChange(rec); err != nil {
			h.log.Printf("journal change %d: %v", changeID, err)
		}
	}
	if h.indexer != nil {
		h.indexer.RecordChange(rec)
	}
	if h.metrics != nil {
		h.metrics.ChangeApplied(ev.Type, cells)
	}
	sum := observerproto.ChangeSummary{ChangeID: changeID, WorldID: id.String(), Type: ev.Type, Cells: cells}
	if dir != changetracker.DirNone {
		sum.Direction = dir.String()
	}
	h.tickChanges = append(h.tickChanges, sum)

	return protocol.ChangeResult{ChangeID: changeID, Tick: tick, WorldID: ev.WorldID, Cells: cells}, nil
}

// applyPush records the pre-push state of every touched cell, then moves the
// blocks one step along the direction. Sources that are not refilled by
// another moved block become air.
func (h *Host) applyPush(w *worldState, ev protocol.ChangeEvent) (uint64, int, changetracker.Direction, error) {
	dir, err := changetracker.ParseDirection(ev.Direction)
	if err != nil || dir == changetracker.DirNone {
		return 0, 0, changetracker.DirNone, fmt.Errorf("%w: direction %q", ErrBadEvent, ev.Direction)
	}

	touched := map[changetracker.Coord]struct{}{}
	var pusher *changetracker.Coord
	if ev.Pusher != nil {
		c := toCoord(*ev.Pusher)
		if !w.store.InBounds(c.X, c.Y, c.Z) {
			return 0, 0, dir, fmt.Errorf("%w: pusher %v", ErrOutOfBounds, *ev.Pusher)
		}
		pusher = &c
		touched[c] = struct{}{}
	}
	moved := make([]changetracker.Coord, 0, len(ev.Moved))
	for _, p := range ev.Moved {
		src := toCoord(p)
		dst := src.Relative(dir)
		if !w.store.InBounds(src.X, src.Y, src.Z) || !w.store.InBounds(dst.X, dst.Y, dst.Z) {
			return 0, 0, dir, fmt.Errorf("%w: moved %v", ErrOutOfBounds, p)
		}
		moved = append(moved, src)
		touched[src] = struct{}{}
		touched[dst] = struct{}{}
	}

	changeID, err := h.tracker.RecordPushedCells(w.provider, w.id, pusher, dir, moved)
	if err != nil {
		return 0, 0, dir, err
	}

	air := h.blocks.Index["AIR"]
	blocks := make([]uint16, len(moved))
	for i, c := range moved {
		blocks[i] = w.store.GetBlock(c.X, c.Y, c.Z)
	}
	for _, c := range moved {
		w.store.SetBlock(c.X, c.Y, c.Z, air)
	}
	for i, c := range moved {
		d := c.Relative(dir)
		w.store.SetBlock(d.X, d.Y, d.Z, blocks[i])
	}
	return changeID, len(touched), dir, nil
}

// applyPlace resolves every block first so a bad write leaves no trace.
func (h *Host) applyPlace(w *worldState, ev protocol.ChangeEvent) (uint64, int, error) {
	ids := make([]uint16, len(ev.Cells))
	cells := make([]changetracker.Coord, len(ev.Cells))
	touched := map[changetracker.Coord]struct{}{}
	for i, cw := range ev.Cells {
		id, ok := h.blocks.Index[cw.Block]
		if !ok {
			return 0, 0, fmt.Errorf("%w: %q", ErrUnknownBlock, cw.Block)
		}
		c := toCoord(cw.Pos)
		if !w.store.InBounds(c.X, c.Y, c.Z) {
			return 0, 0, fmt.Errorf("%w: %v", ErrOutOfBounds, cw.Pos)
		}
		ids[i] = id
		cells[i] = c
		touched[c] = struct{}{}
	}

	changeID, err := h.tracker.RecordNeutralCells(w.provider, w.id, cells)
	if err != nil {
		return 0, 0, err
	}
	// Later writes to the same cell win.
	for i, c := range cells {
		w.store.SetBlock(c.X, c.Y, c.Z, ids[i])
	}
	return changeID, len(touched), nil
}

// sweep runs the periodic expiration and reports what it removed.
func (h *Host) sweep(tick int) int {
	before := h.tracker.Size()
	h.tracker.SweepExpired(tick)
	after := h.tracker.Stats()
	dropped := before - after.Entries
	if dropped <= 0 {
		return 0
	}
	if h.indexer != nil {
		h.indexer.RecordSweep(SweepRecord{
			Tick:       tick,
			Dropped:    dropped,
			Entries:    after.Entries,
			Partitions: after.Partitions,
		})
	}
	if h.metrics != nil {
		h.metrics.Swept(dropped)
	}
	return dropped
}
