package indexdb

import (
	"context"
	"path/filepath"
	"testing"

	"voxelhistory.ai/internal/protocol"
	"voxelhistory.ai/internal/sim/catalogs"
	"voxelhistory.ai/internal/sim/host"
	"voxelhistory.ai/internal/sim/tuning"
)

const worldA = "6f1c2a8e-3b1d-4c55-9a7e-0d2b7c1e9f10"

func pushRecord(id uint64, tick int) host.ChangeRecord {
	pusher := [3]int{-1, 65, 0}
	return host.ChangeRecord{
		Tick:     tick,
		ChangeID: id,
		WorldID:  worldA,
		Type:     protocol.TypePush,
		Cells:    3,
		Event: protocol.ChangeEvent{
			Type:      protocol.TypePush,
			WorldID:   worldA,
			Pusher:    &pusher,
			Direction: "X_POS",
			Moved:     [][3]int{{0, 65, 0}},
		},
	}
}

func placeRecord(id uint64, tick int, world string, pos [3]int) host.ChangeRecord {
	return host.ChangeRecord{
		Tick:     tick,
		ChangeID: id,
		WorldID:  world,
		Type:     protocol.TypePlace,
		Cells:    1,
		Event: protocol.ChangeEvent{
			Type:    protocol.TypePlace,
			WorldID: world,
			Cells:   []protocol.CellWrite{{Pos: pos, Block: "STONE"}},
		},
	}
}

func TestSQLiteIndex_ChangesAndSweeps(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index.sqlite")
	idx, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	idx.RecordChange(placeRecord(1, 10, worldA, [3]int{1, 65, 0}))
	idx.RecordChange(pushRecord(2, 11))
	idx.RecordChange(placeRecord(3, 12, "2b8e4d7a-91c3-4f0e-8a55-3c6d1e7f2a90", [3]int{1, 65, 0}))
	idx.RecordSweep(host.SweepRecord{Tick: 95, Dropped: 4, Entries: 1, Partitions: 1})
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Records after close are ignored.
	idx.RecordChange(placeRecord(4, 13, worldA, [3]int{0, 0, 0}))

	idx, err = OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()
	ctx := context.Background()

	if n, err := idx.CountChanges(ctx, ""); err != nil || n != 3 {
		t.Fatalf("count=%d err=%v", n, err)
	}
	if n, _ := idx.CountChanges(ctx, worldA); n != 2 {
		t.Fatalf("world count=%d want=2", n)
	}
	// (1,65,0) is the place target and the push destination.
	ids, err := idx.ChangesAt(ctx, worldA, [3]int{1, 65, 0})
	if err != nil || len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("ids=%v err=%v", ids, err)
	}
	if ids, _ = idx.ChangesAt(ctx, worldA, [3]int{-1, 65, 0}); len(ids) != 1 || ids[0] != 2 {
		t.Fatalf("pusher ids=%v", ids)
	}

	var dir string
	var cells int
	if err := idx.db.QueryRowContext(ctx, `SELECT direction, cells FROM changes WHERE change_id = 2`).Scan(&dir, &cells); err != nil {
		t.Fatalf("select: %v", err)
	}
	if dir != "X_POS" || cells != 3 {
		t.Fatalf("direction=%s cells=%d", dir, cells)
	}
	var dropped int
	if err := idx.db.QueryRowContext(ctx, `SELECT dropped FROM sweeps WHERE tick = 95`).Scan(&dropped); err != nil || dropped != 4 {
		t.Fatalf("dropped=%d err=%v", dropped, err)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqChange}

	s.RecordChange(placeRecord(1, 1, worldA, [3]int{}))
	s.RecordSweep(host.SweepRecord{Tick: 1})

	st := s.Stats()
	if st.DropChangeTotal != 1 {
		t.Fatalf("DropChangeTotal=%d want=1", st.DropChangeTotal)
	}
	if st.DropSweepTotal != 1 {
		t.Fatalf("DropSweepTotal=%d want=1", st.DropSweepTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_UpsertCatalogs(t *testing.T) {
	cats, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("catalogs: %v", err)
	}
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer idx.Close()
	if err := idx.UpsertCatalogs("../../../configs", cats, tuning.Defaults()); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	// Idempotent.
	if err := idx.UpsertCatalogs("../../../configs", cats, tuning.Defaults()); err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	var n int
	if err := idx.db.QueryRow(`SELECT COUNT(*) FROM catalogs`).Scan(&n); err != nil || n != 3 {
		t.Fatalf("catalog rows=%d err=%v", n, err)
	}
	var digest string
	if err := idx.db.QueryRow(`SELECT digest FROM catalogs WHERE name = 'blocks_palette'`).Scan(&digest); err != nil || digest != cats.Blocks.PaletteDigest {
		t.Fatalf("digest=%s err=%v", digest, err)
	}
}

func TestChangeCells_DedupesPushRun(t *testing.T) {
	r := pushRecord(1, 1)
	r.Event.Moved = [][3]int{{0, 65, 0}, {1, 65, 0}}
	cells := changeCells(r)
	// pusher, 0, 1, 2
	if len(cells) != 4 || cells[3].pos != [3]int{2, 65, 0} {
		t.Fatalf("cells=%+v", cells)
	}
}
