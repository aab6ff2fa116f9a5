package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"voxelhistory.ai/internal/sim/catalogs"
	"voxelhistory.ai/internal/sim/changetracker"
	"voxelhistory.ai/internal/sim/host"
	"voxelhistory.ai/internal/sim/tuning"
)

// SQLiteIndex is a queryable secondary index of applied changes. Writes are
// queued and committed in batches by a single writer goroutine; the JSONL
// journal remains the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropChange atomic.Uint64
	dropSweep  atomic.Uint64
}

type reqKind int

const (
	reqChange reqKind = iota + 1
	reqSweep
)

type req struct {
	kind reqKind

	change host.ChangeRecord
	sweep  host.SweepRecord
}

type Stats struct {
	QueueDepth      int    `json:"queue_depth"`
	QueueCapacity   int    `json:"queue_capacity"`
	DropChangeTotal uint64 `json:"drop_change_total"`
	DropSweepTotal  uint64 `json:"drop_sweep_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS changes (
			change_id INTEGER PRIMARY KEY,
			tick INTEGER NOT NULL,
			world_id TEXT NOT NULL,
			type TEXT NOT NULL,
			direction TEXT,
			cells INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_changes_world_tick ON changes(world_id, tick);`,
		`CREATE TABLE IF NOT EXISTS change_cells (
			change_id INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			block TEXT,
			PRIMARY KEY (change_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_change_cells_pos ON change_cells(x, z, y);`,
		`CREATE TABLE IF NOT EXISTS sweeps (
			tick INTEGER PRIMARY KEY,
			dropped INTEGER NOT NULL,
			entries INTEGER NOT NULL,
			partitions INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:      len(s.ch),
		QueueCapacity:   cap(s.ch),
		DropChangeTotal: s.dropChange.Load(),
		DropSweepTotal:  s.dropSweep.Load(),
	}
}

// RecordChange never blocks; records are dropped if the writer falls behind.
func (s *SQLiteIndex) RecordChange(r host.ChangeRecord) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqChange, change: r}:
	default:
		s.dropChange.Add(1)
	}
}

func (s *SQLiteIndex) RecordSweep(r host.SweepRecord) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqSweep, sweep: r}:
	default:
		s.dropSweep.Add(1)
	}
}

// UpsertCatalogs stores the block catalog and the applied tuning so an index
// can be read without the config directory it was produced with.
func (s *SQLiteIndex) UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if configDir != "" {
		if b, err := os.ReadFile(filepath.Join(configDir, "blocks.json")); err == nil && len(b) > 0 {
			rows = append(rows, kv{name: "blocks_defs", digest: cats.Blocks.DefsDigest, json: b})
		}
	}
	if b, _ := json.Marshal(cats.Blocks.Palette); len(b) > 0 {
		rows = append(rows, kv{name: "blocks_palette", digest: cats.Blocks.PaletteDigest, json: b})
	}
	// Tuning: store the values we actually apply (canonical JSON).
	{
		b, _ := json.Marshal(tune)
		sum := sha256.Sum256(b)
		rows = append(rows, kv{name: "tuning", digest: hex.EncodeToString(sum[:]), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.name == "" || r.digest == "" || len(r.json) == 0 {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CountChanges returns the number of indexed changes, optionally limited to
// one world.
func (s *SQLiteIndex) CountChanges(ctx context.Context, worldID string) (int, error) {
	var n int
	var err error
	if worldID == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM changes`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM changes WHERE world_id = ?`, worldID).Scan(&n)
	}
	return n, err
}

// ChangesAt returns the ids of changes that touched pos in world, oldest
// first.
func (s *SQLiteIndex) ChangesAt(ctx context.Context, worldID string, pos [3]int) ([]uint64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT c.change_id FROM change_cells cc
		JOIN changes c ON c.change_id = cc.change_id
		WHERE c.world_id = ? AND cc.x = ? AND cc.y = ? AND cc.z = ?
		ORDER BY c.change_id`, worldID, pos[0], pos[1], pos[2])
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uint64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, uint64(id))
	}
	return out, rows.Err()
}

type cellRow struct {
	pos   [3]int
	block string
}

// changeCells lists the distinct positions touched by an event: the pusher,
// moved cells and their destinations, or written cells with their new block.
func changeCells(r host.ChangeRecord) []cellRow {
	ev := r.Event
	out := make([]cellRow, 0, 2*len(ev.Moved)+len(ev.Cells)+1)
	seen := map[[3]int]int{}
	add := func(pos [3]int, block string) {
		if i, ok := seen[pos]; ok {
			if block != "" {
				out[i].block = block
			}
			return
		}
		seen[pos] = len(out)
		out = append(out, cellRow{pos: pos, block: block})
	}
	if ev.Pusher != nil {
		add(*ev.Pusher, "")
	}
	dir, _ := changetracker.ParseDirection(ev.Direction)
	dx, dy, dz := dir.Offset()
	for _, p := range ev.Moved {
		add(p, "")
		add([3]int{p[0] + dx, p[1] + dy, p[2] + dz}, "")
	}
	for _, c := range ev.Cells {
		add(c.Pos, c.Block)
	}
	return out
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertChange, _ := s.db.Prepare(`INSERT OR REPLACE INTO changes(change_id,tick,world_id,type,direction,cells,raw_json) VALUES(?,?,?,?,?,?,?)`)
	insertCell, _ := s.db.Prepare(`INSERT OR REPLACE INTO change_cells(change_id,seq,x,y,z,block) VALUES(?,?,?,?,?,?)`)
	insertSweep, _ := s.db.Prepare(`INSERT OR REPLACE INTO sweeps(tick,dropped,entries,partitions) VALUES(?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertChange, insertCell, insertSweep} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqChange:
			c := r.change
			if insertChange == nil {
				continue
			}
			raw, _ := json.Marshal(c.Event)
			var dir any
			if c.Event.Direction != "" {
				dir = c.Event.Direction
			}
			if _, err := tx.Stmt(insertChange).Exec(
				int64(c.ChangeID),
				c.Tick,
				c.WorldID,
				c.Type,
				dir,
				c.Cells,
				string(raw),
			); err != nil {
				rollback()
				continue
			}
			opCount++
			for i, cell := range changeCells(c) {
				if insertCell == nil {
					break
				}
				var block any
				if cell.block != "" {
					block = cell.block
				}
				if _, err := tx.Stmt(insertCell).Exec(int64(c.ChangeID), i, cell.pos[0], cell.pos[1], cell.pos[2], block); err != nil {
					rollback()
					break
				}
				opCount++
			}

		case reqSweep:
			sw := r.sweep
			if insertSweep == nil {
				continue
			}
			if _, err := tx.Stmt(insertSweep).Exec(sw.Tick, sw.Dropped, sw.Entries, sw.Partitions); err != nil {
				rollback()
				continue
			}
			opCount++
		}
		flushIfNeeded()
	}

	commit()
}
