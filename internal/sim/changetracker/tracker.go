// Package changetracker keeps a short, time windowed history of cell changes
// per partition, so movement checks can be answered against the state cells
// had a few ticks ago (pushed cells, dug or placed cells and so on).
//
// Entries are recorded before the world applies a change, so the provider
// still returns the old state at that point. History older than the retention
// window is dropped unconditionally, partly lazily on access and partly by a
// periodic sweep.
//
// A Tracker is not safe for concurrent use. It is owned by the simulation loop.
package changetracker

import (
	"bytes"
	"errors"
	"io"
	"log"
	"sort"
)

const (
	DefaultRetentionTicks       = 80
	DefaultExpirySweepThreshold = 500
	DefaultActivityResolution   = 32
)

var ErrNoProvider = errors.New("changetracker: no cell state provider")

type Config struct {
	// RetentionTicks is the maximum age of an entry.
	RetentionTicks int
	// ExpirySweepThreshold is the partition size from which SweepExpired walks
	// every cell instead of relying on lazy expiration.
	ExpirySweepThreshold int
	// ActivityResolution is the edge length of a coarse activity cell.
	ActivityResolution int
}

func DefaultConfig() Config {
	return Config{
		RetentionTicks:       DefaultRetentionTicks,
		ExpirySweepThreshold: DefaultExpirySweepThreshold,
		ActivityResolution:   DefaultActivityResolution,
	}
}

func (c *Config) normalize() {
	if c.RetentionTicks <= 0 {
		c.RetentionTicks = DefaultRetentionTicks
	}
	if c.ExpirySweepThreshold <= 0 {
		c.ExpirySweepThreshold = DefaultExpirySweepThreshold
	}
	if c.ActivityResolution <= 0 {
		c.ActivityResolution = DefaultActivityResolution
	}
}

type Tracker struct {
	cfg   Config
	clock Clock
	log   *log.Logger

	maxChangeID uint64
	worlds      map[PartitionID]*worldNode
}

func New(cfg Config, clock Clock, logger *log.Logger) *Tracker {
	cfg.normalize()
	if clock == nil {
		clock = NewTickCounter(0)
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Tracker{
		cfg:    cfg,
		clock:  clock,
		log:    logger,
		worlds: map[PartitionID]*worldNode{},
	}
}

// RecordPushedCells records the cells touched by a push along dir: the pusher
// itself (if any), every moved cell and the cell each one moves into. All
// entries share one change id, which is returned.
func (t *Tracker) RecordPushedCells(provider CellStateProvider, id PartitionID, pusher *Coord, dir Direction, moved []Coord) (uint64, error) {
	if provider == nil {
		return 0, ErrNoProvider
	}
	var batch cellBatch
	if pusher != nil {
		batch.add(*pusher)
	}
	for _, c := range moved {
		batch.add(c)
		batch.add(c.Relative(dir))
	}
	return t.recordBatch(provider, id, dir, batch.cells)
}

// RecordNeutralCells records past states without a moving direction. All
// cells are assumed to belong to partition id. Duplicates are ignored; an
// empty list records nothing and returns 0.
func (t *Tracker) RecordNeutralCells(provider CellStateProvider, id PartitionID, cells []Coord) (uint64, error) {
	if provider == nil {
		return 0, ErrNoProvider
	}
	var batch cellBatch
	for _, c := range cells {
		batch.add(c)
	}
	return t.recordBatch(provider, id, DirNone, batch.cells)
}

// cellBatch collects distinct cells in first-seen order. It lives for one
// record call only.
type cellBatch struct {
	seen  map[Coord]struct{}
	cells []Coord
}

func (b *cellBatch) add(c Coord) {
	if b.seen == nil {
		b.seen = map[Coord]struct{}{}
	}
	if _, ok := b.seen[c]; ok {
		return
	}
	b.seen[c] = struct{}{}
	b.cells = append(b.cells, c)
}

func (t *Tracker) recordBatch(provider CellStateProvider, id PartitionID, dir Direction, cells []Coord) (uint64, error) {
	if len(cells) == 0 {
		return 0, nil
	}
	tick := t.clock.Now()
	node := t.getOrCreateWorldNode(id, tick)
	t.maxChangeID++
	changeID := t.maxChangeID

	if binder, ok := provider.(AccessBinder); ok {
		binder.Bind(id)
		defer binder.Release()
	}
	for _, c := range cells {
		t.addChange(node, changeID, tick, c.X, c.Y, c.Z, dir, provider.CurrentState(c.X, c.Y, c.Z))
	}
	return changeID, nil
}

func (t *Tracker) getOrCreateWorldNode(id PartitionID, tick int) *worldNode {
	node := t.worlds[id]
	if node == nil {
		node = newWorldNode(id, t.cfg.ActivityResolution)
		t.worlds[id] = node
		return node
	}
	if node.lastChangeTick < tick-t.cfg.RetentionTicks {
		node.clear()
	}
	return node
}

// addChange appends one entry. The previous tail is closed before the new
// entry is appended, so a sequence is never left with two open entries.
// A cell changed again within the same tick keeps its first entry only.
func (t *Tracker) addChange(node *worldNode, changeID uint64, tick, x, y, z int, dir Direction, prev CellState) {
	node.lastChangeTick = tick
	c := Coord{X: x, Y: y, Z: z}
	h, ok := node.blocks.GetMoveToTail(c)
	if !ok {
		h = &cellHistory{}
		node.blocks.Put(c, h)
	} else if !h.empty() {
		olderThan := tick - t.cfg.RetentionTicks
		if h.entries[0].Tick < olderThan {
			t.dropExpired(node, h, c, olderThan)
		}
		if last := h.last(); last != nil {
			if last.Tick == tick {
				// The tail already holds the state from the start of this
				// tick. States in between are never observable.
				return
			}
			last.NextEntryTick = tick
		}
	}
	h.entries = append(h.entries, newEntry(changeID, tick, x, y, z, dir, prev))
	node.activity.Add(x, y, z, 1)
	node.size++
}

// dropExpired removes the expired prefix of h and keeps the partition size
// and activity counters in step. It does not remove the cell itself.
func (t *Tracker) dropExpired(node *worldNode, h *cellHistory, c Coord, olderThanTick int) int {
	n := h.expireBefore(olderThanTick)
	if n == 0 {
		return 0
	}
	node.size -= n
	if left := node.activity.Add(c.X, c.Y, c.Z, -n); left < 0 {
		t.log.Printf("activity counter below zero at %d,%d,%d (world %s): %d", c.X, c.Y, c.Z, node.id, left)
	}
	return n
}

// validWorldNode returns the node for id, dropping it first if nothing
// changed within the retention window.
func (t *Tracker) validWorldNode(tick int, id PartitionID) *worldNode {
	node := t.worlds[id]
	if node == nil {
		return nil
	}
	if node.lastChangeTick < tick-t.cfg.RetentionTicks {
		node.clear()
		delete(t.worlds, id)
		return nil
	}
	return node
}

// validEntries returns the live entries of one cell after lazy expiration,
// or nil. Cells and partitions left empty are removed.
func (t *Tracker) validEntries(tick int, node *worldNode, x, y, z int) []*Entry {
	c := Coord{X: x, Y: y, Z: z}
	h, ok := node.blocks.Get(c)
	if !ok {
		return nil
	}
	t.dropExpired(node, h, c, tick-t.cfg.RetentionTicks)
	if !h.empty() {
		return h.entries
	}
	node.blocks.Remove(c)
	if node.size <= 0 {
		node.clear()
		delete(t.worlds, node.id)
	}
	return nil
}

// FindEntry returns the first live entry at (x,y,z) accepted by ref (if
// given) and moved along dir (if given), or nil.
func (t *Tracker) FindEntry(ref ValidityFilter, tick int, id PartitionID, x, y, z int, dir *Direction) *Entry {
	node := t.validWorldNode(tick, id)
	if node == nil {
		return nil
	}
	for _, e := range t.validEntries(tick, node, x, y, z) {
		if ref != nil && !ref.Accepts(e) {
			continue
		}
		if dir != nil && e.Direction != *dir {
			continue
		}
		return e
	}
	return nil
}

// SweepExpired drops stale partitions and, for partitions at or above the
// sweep threshold, expires every cell. Meant to run once per tick.
func (t *Tracker) SweepExpired(currentTick int) {
	olderThan := currentTick - t.cfg.RetentionTicks
	for id, node := range t.worlds {
		if node.lastChangeTick < olderThan {
			node.clear()
			delete(t.worlds, id)
			continue
		}
		if node.size < t.cfg.ExpirySweepThreshold {
			continue
		}
		node.blocks.Each(func(c Coord, h *cellHistory) bool {
			if !h.empty() && h.entries[0].Tick < olderThan {
				t.dropExpired(node, h, c, olderThan)
			}
			if h.empty() {
				node.blocks.Remove(c)
			}
			return true
		})
		if node.size <= 0 {
			node.clear()
			delete(t.worlds, id)
		}
	}
}

// Clear drops all history. Change ids keep increasing.
func (t *Tracker) Clear() {
	for _, node := range t.worlds {
		node.clear()
	}
	clear(t.worlds)
}

// Size is the number of stored entries across all partitions.
func (t *Tracker) Size() int {
	n := 0
	for _, node := range t.worlds {
		n += node.size
	}
	return n
}

func (t *Tracker) RetentionTicks() int { return t.cfg.RetentionTicks }

func (t *Tracker) SetRetentionTicks(ticks int) {
	if ticks <= 0 {
		ticks = DefaultRetentionTicks
	}
	t.cfg.RetentionTicks = ticks
}

func (t *Tracker) ExpirySweepThreshold() int { return t.cfg.ExpirySweepThreshold }

func (t *Tracker) SetExpirySweepThreshold(size int) {
	if size <= 0 {
		size = DefaultExpirySweepThreshold
	}
	t.cfg.ExpirySweepThreshold = size
}

func (t *Tracker) ActivityResolution() int { return t.cfg.ActivityResolution }

func (t *Tracker) LastChangeID() uint64 { return t.maxChangeID }

type Stats struct {
	Partitions    int    `json:"partitions"`
	Entries       int    `json:"entries"`
	Cells         int    `json:"cells"`
	ActivityCells int    `json:"activity_cells"`
	LastChangeID  uint64 `json:"last_change_id"`
}

func (t *Tracker) Stats() Stats {
	s := Stats{
		Partitions:   len(t.worlds),
		LastChangeID: t.maxChangeID,
	}
	for _, node := range t.worlds {
		s.Entries += node.size
		s.Cells += node.blocks.Len()
		s.ActivityCells += node.activity.Len()
	}
	return s
}

// Partitions returns the ids of all partitions currently holding history,
// in byte order.
func (t *Tracker) Partitions() []PartitionID {
	out := make([]PartitionID, 0, len(t.worlds))
	for id := range t.worlds {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}
