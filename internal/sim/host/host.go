// Package host runs the simulation loop that owns the change tracker and the
// terrain of every partition. All tracker and terrain access happens on the
// loop goroutine; other goroutines talk to it through channels.
package host

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"voxelhistory.ai/internal/observerproto"
	"voxelhistory.ai/internal/protocol"
	"voxelhistory.ai/internal/sim/catalogs"
	"voxelhistory.ai/internal/sim/changetracker"
	"voxelhistory.ai/internal/sim/terrain/store"
)

type worldState struct {
	id       uuid.UUID
	name     string
	store    *store.ChunkStore
	provider *store.Provider
}

type changeReq struct {
	ev    protocol.ChangeEvent
	reply chan changeResp
}

type changeResp struct {
	res protocol.ChangeResult
	err error
}

type queryReq struct {
	fn   func()
	done chan struct{}
}

type Host struct {
	cfg    Config
	blocks *catalogs.BlockCatalog
	log    *log.Logger

	clock   *changetracker.TickCounter
	tracker *changetracker.Tracker
	worlds  map[uuid.UUID]*worldState
	order   []uuid.UUID

	inbox         chan changeReq
	queries       chan queryReq
	observerJoin  chan ObserverJoinRequest
	observerSub   chan ObserverSubscribeRequest
	observerLeave chan string
	observers     map[string]*observerClient

	stop     chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}

	changeLogger ChangeLogger
	indexer      Indexer
	metrics      Metrics

	stats       atomic.Pointer[Stats]
	applied     uint64
	rejected    uint64
	tickChanges []observerproto.ChangeSummary
}

func New(cfg Config, blocks *catalogs.BlockCatalog, logger *log.Logger) (*Host, error) {
	if blocks == nil {
		return nil, fmt.Errorf("host: nil block catalog")
	}
	if len(cfg.Worlds) == 0 {
		return nil, fmt.Errorf("host: no worlds configured")
	}
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 20
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 1024
	}
	if cfg.MaxEventsPerTick <= 0 {
		cfg.MaxEventsPerTick = 256
	}
	if cfg.MaxQueryExtent <= 0 {
		cfg.MaxQueryExtent = DefaultMaxQueryExtent
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	clock := changetracker.NewTickCounter(cfg.StartTick)
	h := &Host{
		cfg:           cfg,
		blocks:        blocks,
		log:           logger,
		clock:         clock,
		tracker:       changetracker.New(cfg.Tracker, clock, logger),
		worlds:        map[uuid.UUID]*worldState{},
		inbox:         make(chan changeReq, cfg.InboxSize),
		queries:       make(chan queryReq),
		observerJoin:  make(chan ObserverJoinRequest, 16),
		observerSub:   make(chan ObserverSubscribeRequest, 64),
		observerLeave: make(chan string, 16),
		observers:     map[string]*observerClient{},
		stop:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, wc := range cfg.Worlds {
		if _, dup := h.worlds[wc.ID]; dup {
			return nil, fmt.Errorf("host: duplicate world %s", wc.ID)
		}
		s := store.NewChunkStore(wc.Gen)
		h.worlds[wc.ID] = &worldState{
			id:       wc.ID,
			name:     wc.Name,
			store:    s,
			provider: store.NewProvider(wc.ID, s, blocks),
		}
		h.order = append(h.order, wc.ID)
	}
	h.stats.Store(&Stats{Tick: cfg.StartTick})
	return h, nil
}

func (h *Host) SetChangeLogger(l ChangeLogger) { h.changeLogger = l }
func (h *Host) SetIndexer(ix Indexer)          { h.indexer = ix }
func (h *Host) SetMetrics(m Metrics)           { h.metrics = m }

func (h *Host) ObserverJoin() chan<- ObserverJoinRequest           { return h.observerJoin }
func (h *Host) ObserverSubscribe() chan<- ObserverSubscribeRequest { return h.observerSub }
func (h *Host) ObserverLeave() chan<- string                       { return h.observerLeave }

// CurrentTick is the tick the next step will simulate.
func (h *Host) CurrentTick() int { return h.clock.Now() }

func (h *Host) TickRateHz() int { return h.cfg.TickRateHz }

// Stats returns the snapshot published by the last step.
func (h *Host) Stats() Stats { return *h.stats.Load() }

func (h *Host) Run(ctx context.Context) error {
	defer close(h.stopped)
	defer h.closeObservers()

	interval := time.Second / time.Duration(h.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pending []changeReq
	for {
		select {
		case <-ctx.Done():
			failPending(pending)
			return ctx.Err()
		case <-h.stop:
			failPending(pending)
			return nil
		case req := <-h.queries:
			req.fn()
			close(req.done)
		case req := <-h.observerJoin:
			h.handleObserverJoin(req)
		case req := <-h.observerSub:
			h.handleObserverSubscribe(req)
		case id := <-h.observerLeave:
			h.handleObserverLeave(id)
		case req := <-h.inbox:
			pending = append(pending, req)
		case <-ticker.C:
			n := min(len(pending), h.cfg.MaxEventsPerTick)
			h.step(pending[:n])
			rest := copy(pending, pending[n:])
			clear(pending[rest:])
			pending = pending[:rest]
		}
	}
}

func failPending(pending []changeReq) {
	for _, r := range pending {
		if r.reply != nil {
			r.reply <- changeResp{err: ErrStopped}
		}
	}
}

func (h *Host) Stop() { h.stopOnce.Do(func() { close(h.stop) }) }

// Submit queues a change for the next step without waiting for its outcome.
func (h *Host) Submit(ev protocol.ChangeEvent) error {
	select {
	case <-h.stopped:
		return ErrStopped
	default:
	}
	select {
	case h.inbox <- changeReq{ev: ev}:
		return nil
	default:
		if h.metrics != nil {
			h.metrics.InboxDropped()
		}
		return ErrBusy
	}
}

// Apply queues a change and waits until a step has applied or rejected it.
func (h *Host) Apply(ctx context.Context, ev protocol.ChangeEvent) (protocol.ChangeResult, error) {
	reply := make(chan changeResp, 1)
	select {
	case <-h.stopped:
		return protocol.ChangeResult{}, ErrStopped
	default:
	}
	select {
	case h.inbox <- changeReq{ev: ev, reply: reply}:
	default:
		if h.metrics != nil {
			h.metrics.InboxDropped()
		}
		return protocol.ChangeResult{}, ErrBusy
	}
	select {
	case r := <-reply:
		return r.res, r.err
	case <-ctx.Done():
		return protocol.ChangeResult{}, ctx.Err()
	case <-h.stopped:
		// The loop may have answered right before exiting.
		select {
		case r := <-reply:
			return r.res, r.err
		default:
			return protocol.ChangeResult{}, ErrStopped
		}
	}
}

// do runs fn on the loop goroutine and waits for it.
func (h *Host) do(ctx context.Context, fn func()) error {
	req := queryReq{fn: fn, done: make(chan struct{})}
	select {
	case h.queries <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.stopped:
		return ErrStopped
	}
	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StepOnce applies events as one tick, the same way Run does. It must not be
// used while Run is active. Intended for replays and tests.
func (h *Host) StepOnce(events []protocol.ChangeEvent) (tick int, results []StepResult) {
	tick = h.clock.Now()
	reqs := make([]changeReq, len(events))
	for i, ev := range events {
		reqs[i] = changeReq{ev: ev, reply: make(chan changeResp, 1)}
	}
	h.step(reqs)
	results = make([]StepResult, len(reqs))
	for i, r := range reqs {
		resp := <-r.reply
		results[i] = StepResult{Result: resp.res, Err: resp.err}
	}
	return tick, results
}

func toCoord(p [3]int) changetracker.Coord {
	return changetracker.Coord{X: p[0], Y: p[1], Z: p[2]}
}

func filterOf(ref *changetracker.Reference) changetracker.ValidityFilter {
	if ref == nil {
		return nil
	}
	return ref
}

// WasOnGround asks whether box could have rested on ground in world given the
// recorded history. ref may be nil.
func (h *Host) WasOnGround(ctx context.Context, world uuid.UUID, box changetracker.Box, ignoreFlags uint64, ref *changetracker.Reference) (bool, error) {
	var (
		ok  bool
		err error
	)
	if err := h.checkQueryBox(box, 0); err != nil {
		return false, err
	}
	if derr := h.do(ctx, func() {
		w := h.worlds[world]
		if w == nil {
			err = ErrUnknownPartition
			return
		}
		if b, in := w.clampBox(box); in {
			ok = h.tracker.WasOnGround(w.provider, filterOf(ref), h.clock.Now(), world, b, ignoreFlags)
		}
		if h.metrics != nil {
			h.metrics.Query("ground", ok)
		}
	}); derr != nil {
		return false, derr
	}
	return ok, err
}

// DefaultMaxQueryExtent is used when Config.MaxQueryExtent is unset.
const DefaultMaxQueryExtent = 256

// checkQueryBox rejects boxes with non-finite bounds or an edge longer than
// MaxQueryExtent once margin is added. It runs before the loop is involved.
func (h *Host) checkQueryBox(box changetracker.Box, margin float64) error {
	if !box.Finite() || math.IsNaN(margin) || math.IsInf(margin, 0) || margin < 0 {
		return fmt.Errorf("%w: box and margin must be finite", ErrBadQuery)
	}
	lim := h.cfg.MaxQueryExtent
	for _, edge := range [3]float64{box.MaxX - box.MinX, box.MaxY - box.MinY, box.MaxZ - box.MinZ} {
		if math.Abs(edge)+2*margin > lim {
			return fmt.Errorf("%w: box edge %g exceeds %g blocks", ErrBadQuery, math.Abs(edge)+2*margin, lim)
		}
	}
	return nil
}

// clampBox cuts box to the world's horizontal boundary. It reports false
// when nothing of the box is inside.
func (w *worldState) clampBox(b changetracker.Box) (changetracker.Box, bool) {
	r := float64(w.store.Gen.BoundaryR)
	if r <= 0 {
		return b, true
	}
	if b.MaxX < -r || b.MinX >= r+1 || b.MaxZ < -r || b.MinZ >= r+1 {
		return b, false
	}
	b.MinX, b.MaxX = max(b.MinX, -r), min(b.MaxX, r+1)
	b.MinZ, b.MaxZ = max(b.MinZ, -r), min(b.MaxZ, r+1)
	return b, true
}

// HasActivity reports recorded changes near box, expanded by margin.
func (h *Host) HasActivity(ctx context.Context, world uuid.UUID, box changetracker.Box, margin float64) (bool, error) {
	var (
		ok  bool
		err error
	)
	if err := h.checkQueryBox(box, margin); err != nil {
		return false, err
	}
	if derr := h.do(ctx, func() {
		if h.worlds[world] == nil {
			err = ErrUnknownPartition
			return
		}
		ok = h.tracker.HasActivityBox(world, box, margin)
		if h.metrics != nil {
			h.metrics.Query("activity", ok)
		}
	}); derr != nil {
		return false, derr
	}
	return ok, err
}

// FindEntry returns the oldest live entry at pos, optionally moved along
// dir, converted for the wire. A nil view means no match.
func (h *Host) FindEntry(ctx context.Context, world uuid.UUID, pos [3]int, dir *changetracker.Direction, ref *changetracker.Reference) (*protocol.EntryView, error) {
	var (
		view *protocol.EntryView
		err  error
	)
	if derr := h.do(ctx, func() {
		if h.worlds[world] == nil {
			err = ErrUnknownPartition
			return
		}
		e := h.tracker.FindEntry(filterOf(ref), h.clock.Now(), world, pos[0], pos[1], pos[2], dir)
		if h.metrics != nil {
			h.metrics.Query("entry", e != nil)
		}
		if e != nil {
			view = h.entryView(e)
		}
	}); derr != nil {
		return nil, derr
	}
	return view, err
}

func (h *Host) entryView(e *changetracker.Entry) *protocol.EntryView {
	prev := "AIR"
	if c, ok := e.PreviousState.(store.Cell); ok {
		prev = h.blocks.Name(c.Block)
	}
	return &protocol.EntryView{
		ID:            e.ID,
		Tick:          e.Tick,
		Pos:           [3]int{e.X, e.Y, e.Z},
		Direction:     e.Direction.String(),
		PreviousBlock: prev,
		NextEntryTick: e.NextEntryTick,
	}
}

// BlockAt reads the current block of a cell on the loop goroutine.
func (h *Host) BlockAt(ctx context.Context, world uuid.UUID, pos [3]int) (string, error) {
	var (
		name string
		err  error
	)
	if derr := h.do(ctx, func() {
		w := h.worlds[world]
		if w == nil {
			err = ErrUnknownPartition
			return
		}
		name = h.blocks.Name(w.store.GetBlock(pos[0], pos[1], pos[2]))
	}); derr != nil {
		return "", derr
	}
	return name, err
}

func (h *Host) Bootstrap() observerproto.BootstrapResponse {
	resp := observerproto.BootstrapResponse{
		ProtocolVersion: observerproto.Version,
		Tick:            h.Stats().Tick,
		TickRateHz:      h.cfg.TickRateHz,
		Tracker: observerproto.TrackerParams{
			RetentionTicks:       h.tracker.RetentionTicks(),
			ExpirySweepThreshold: h.tracker.ExpirySweepThreshold(),
			ActivityResolution:   h.tracker.ActivityResolution(),
		},
		BlockPalette: append([]string(nil), h.blocks.Palette...),
	}
	for _, wc := range h.cfg.Worlds {
		resp.Worlds = append(resp.Worlds, observerproto.WorldInfo{
			WorldID:     wc.ID.String(),
			Name:        wc.Name,
			Height:      wc.Gen.Height,
			GroundLevel: wc.Gen.GroundLevel,
			BoundaryR:   wc.Gen.BoundaryR,
		})
	}
	return resp
}
