package host

import (
	"encoding/json"
	"strings"

	"voxelhistory.ai/internal/observerproto"
	"voxelhistory.ai/internal/sim/changetracker"
)

const defaultObserverMaxChanges = 64

// observerClient is a read-only session fed one TICK message per step.
// Observer state is owned by the loop goroutine.
type observerClient struct {
	id      string
	tickOut chan []byte

	// worlds filters change summaries; empty means all worlds.
	worlds     map[string]bool
	maxChanges int
}

func worldFilter(ids []string) map[string]bool {
	if len(ids) == 0 {
		return nil
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out[strings.ToLower(id)] = true
		}
	}
	return out
}

func clampInt(v, lo, hi, def int) int {
	if v == 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (h *Host) handleObserverJoin(req ObserverJoinRequest) {
	if req.SessionID == "" || req.TickOut == nil {
		return
	}
	// Replace existing session id if any.
	if old := h.observers[req.SessionID]; old != nil {
		close(old.tickOut)
	}
	h.observers[req.SessionID] = &observerClient{
		id:         req.SessionID,
		tickOut:    req.TickOut,
		worlds:     worldFilter(req.WorldIDs),
		maxChanges: clampInt(req.MaxChanges, 1, 4096, defaultObserverMaxChanges),
	}
}

func (h *Host) handleObserverSubscribe(req ObserverSubscribeRequest) {
	c := h.observers[req.SessionID]
	if c == nil {
		return
	}
	c.worlds = worldFilter(req.WorldIDs)
	c.maxChanges = clampInt(req.MaxChanges, 1, 4096, c.maxChanges)
}

func (h *Host) handleObserverLeave(sessionID string) {
	c := h.observers[sessionID]
	if c == nil {
		return
	}
	delete(h.observers, sessionID)
	close(c.tickOut)
}

func (h *Host) closeObservers() {
	for id, c := range h.observers {
		delete(h.observers, id)
		close(c.tickOut)
	}
}

func (h *Host) broadcastTick(tick int, st changetracker.Stats, swept int) {
	if len(h.observers) == 0 {
		return
	}
	for _, c := range h.observers {
		msg := observerproto.TickMsg{
			Type:            "TICK",
			ProtocolVersion: observerproto.Version,
			Tick:            tick,
			Tracker:         st,
			Swept:           swept,
		}
		for _, ch := range h.tickChanges {
			if c.worlds != nil && !c.worlds[ch.WorldID] {
				continue
			}
			if len(msg.Changes) >= c.maxChanges {
				msg.Truncated = true
				break
			}
			msg.Changes = append(msg.Changes, ch)
		}
		b, err := json.Marshal(msg)
		if err != nil {
			h.log.Printf("observer tick %d: %v", tick, err)
			return
		}
		sendLatest(c.tickOut, b)
	}
}

// sendLatest never blocks the loop: a slow reader loses its oldest message.
func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
