package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"voxelhistory.ai/internal/protocol"
	"voxelhistory.ai/internal/sim/changetracker"
	"voxelhistory.ai/internal/sim/host"
	"voxelhistory.ai/internal/sim/terrain/store"
)

const maxChangeBody = 1 << 20

type api struct {
	host *host.Host
	log  *log.Logger

	timeout time.Duration
}

func newAPI(h *host.Host, logger *log.Logger) *api {
	return &api{host: h, log: logger, timeout: 5 * time.Second}
}

func (a *api) register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/changes", a.handleChange)
	mux.HandleFunc("/v1/query/ground", a.handleGround)
	mux.HandleFunc("/v1/query/activity", a.handleActivity)
	mux.HandleFunc("/v1/query/entry", a.handleEntry)
	mux.HandleFunc("/v1/stats", a.handleStats)
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, code, msg string) {
	writeJSON(rw, status, protocol.ErrorMsg{Code: code, Message: msg})
}

func statusForCode(code string) int {
	switch code {
	case protocol.ErrWorldBusy, protocol.ErrStopped:
		return http.StatusServiceUnavailable
	case protocol.ErrWorldNotFound:
		return http.StatusNotFound
	case protocol.ErrBadRequest, protocol.ErrProtoBadRequest, protocol.ErrUnknownBlock, protocol.ErrInvalidTarget:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeHostError maps a host error to its wire code. Timeouts waiting for the
// loop count as busy.
func (a *api) writeHostError(rw http.ResponseWriter, err error) {
	code := host.ErrorCode(err)
	if errors.Is(err, context.DeadlineExceeded) {
		code = protocol.ErrWorldBusy
	} else if code == protocol.ErrInternal {
		a.log.Printf("internal error: %v", err)
	}
	writeError(rw, statusForCode(code), code, err.Error())
}

func (a *api) handleChange(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxChangeBody+1))
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrProtoBadRequest, err.Error())
		return
	}
	if len(raw) > maxChangeBody {
		writeError(rw, http.StatusRequestEntityTooLarge, protocol.ErrProtoBadRequest, "body too large")
		return
	}
	ev, err := protocol.ValidateChangeEvent(raw)
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
	defer cancel()
	res, err := a.host.Apply(ctx, ev)
	if err != nil {
		a.writeHostError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, res)
}

func queryWorld(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(r.URL.Query().Get("world")))
	if err != nil {
		return uuid.Nil, fmt.Errorf("world: %w", err)
	}
	return id, nil
}

func parseFloats(s string, n int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("want %d comma separated values, got %d", n, len(parts))
	}
	out := make([]float64, n)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("value %d is not finite", i)
		}
		out[i] = v
	}
	return out, nil
}

// parseBox reads "minX,minY,minZ,maxX,maxY,maxZ". Corners may come in any
// order.
func parseBox(s string) (changetracker.Box, error) {
	v, err := parseFloats(s, 6)
	if err != nil {
		return changetracker.Box{}, fmt.Errorf("box: %w", err)
	}
	return changetracker.Box{
		MinX: min(v[0], v[3]), MinY: min(v[1], v[4]), MinZ: min(v[2], v[5]),
		MaxX: max(v[0], v[3]), MaxY: max(v[1], v[4]), MaxZ: max(v[2], v[5]),
	}, nil
}

func parsePos(s string) ([3]int, error) {
	var p [3]int
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return p, fmt.Errorf("pos: want x,y,z")
	}
	for i, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return p, fmt.Errorf("pos: %w", err)
		}
		p[i] = v
	}
	return p, nil
}

func parseIgnore(s string) (uint64, error) {
	var flags uint64
	for _, name := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "":
		case "liquid":
			flags |= store.IgnoreLiquid
		case "climbable":
			flags |= store.IgnoreClimbable
		case "partial":
			flags |= store.IgnorePartial
		default:
			return 0, fmt.Errorf("ignore: unknown flag %q", name)
		}
	}
	return flags, nil
}

func (a *api) handleGround(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	world, err := queryWorld(r)
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return
	}
	box, err := parseBox(r.URL.Query().Get("box"))
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return
	}
	flags, err := parseIgnore(r.URL.Query().Get("ignore"))
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
	defer cancel()
	ok, err := a.host.WasOnGround(ctx, world, box, flags, nil)
	if err != nil {
		a.writeHostError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, protocol.GroundQueryResult{WorldID: world.String(), Tick: a.host.CurrentTick(), OnGround: ok})
}

func (a *api) handleActivity(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	world, err := queryWorld(r)
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return
	}
	box, err := parseBox(r.URL.Query().Get("box"))
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return
	}
	margin := 0.0
	if m := r.URL.Query().Get("margin"); m != "" {
		if margin, err = strconv.ParseFloat(m, 64); err != nil || !(margin >= 0) || math.IsInf(margin, 0) {
			writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "margin: want a non-negative number")
			return
		}
	}
	ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
	defer cancel()
	ok, err := a.host.HasActivity(ctx, world, box, margin)
	if err != nil {
		a.writeHostError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, protocol.ActivityQueryResult{WorldID: world.String(), Tick: a.host.CurrentTick(), Active: ok})
}

func (a *api) handleEntry(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	world, err := queryWorld(r)
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return
	}
	pos, err := parsePos(r.URL.Query().Get("pos"))
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return
	}
	var dir *changetracker.Direction
	if s := r.URL.Query().Get("dir"); s != "" {
		d, err := changetracker.ParseDirection(strings.ToUpper(s))
		if err != nil {
			writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
			return
		}
		dir = &d
	}
	ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
	defer cancel()
	view, err := a.host.FindEntry(ctx, world, pos, dir, nil)
	if err != nil {
		a.writeHostError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, protocol.EntryQueryResult{WorldID: world.String(), Tick: a.host.CurrentTick(), Entry: view})
}

func (a *api) handleStats(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(rw, http.StatusOK, a.host.Stats())
}
