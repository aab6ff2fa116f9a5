package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"voxelhistory.ai/internal/sim/changetracker"
)

func TestMetrics_ObserveTick(t *testing.T) {
	m := NewMetrics()
	m.ObserveTick(42, changetracker.Stats{Partitions: 2, Entries: 7, Cells: 5, ActivityCells: 3, LastChangeID: 9}, time.Millisecond)
	if got := testutil.ToFloat64(m.Entries); got != 7 {
		t.Fatalf("entries=%v want=7", got)
	}
	if got := testutil.ToFloat64(m.Tick); got != 42 {
		t.Fatalf("tick=%v want=42", got)
	}
	if got := testutil.ToFloat64(m.LastChangeID); got != 9 {
		t.Fatalf("last_change_id=%v want=9", got)
	}
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()
	m.ChangeApplied("PUSH", 3)
	m.ChangeApplied("PUSH", 2)
	m.ChangeRejected("E_UNKNOWN_BLOCK")
	m.Query("ground", true)
	m.Query("ground", false)
	m.Query("ground", false)
	m.Swept(4)
	m.Swept(0)
	m.InboxDropped()

	if got := testutil.ToFloat64(m.ChangesTotal.WithLabelValues("PUSH")); got != 2 {
		t.Fatalf("changes=%v want=2", got)
	}
	if got := testutil.ToFloat64(m.CellsRecorded.WithLabelValues("PUSH")); got != 5 {
		t.Fatalf("cells=%v want=5", got)
	}
	if got := testutil.ToFloat64(m.QueriesTotal.WithLabelValues("ground", "miss")); got != 2 {
		t.Fatalf("ground miss=%v want=2", got)
	}
	if got := testutil.ToFloat64(m.SweptEntries); got != 4 {
		t.Fatalf("swept=%v want=4", got)
	}
	if got := testutil.ToFloat64(m.RejectedTotal.WithLabelValues("E_UNKNOWN_BLOCK")); got != 1 {
		t.Fatalf("rejected=%v want=1", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.ChangeApplied("PLACE", 1)
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `voxelhistory_changes_total{type="PLACE"} 1`) {
		t.Fatalf("metrics output missing counter:\n%s", body)
	}
}
