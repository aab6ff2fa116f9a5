package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"voxelhistory.ai/internal/sim/changetracker"
)

// Metrics holds the Prometheus registry and the host's meters.
type Metrics struct {
	Registry *prometheus.Registry

	Tick          prometheus.Gauge
	Entries       prometheus.Gauge
	Partitions    prometheus.Gauge
	Cells         prometheus.Gauge
	ActivityCells prometheus.Gauge
	LastChangeID  prometheus.Gauge

	TickDuration   prometheus.Histogram
	ChangesTotal   *prometheus.CounterVec
	CellsRecorded  *prometheus.CounterVec
	RejectedTotal  *prometheus.CounterVec
	QueriesTotal   *prometheus.CounterVec
	SweptEntries   prometheus.Counter
	InboxDropTotal prometheus.Counter
}

// NewMetrics creates a custom registry with the tracker and host meters.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	}

	m := &Metrics{
		Registry:      reg,
		Tick:          gauge("voxelhistory_tick", "Current simulation tick."),
		Entries:       gauge("voxelhistory_tracker_entries", "Live change entries across all partitions."),
		Partitions:    gauge("voxelhistory_tracker_partitions", "Partitions holding change history."),
		Cells:         gauge("voxelhistory_tracker_cells", "Cells with at least one live entry."),
		ActivityCells: gauge("voxelhistory_tracker_activity_cells", "Coarse activity cells with a positive count."),
		LastChangeID:  gauge("voxelhistory_tracker_last_change_id", "Most recently assigned change id."),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "voxelhistory_tick_duration_seconds",
			Help:    "Time spent in one simulation step.",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
		}),
		ChangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxelhistory_changes_total",
			Help: "Applied change events.",
		}, []string{"type"}),
		CellsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxelhistory_cells_recorded_total",
			Help: "Cells recorded into the tracker.",
		}, []string{"type"}),
		RejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxelhistory_changes_rejected_total",
			Help: "Rejected change events.",
		}, []string{"code"}),
		QueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voxelhistory_queries_total",
			Help: "History queries by kind and outcome.",
		}, []string{"query", "result"}),
		SweptEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voxelhistory_swept_entries_total",
			Help: "Entries removed by the periodic sweep.",
		}),
		InboxDropTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voxelhistory_inbox_drop_total",
			Help: "Change events refused because the inbox was full.",
		}),
	}

	reg.MustRegister(
		m.Tick, m.Entries, m.Partitions, m.Cells, m.ActivityCells, m.LastChangeID,
		m.TickDuration, m.ChangesTotal, m.CellsRecorded, m.RejectedTotal, m.QueriesTotal,
		m.SweptEntries, m.InboxDropTotal,
	)
	return m
}

func (m *Metrics) ObserveTick(tick int, st changetracker.Stats, d time.Duration) {
	m.Tick.Set(float64(tick))
	m.Entries.Set(float64(st.Entries))
	m.Partitions.Set(float64(st.Partitions))
	m.Cells.Set(float64(st.Cells))
	m.ActivityCells.Set(float64(st.ActivityCells))
	m.LastChangeID.Set(float64(st.LastChangeID))
	m.TickDuration.Observe(d.Seconds())
}

func (m *Metrics) ChangeApplied(typ string, cells int) {
	m.ChangesTotal.WithLabelValues(typ).Inc()
	m.CellsRecorded.WithLabelValues(typ).Add(float64(cells))
}

func (m *Metrics) ChangeRejected(code string) { m.RejectedTotal.WithLabelValues(code).Inc() }

func (m *Metrics) Query(kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.QueriesTotal.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) Swept(entries int) {
	if entries > 0 {
		m.SweptEntries.Add(float64(entries))
	}
}

func (m *Metrics) InboxDropped() { m.InboxDropTotal.Inc() }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
