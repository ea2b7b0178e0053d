// Package metrics records analysis counters on a private Prometheus
// registry and writes them in the node-exporter textfile format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xtxerr/storscope/internal/errors"
)

// Analysis kinds.
const (
	KindDisk  = "disk"
	KindMem   = "mem"
	KindIndex = "index"
)

// Outcomes.
const (
	OutcomeOK      = "ok"
	OutcomePartial = "partial"
	OutcomeError   = "error"
)

// Metrics holds the collectors of one process.
type Metrics struct {
	registry *prometheus.Registry

	analyses       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	nodesVisited   prometheus.Counter
	recordsScanned *prometheus.CounterVec
	pagesSampled   *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		// Labels: kind (disk, mem, index), outcome (ok, partial, error)
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storscope",
			Name:      "analyses_total",
			Help:      "Analyses run by kind and outcome",
		}, []string{"kind", "outcome"}),

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "storscope",
			Name:      "analysis_duration_seconds",
			Help:      "Wall time of one analysis",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"kind"}),

		nodesVisited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storscope",
			Subsystem: "index",
			Name:      "nodes_visited_total",
			Help:      "Index tree nodes folded into statistics",
		}),

		// Labels: state (live, free)
		recordsScanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storscope",
			Subsystem: "disk",
			Name:      "records_scanned_total",
			Help:      "Records visited by extent scans",
		}, []string{"state"}),

		// Labels: state (resident, absent)
		pagesSampled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storscope",
			Subsystem: "mem",
			Name:      "pages_sampled_total",
			Help:      "Pages whose residency was queried",
		}, []string{"state"}),
	}

	m.registry.MustRegister(
		m.analyses,
		m.duration,
		m.nodesVisited,
		m.recordsScanned,
		m.pagesSampled,
	)
	return m
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Outcome classifies an analysis error.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.IsPartial(err):
		return OutcomePartial
	default:
		return OutcomeError
	}
}

// ObserveAnalysis counts one analysis of kind that started at start.
func (m *Metrics) ObserveAnalysis(kind string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.analyses.WithLabelValues(kind, Outcome(err)).Inc()
	m.duration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

// AddNodes counts visited tree nodes.
func (m *Metrics) AddNodes(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.nodesVisited.Add(float64(n))
}

// AddRecords counts scanned live and free records.
func (m *Metrics) AddRecords(live, free int) {
	if m == nil {
		return
	}
	m.recordsScanned.WithLabelValues("live").Add(float64(live))
	m.recordsScanned.WithLabelValues("free").Add(float64(free))
}

// AddPages counts sampled pages.
func (m *Metrics) AddPages(resident, total int) {
	if m == nil {
		return
	}
	m.pagesSampled.WithLabelValues("resident").Add(float64(resident))
	m.pagesSampled.WithLabelValues("absent").Add(float64(total - resident))
}

// WriteTextfile writes every collector to path atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
