package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "bugtracker"

// Query outcomes used as the "outcome" label.
const (
	OutcomeOK        = "ok"
	OutcomeTransport = "transport_error"
	OutcomeMalformed = "malformed"
	OutcomeStale     = "stale"
)

// Metrics holds the tracker's Prometheus collectors. Each instance owns its
// registry so tests and multiple controllers never collide. All methods are
// safe on a nil receiver.
type Metrics struct {
	Registry *prometheus.Registry

	QueriesTotal      *prometheus.CounterVec
	QueryDuration     *prometheus.HistogramVec
	QueryIDs          prometheus.Histogram
	NodesStoredTotal  prometheus.Counter
	StaleResponses    prometheus.Counter
	ReachabilityFlips prometheus.Counter
	CyclesTotal       *prometheus.CounterVec
	CycleDuration     prometheus.Histogram
	InFlight          prometheus.Gauge
	Pending           prometheus.Gauge
	SSEClients        prometheus.Gauge
}

// NewMetrics creates and registers the tracker's collectors.
func NewMetrics() *Metrics {
	r := prometheus.NewRegistry()
	f := promauto.With(r)

	m := &Metrics{
		Registry: r,

		QueriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "fetch",
			Name:      "queries_total",
			Help:      "Remote queries completed, by query depth and outcome",
		}, []string{"depth", "outcome"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "fetch",
			Name:      "query_duration_seconds",
			Help:      "Remote query latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"depth"}),

		QueryIDs: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "fetch",
			Name:      "query_ids",
			Help:      "Number of IDs requested per query",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 200},
		}),

		NodesStoredTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "graph",
			Name:      "nodes_stored_total",
			Help:      "Bugs stored for the first time in a cycle",
		}),

		StaleResponses: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "fetch",
			Name:      "stale_responses_total",
			Help:      "Responses discarded because their cycle was superseded",
		}),

		ReachabilityFlips: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "graph",
			Name:      "reachability_flips_total",
			Help:      "Bugs that became reachable through a later path",
		}),

		CyclesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "fetch",
			Name:      "cycles_total",
			Help:      "Fetch cycles ended, by final state",
		}, []string{"state"}),

		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "fetch",
			Name:      "cycle_duration_seconds",
			Help:      "Time from cycle start to done",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),

		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "fetch",
			Name:      "inflight_queries",
			Help:      "Queries of the current cycle awaiting a response",
		}),

		Pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "fetch",
			Name:      "pending_ids",
			Help:      "IDs queued but not yet requested in the current cycle",
		}),

		SSEClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "dashboard",
			Name:      "sse_clients",
			Help:      "Connected Server-Sent Events clients",
		}),
	}

	r.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// RecordQuery records a completed query.
func (m *Metrics) RecordQuery(depth, ids int, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	d := strconv.Itoa(depth)
	m.QueriesTotal.WithLabelValues(d, outcome).Inc()
	m.QueryDuration.WithLabelValues(d).Observe(duration.Seconds())
	m.QueryIDs.Observe(float64(ids))
}

// RecordStale records a discarded response of a superseded cycle.
func (m *Metrics) RecordStale() {
	if m == nil {
		return
	}
	m.StaleResponses.Inc()
}

// RecordNodes records newly stored bugs.
func (m *Metrics) RecordNodes(n int) {
	if m == nil || n == 0 {
		return
	}
	m.NodesStoredTotal.Add(float64(n))
}

// RecordFlip records a false to true reachability transition.
func (m *Metrics) RecordFlip() {
	if m == nil {
		return
	}
	m.ReachabilityFlips.Inc()
}

// RecordCycle records the end of a cycle.
func (m *Metrics) RecordCycle(state string, duration time.Duration) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(state).Inc()
	m.CycleDuration.Observe(duration.Seconds())
}

// SetProgress publishes the current cycle's in-flight and pending counts.
func (m *Metrics) SetProgress(inFlight, pending int) {
	if m == nil {
		return
	}
	m.InFlight.Set(float64(inFlight))
	m.Pending.Set(float64(pending))
}

// SetSSEClients publishes the number of connected dashboard clients.
func (m *Metrics) SetSSEClients(n int) {
	if m == nil {
		return
	}
	m.SSEClients.Set(float64(n))
}
