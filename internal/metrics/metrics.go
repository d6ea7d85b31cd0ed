// Package metrics exposes Prometheus instrumentation for runs, nodes and
// reasoning calls.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "copilot"

// Metrics records workflow and reasoning measurements into its own registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	runs         *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	repairs      prometheus.Histogram
	confidence   *prometheus.HistogramVec
	nodeDuration *prometheus.HistogramVec
	transitions  *prometheus.CounterVec
	lmCalls      *prometheus.CounterVec
	lmDuration   *prometheus.HistogramVec
	queries      *prometheus.CounterVec
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Questions answered, by route",
		}, []string{"route"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "End-to-end run latency in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"route"}),
		repairs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "repair_steps",
			Help:      "Repair attempts per run",
			Buckets:   []float64{0, 1, 2},
		}),
		confidence: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "confidence",
			Help:      "Distribution of answer confidence scores",
			Buckets:   []float64{0, 0.1, 0.3, 0.5, 0.7, 0.8, 0.9, 1.0},
		}, []string{"route"}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "duration_seconds",
			Help:      "Node execution latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"node"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "transitions_total",
			Help:      "Edges taken between nodes",
		}, []string{"from", "to"}),
		lmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reasoning",
			Name:      "calls_total",
			Help:      "Reasoning backend calls by task and status",
		}, []string{"task", "status"}),
		lmDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reasoning",
			Name:      "call_duration_seconds",
			Help:      "Reasoning backend latency in seconds, retries included",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"task"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "warehouse",
			Name:      "queries_total",
			Help:      "Queries submitted to the warehouse by envelope status",
		}, []string{"status"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.runs, m.runDuration, m.repairs, m.confidence,
		m.nodeDuration, m.transitions,
		m.lmCalls, m.lmDuration, m.queries,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveNode records one node execution.
func (m *Metrics) ObserveNode(node string, d time.Duration) {
	if m == nil {
		return
	}
	m.nodeDuration.WithLabelValues(node).Observe(d.Seconds())
}

// ObserveTransition records an edge taken by the engine.
func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(route string, repairs int, confidence float64, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(route).Inc()
	m.runDuration.WithLabelValues(route).Observe(d.Seconds())
	m.repairs.Observe(float64(repairs))
	m.confidence.WithLabelValues(route).Observe(confidence)
}

// ObserveCall records a guarded reasoning call. Its signature matches
// reasoning.CallObserver.
func (m *Metrics) ObserveCall(task string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.lmCalls.WithLabelValues(task, status).Inc()
	m.lmDuration.WithLabelValues(task).Observe(d.Seconds())
}

// ObserveQuery counts one warehouse envelope by status.
func (m *Metrics) ObserveQuery(status string) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(status).Inc()
}
