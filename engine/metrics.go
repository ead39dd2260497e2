package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for engine execution.
//
// Metrics exposed (all namespaced "weft_"):
//
//  1. executions_inflight (gauge): nodes currently executing.
//  2. queue_depth (gauge): nodes waiting for dispatch in the active run.
//  3. node_duration_ms (histogram): execution duration by node_type and
//     outcome. Buckets span 1 ms to 5 min to cover both instant text
//     nodes and long video renders.
//  4. cache_hits_total / cache_misses_total (counters): result-cache
//     effectiveness.
//  5. retries_total (counter): user-initiated retries by node_type.
//  6. spend_total (counter): accumulated dollar spend.
//  7. executions_total (counter): finished executions by status.
//
// A nil *Metrics is valid and records nothing, so the engine can run
// without a registry configured.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := engine.NewMetrics(registry)
//	eng := engine.New(st, reg, emitter, engine.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type Metrics struct {
	executionsInflight prometheus.Gauge
	queueDepth         prometheus.Gauge
	nodeDuration       *prometheus.HistogramVec
	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter
	retries            *prometheus.CounterVec
	spend              prometheus.Counter
	executions         *prometheus.CounterVec
}

// NewMetrics creates and registers all engine metrics with the provided
// registry. A nil registry uses the global default.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	m := &Metrics{}

	m.executionsInflight = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "weft",
		Name:      "executions_inflight",
		Help:      "Current number of node executions in flight",
	})

	m.queueDepth = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "weft",
		Name:      "queue_depth",
		Help:      "Number of nodes waiting for dispatch in the active run",
	})

	m.nodeDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "weft",
		Name:      "node_duration_ms",
		Help:      "Node execution duration in milliseconds",
		Buckets:   []float64{1, 10, 100, 500, 1000, 5000, 15000, 60000, 300000},
	}, []string{"node_type", "status"})

	m.cacheHits = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "weft",
		Name:      "cache_hits_total",
		Help:      "Executions satisfied from the result cache",
	})

	m.cacheMisses = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "weft",
		Name:      "cache_misses_total",
		Help:      "Cache lookups that required a fresh execution",
	})

	m.retries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weft",
		Name:      "retries_total",
		Help:      "User-initiated node retries",
	}, []string{"node_type"})

	m.spend = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "weft",
		Name:      "spend_total",
		Help:      "Accumulated execution spend in dollars",
	})

	m.executions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "weft",
		Name:      "executions_total",
		Help:      "Finished executions by status",
	}, []string{"status"})

	return m
}

// ExecutionStarted increments the in-flight gauge.
func (m *Metrics) ExecutionStarted() {
	if m == nil {
		return
	}
	m.executionsInflight.Inc()
}

// ExecutionFinished decrements the in-flight gauge and records duration
// and outcome.
func (m *Metrics) ExecutionFinished(nodeType, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.executionsInflight.Dec()
	m.nodeDuration.WithLabelValues(nodeType, status).Observe(float64(duration.Milliseconds()))
	m.executions.WithLabelValues(status).Inc()
}

// SetQueueDepth records how many nodes remain undispatched in the run.
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// CacheHit counts an execution served from the result cache.
func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

// CacheMiss counts a lookup that fell through to the handler.
func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

// RetryRecorded counts a user-initiated retry.
func (m *Metrics) RetryRecorded(nodeType string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(nodeType).Inc()
}

// SpendRecorded accumulates actual execution cost.
func (m *Metrics) SpendRecorded(amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.spend.Add(amount)
}
