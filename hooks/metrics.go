package hooks

import (
	"maps"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Skryldev/asset-manager/core"
)

// ── In-memory metrics collector ───────────────────────────────────────────────

// InMemoryMetrics accumulates metrics; safe for concurrent use.
type InMemoryMetrics struct {
	mu sync.RWMutex

	durationsMs map[string]int64 // cumulative ms per name
	calls       map[string]int64
	errors      map[string]int64 // keyed by name + "/" + category

	totalThroughputB int64
	totalMemoryB     int64
}

// NewInMemoryMetrics creates an empty metrics store.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		durationsMs: make(map[string]int64),
		calls:       make(map[string]int64),
		errors:      make(map[string]int64),
	}
}

func (m *InMemoryMetrics) RecordProcessingTime(name string, d interface{ Seconds() float64 }) {
	ms := int64(d.Seconds() * 1000)
	m.mu.Lock()
	m.durationsMs[name] += ms
	m.calls[name]++
	m.mu.Unlock()
}

func (m *InMemoryMetrics) RecordThroughput(bytes int64) {
	atomic.AddInt64(&m.totalThroughputB, bytes)
}

func (m *InMemoryMetrics) RecordMemory(bytes int64) {
	atomic.AddInt64(&m.totalMemoryB, bytes)
}

func (m *InMemoryMetrics) RecordError(name, category string) {
	m.mu.Lock()
	m.errors[name+"/"+category]++
	m.mu.Unlock()
}

// Snapshot returns a copy of current metrics.
func (m *InMemoryMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MetricsSnapshot{
		DurationsMs:      maps.Clone(m.durationsMs),
		Calls:            maps.Clone(m.calls),
		Errors:           maps.Clone(m.errors),
		TotalThroughputB: atomic.LoadInt64(&m.totalThroughputB),
		TotalMemoryB:     atomic.LoadInt64(&m.totalMemoryB),
	}
}

// MetricsSnapshot is an immutable point-in-time copy of metrics.
type MetricsSnapshot struct {
	DurationsMs      map[string]int64
	Calls            map[string]int64
	Errors           map[string]int64
	TotalThroughputB int64
	TotalMemoryB     int64
}

// ── Prometheus collector ──────────────────────────────────────────────────────

// PrometheusMetrics exports observations as Prometheus series under the
// asset_manager namespace.
type PrometheusMetrics struct {
	duration   *prometheus.HistogramVec
	errors     *prometheus.CounterVec
	throughput prometheus.Counter
	memory     prometheus.Counter
}

// NewPrometheusMetrics creates the collectors and registers them with reg.
// A nil reg uses a fresh registry, which keeps repeated construction in tests
// from colliding on prometheus.DefaultRegisterer.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &PrometheusMetrics{
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "asset_manager",
				Subsystem: "processing",
				Name:      "duration_seconds",
				Help:      "Duration of reads, writes and operator applications in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "asset_manager",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of failures by operation and error category",
			},
			[]string{"operation", "category"},
		),
		throughput: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "asset_manager",
			Subsystem: "essence",
			Name:      "bytes_total",
			Help:      "Total essence bytes produced",
		}),
		memory: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "asset_manager",
			Subsystem: "essence",
			Name:      "buffered_bytes_total",
			Help:      "Total bytes buffered while reading input",
		}),
	}
	for _, c := range []prometheus.Collector{m.duration, m.errors, m.throughput, m.memory} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *PrometheusMetrics) RecordProcessingTime(name string, d interface{ Seconds() float64 }) {
	m.duration.WithLabelValues(name).Observe(d.Seconds())
}

func (m *PrometheusMetrics) RecordThroughput(bytes int64) { m.throughput.Add(float64(bytes)) }

func (m *PrometheusMetrics) RecordMemory(bytes int64) { m.memory.Add(float64(bytes)) }

func (m *PrometheusMetrics) RecordError(name, category string) {
	m.errors.WithLabelValues(name, category).Inc()
}

// ── Fan-out ───────────────────────────────────────────────────────────────────

// MultiMetrics forwards every observation to each collector in order.
type MultiMetrics []core.MetricsCollector

func (mm MultiMetrics) RecordProcessingTime(name string, d interface{ Seconds() float64 }) {
	for _, c := range mm {
		c.RecordProcessingTime(name, d)
	}
}

func (mm MultiMetrics) RecordThroughput(bytes int64) {
	for _, c := range mm {
		c.RecordThroughput(bytes)
	}
}

func (mm MultiMetrics) RecordMemory(bytes int64) {
	for _, c := range mm {
		c.RecordMemory(bytes)
	}
}

func (mm MultiMetrics) RecordError(name, category string) {
	for _, c := range mm {
		c.RecordError(name, category)
	}
}

var (
	_ core.MetricsCollector = (*InMemoryMetrics)(nil)
	_ core.MetricsCollector = (*PrometheusMetrics)(nil)
	_ core.MetricsCollector = MultiMetrics(nil)
)
