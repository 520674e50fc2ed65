package buffer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/flexbuf/metric"
)

// Acquire results used as the "result" label.
const (
	resultGranted     = "granted"
	resultPartial     = "partial"
	resultUnavailable = "unavailable"
	resultRejected    = "rejected"
	resultClosed      = "closed"
	resultEOF         = "eof"
)

// bufferMetrics mirrors Statistics into Prometheus.
type bufferMetrics struct {
	acquires    *prometheus.CounterVec
	commits     *prometheus.CounterVec
	abandons    *prometheus.CounterVec
	bytes       *prometheus.CounterVec
	wait        *prometheus.HistogramVec
	occupied    prometheus.Gauge
	utilization prometheus.Gauge
	capacity    int
}

func newBufferMetrics(registry *metric.MetricsRegistry, name string, capacity int) (*bufferMetrics, error) {
	labels := prometheus.Labels{"buffer": name}
	m := &bufferMetrics{
		acquires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "buffer",
			Name:        "acquires_total",
			ConstLabels: labels,
			Help:        "Acquire calls by side and result",
		}, []string{"side", "result"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "buffer",
			Name:        "commits_total",
			ConstLabels: labels,
			Help:        "Committed reservations by side",
		}, []string{"side"}),
		abandons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "buffer",
			Name:        "abandons_total",
			ConstLabels: labels,
			Help:        "Abandoned reservations by side",
		}, []string{"side"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "buffer",
			Name:        "committed_bytes_total",
			ConstLabels: labels,
			Help:        "Bytes committed by side",
		}, []string{"side"}),
		wait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "buffer",
			Name:        "wait_seconds",
			ConstLabels: labels,
			Help:        "Time acquirers spent blocked",
			Buckets:     prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"side"}),
		occupied: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "buffer",
			Name:        "occupied_bytes",
			ConstLabels: labels,
			Help:        "Bytes committed by the producer and not yet consumed",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "buffer",
			Name:        "utilization",
			ConstLabels: labels,
			Help:        "Occupied fraction of capacity (0.0 to 1.0)",
		}),
		capacity: capacity,
	}

	steps := []struct {
		key      string
		register func() error
	}{
		{"buffer_acquires", func() error { return registry.RegisterCounterVec(name, "buffer_acquires", m.acquires) }},
		{"buffer_commits", func() error { return registry.RegisterCounterVec(name, "buffer_commits", m.commits) }},
		{"buffer_abandons", func() error { return registry.RegisterCounterVec(name, "buffer_abandons", m.abandons) }},
		{"buffer_bytes", func() error { return registry.RegisterCounterVec(name, "buffer_bytes", m.bytes) }},
		{"buffer_wait", func() error { return registry.RegisterHistogramVec(name, "buffer_wait", m.wait) }},
		{"buffer_occupied", func() error { return registry.RegisterGauge(name, "buffer_occupied", m.occupied) }},
		{"buffer_utilization", func() error { return registry.RegisterGauge(name, "buffer_utilization", m.utilization) }},
	}
	for i, step := range steps {
		if err := step.register(); err != nil {
			// roll back only what this call registered
			for _, done := range steps[:i] {
				registry.Unregister(name, done.key)
			}
			return nil, err
		}
	}
	return m, nil
}

// unregister removes every collector so a name can be reused after Close.
func (m *bufferMetrics) unregister(registry *metric.MetricsRegistry, name string) {
	for _, key := range []string{
		"buffer_acquires", "buffer_commits", "buffer_abandons", "buffer_bytes",
		"buffer_wait", "buffer_occupied", "buffer_utilization",
	} {
		registry.Unregister(name, key)
	}
}

func (m *bufferMetrics) recordAcquire(side Side, result string) {
	m.acquires.WithLabelValues(side.String(), result).Inc()
}

func (m *bufferMetrics) recordWait(side Side, d time.Duration) {
	m.wait.WithLabelValues(side.String()).Observe(d.Seconds())
}

func (m *bufferMetrics) recordCommit(side Side, n, occupied int) {
	m.commits.WithLabelValues(side.String()).Inc()
	m.bytes.WithLabelValues(side.String()).Add(float64(n))
	m.occupied.Set(float64(occupied))
	m.utilization.Set(float64(occupied) / float64(m.capacity))
}

func (m *bufferMetrics) recordAbandon(side Side) {
	m.abandons.WithLabelValues(side.String()).Inc()
}
