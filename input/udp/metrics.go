package udp

import (
	"fmt"

	"github.com/c360/flexbuf/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the UDP input
type Metrics struct {
	packetsReceived   prometheus.Counter
	bytesReceived     prometheus.Counter
	packetsDropped    *prometheus.CounterVec
	bufferUtilization prometheus.Gauge
	reserveLatency    prometheus.Histogram
	socketErrors      prometheus.Counter
	lastActivity      prometheus.Gauge
}

// metricsOwner is the registry owner key for an input listening on port.
func metricsOwner(port int) string {
	return fmt.Sprintf("udp_%d", port)
}

// newMetrics creates and registers UDP input metrics. A nil registry yields
// nil metrics.
func newMetrics(registry *metric.MetricsRegistry, port int) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	labels := prometheus.Labels{"port": fmt.Sprint(port)}
	m := &Metrics{
		packetsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "udp",
			Name:        "packets_received_total",
			Help:        "Total UDP packets received",
			ConstLabels: labels,
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "udp",
			Name:        "bytes_received_total",
			Help:        "Total bytes received from UDP and committed to the buffer",
			ConstLabels: labels,
		}),
		packetsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "udp",
			Name:        "packets_dropped_total",
			Help:        "Packets dropped before reaching the buffer, by reason",
			ConstLabels: labels,
		}, []string{"reason"}),
		bufferUtilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "udp",
			Name:        "buffer_utilization_ratio",
			Help:        "Buffer occupancy (0-1) after the last commit",
			ConstLabels: labels,
		}),
		reserveLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "udp",
			Name:        "reserve_duration_seconds",
			Help:        "Time spent waiting for a write reservation",
			Buckets:     []float64{0.0001, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			ConstLabels: labels,
		}),
		socketErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "udp",
			Name:        "socket_errors_total",
			Help:        "Socket read errors encountered",
			ConstLabels: labels,
		}),
		lastActivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "udp",
			Name:        "last_activity_timestamp",
			Help:        "Unix timestamp of last received packet",
			ConstLabels: labels,
		}),
	}

	owner := metricsOwner(port)
	var registered []string
	steps := []struct {
		name     string
		register func() error
	}{
		{"packets_received", func() error { return registry.RegisterCounter(owner, "packets_received", m.packetsReceived) }},
		{"bytes_received", func() error { return registry.RegisterCounter(owner, "bytes_received", m.bytesReceived) }},
		{"packets_dropped", func() error { return registry.RegisterCounterVec(owner, "packets_dropped", m.packetsDropped) }},
		{"buffer_utilization", func() error { return registry.RegisterGauge(owner, "buffer_utilization", m.bufferUtilization) }},
		{"reserve_latency", func() error { return registry.RegisterHistogram(owner, "reserve_latency", m.reserveLatency) }},
		{"socket_errors", func() error { return registry.RegisterCounter(owner, "socket_errors", m.socketErrors) }},
		{"last_activity", func() error { return registry.RegisterGauge(owner, "last_activity", m.lastActivity) }},
	}
	for _, step := range steps {
		if err := step.register(); err != nil {
			for _, name := range registered {
				registry.Unregister(owner, name)
			}
			return nil, err
		}
		registered = append(registered, step.name)
	}
	return m, nil
}

func (m *Metrics) unregister(registry *metric.MetricsRegistry, port int) {
	if m == nil || registry == nil {
		return
	}
	owner := metricsOwner(port)
	for _, name := range []string{
		"packets_received", "bytes_received", "packets_dropped",
		"buffer_utilization", "reserve_latency", "socket_errors", "last_activity",
	} {
		registry.Unregister(owner, name)
	}
}
