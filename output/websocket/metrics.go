package websocket

import (
	"github.com/c360/flexbuf/metric"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsOwner = "websocket"

// Metrics holds Prometheus metrics for the WebSocket output
type Metrics struct {
	framesSent         prometheus.Counter
	bytesSent          prometheus.Counter
	framesDropped      *prometheus.CounterVec
	clientsConnected   prometheus.Gauge
	connectionTotal    prometheus.Counter
	disconnectionTotal *prometheus.CounterVec
	broadcastDuration  prometheus.Histogram
	frameSizeBytes     prometheus.Histogram
}

// newMetrics creates and registers Output metrics. A nil registry yields nil
// metrics.
func newMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "frames_sent_total",
			Help:      "Binary frames written to WebSocket clients",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "bytes_sent_total",
			Help:      "Total bytes sent to WebSocket clients",
		}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "frames_dropped_total",
			Help:      "Frames discarded instead of sent, by reason",
		}, []string{"reason"}),
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "clients_connected",
			Help:      "Number of currently connected clients",
		}),
		connectionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "client_connections_total",
			Help:      "Total client connections (including disconnected)",
		}),
		disconnectionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "client_disconnections_total",
			Help:      "Total client disconnections",
		}, []string{"disconnect_reason"}),
		broadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "broadcast_duration_seconds",
			Help:      "Time to queue a frame for all clients",
			Buckets:   []float64{0.00001, 0.0001, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		frameSizeBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "frame_size_bytes",
			Help:      "Size distribution of broadcast frames",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		}),
	}

	var registered []string
	steps := []struct {
		name     string
		register func() error
	}{
		{"frames_sent", func() error { return registry.RegisterCounter(metricsOwner, "frames_sent", m.framesSent) }},
		{"bytes_sent", func() error { return registry.RegisterCounter(metricsOwner, "bytes_sent", m.bytesSent) }},
		{"frames_dropped", func() error { return registry.RegisterCounterVec(metricsOwner, "frames_dropped", m.framesDropped) }},
		{"clients_connected", func() error { return registry.RegisterGauge(metricsOwner, "clients_connected", m.clientsConnected) }},
		{"connections", func() error { return registry.RegisterCounter(metricsOwner, "connections", m.connectionTotal) }},
		{"disconnections", func() error {
			return registry.RegisterCounterVec(metricsOwner, "disconnections", m.disconnectionTotal)
		}},
		{"broadcast_duration", func() error {
			return registry.RegisterHistogram(metricsOwner, "broadcast_duration", m.broadcastDuration)
		}},
		{"frame_size", func() error { return registry.RegisterHistogram(metricsOwner, "frame_size", m.frameSizeBytes) }},
	}
	for _, step := range steps {
		if err := step.register(); err != nil {
			for _, name := range registered {
				registry.Unregister(metricsOwner, name)
			}
			return nil, err
		}
		registered = append(registered, step.name)
	}
	return m, nil
}

func (m *Metrics) unregister(registry *metric.MetricsRegistry) {
	if m == nil || registry == nil {
		return
	}
	for _, name := range []string{
		"frames_sent", "bytes_sent", "frames_dropped", "clients_connected",
		"connections", "disconnections", "broadcast_duration", "frame_size",
	} {
		registry.Unregister(metricsOwner, name)
	}
}
