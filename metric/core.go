package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every flexbuf metric name.
const Namespace = "flexbuf"

// Relay status values reported by RelayStatus.
const (
	StatusStopped  = 0
	StatusStarting = 1
	StatusRunning  = 2
	StatusStopping = 3
	StatusFailed   = 4
)

// Metrics contains the process-level relay metrics. Buffer, input and output
// packages register their own collectors next to these.
type Metrics struct {
	RelayStatus   *prometheus.GaugeVec
	BytesIn       *prometheus.CounterVec
	BytesOut      *prometheus.CounterVec
	Chunks        *prometheus.CounterVec
	RelayDuration *prometheus.HistogramVec
	ErrorsTotal   *prometheus.CounterVec

	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates the core metric set, unregistered.
func NewMetrics() *Metrics {
	return &Metrics{
		RelayStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "relay",
			Name:      "status",
			Help:      "Relay status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
		}, []string{"relay"}),
		BytesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "relay",
			Name:      "bytes_in_total",
			Help:      "Bytes committed into the buffer by the producer",
		}, []string{"relay"}),
		BytesOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "relay",
			Name:      "bytes_out_total",
			Help:      "Bytes consumed from the buffer and handed to sinks",
		}, []string{"relay"}),
		Chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "relay",
			Name:      "chunks_total",
			Help:      "Chunks moved through the relay",
		}, []string{"relay", "direction"}),
		RelayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "relay",
			Name:      "run_duration_seconds",
			Help:      "Wall time of completed relay runs",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"relay"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "errors",
			Name:      "total",
			Help:      "Errors by component and class",
		}, []string{"component", "class"}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "nats",
			Name:      "connected",
			Help:      "NATS connection status (0=disconnected, 1=connected)",
		}),
		NATSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "nats",
			Name:      "reconnects_total",
			Help:      "NATS reconnections",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RelayStatus,
		m.BytesIn,
		m.BytesOut,
		m.Chunks,
		m.RelayDuration,
		m.ErrorsTotal,
		m.NATSConnected,
		m.NATSReconnects,
	}
}

// RecordError counts an error under its component and class label.
func (m *Metrics) RecordError(component, class string) {
	m.ErrorsTotal.WithLabelValues(component, class).Inc()
}

// SetNATSConnected reports the NATS connection state.
func (m *Metrics) SetNATSConnected(connected bool) {
	if connected {
		m.NATSConnected.Set(1)
		return
	}
	m.NATSConnected.Set(0)
}
