package buffer

import (
	"log/slog"

	"github.com/c360/flexbuf/metric"
)

// Option configures a Buffer using the functional options pattern.
type Option func(*bufferOptions)

// bufferOptions holds construction-time configuration. Statistics are always
// collected; Prometheus metrics only with WithMetrics.
type bufferOptions struct {
	allocator Allocator
	monitor   Monitor
	logger    *slog.Logger

	metricsReg  *metric.MetricsRegistry
	metricsName string
}

// WithAllocator sets the storage allocator. Defaults to HeapAllocator.
func WithAllocator(a Allocator) Option {
	return func(o *bufferOptions) {
		if a != nil {
			o.allocator = a
		}
	}
}

// WithMonitor sets the synchronization primitive. Defaults to NewMonitor().
func WithMonitor(m Monitor) Option {
	return func(o *bufferOptions) {
		if m != nil {
			o.monitor = m
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *bufferOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics exports buffer statistics as Prometheus metrics labelled with
// name. Ignored when registry is nil or name is empty.
func WithMetrics(registry *metric.MetricsRegistry, name string) Option {
	return func(o *bufferOptions) {
		if registry != nil && name != "" {
			o.metricsReg = registry
			o.metricsName = name
		}
	}
}

func applyOptions(options ...Option) *bufferOptions {
	o := &bufferOptions{}
	for _, opt := range options {
		if opt != nil {
			opt(o)
		}
	}
	if o.allocator == nil {
		o.allocator = HeapAllocator{}
	}
	if o.monitor == nil {
		o.monitor = NewMonitor()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}
