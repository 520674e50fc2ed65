package metric

import (
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/flexbuf/errors"
)

func findFamily(t *testing.T, r *MetricsRegistry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	require.NotNil(t, registry.PrometheusRegistry())
	require.NotNil(t, registry.CoreMetrics())

	registry.CoreMetrics().BytesIn.WithLabelValues("demo").Add(256)
	mf := findFamily(t, registry, "flexbuf_relay_bytes_in_total")
	require.NotNil(t, mf)
	assert.Equal(t, 256.0, mf.GetMetric()[0].GetCounter().GetValue())

	assert.NotNil(t, findFamily(t, registry, "go_goroutines"))
}

func TestMetricsRegistry_RegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_commits_total",
		Help: "commits",
	})

	require.NoError(t, registry.RegisterCounter("buffer", "commits", counter))
	counter.Add(3)

	mf := findFamily(t, registry, "test_commits_total")
	require.NotNil(t, mf)
	assert.Equal(t, dto.MetricType_COUNTER, mf.GetType())
	assert.Equal(t, 3.0, mf.GetMetric()[0].GetCounter().GetValue())
}

func TestMetricsRegistry_DuplicateIsInvalid(t *testing.T) {
	registry := NewMetricsRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_occupied", Help: "occupied"})

	require.NoError(t, registry.RegisterGauge("buffer", "occupied", gauge))

	err := registry.RegisterGauge("buffer", "occupied", gauge)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	// same collector under a different key conflicts inside Prometheus
	err = registry.RegisterGauge("other", "occupied", gauge)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestMetricsRegistry_Vectors(t *testing.T) {
	registry := NewMetricsRegistry()

	cv := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_acquire_total", Help: "h"}, []string{"side"})
	gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "test_clients", Help: "h"}, []string{"path"})
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "test_wait_seconds", Help: "h"}, []string{"side"})
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_chunk_bytes", Help: "h"})

	require.NoError(t, registry.RegisterCounterVec("buffer", "acquire", cv))
	require.NoError(t, registry.RegisterGaugeVec("ws", "clients", gv))
	require.NoError(t, registry.RegisterHistogramVec("buffer", "wait", hv))
	require.NoError(t, registry.RegisterHistogram("relay", "chunk", h))

	cv.WithLabelValues("write").Inc()
	hv.WithLabelValues("read").Observe(0.01)
	h.Observe(256)

	assert.NotNil(t, findFamily(t, registry, "test_acquire_total"))
	assert.NotNil(t, findFamily(t, registry, "test_wait_seconds"))
	assert.NotNil(t, findFamily(t, registry, "test_chunk_bytes"))
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_drops_total", Help: "h"})

	require.NoError(t, registry.RegisterCounter("udp", "drops", counter))
	assert.True(t, registry.Unregister("udp", "drops"))
	assert.False(t, registry.Unregister("udp", "drops"))

	// can register again after removal
	require.NoError(t, registry.RegisterCounter("udp", "drops", counter))
}

func TestMetricsRegistry_ConcurrentRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := prometheus.NewCounter(prometheus.CounterOpts{
				Name: fmt.Sprintf("test_concurrent_%d_total", i),
				Help: "h",
			})
			errs <- registry.RegisterCounter("relay", fmt.Sprintf("c%d", i), c)
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestMetrics_Helpers(t *testing.T) {
	registry := NewMetricsRegistry()
	m := registry.CoreMetrics()

	m.SetNATSConnected(true)
	m.RecordError("udp", "transient")

	mf := findFamily(t, registry, "flexbuf_nats_connected")
	require.NotNil(t, mf)
	assert.Equal(t, 1.0, mf.GetMetric()[0].GetGauge().GetValue())

	m.SetNATSConnected(false)
	mf = findFamily(t, registry, "flexbuf_nats_connected")
	assert.Equal(t, 0.0, mf.GetMetric()[0].GetGauge().GetValue())

	mf = findFamily(t, registry, "flexbuf_errors_total")
	require.NotNil(t, mf)
	assert.Len(t, mf.GetMetric(), 1)
}
