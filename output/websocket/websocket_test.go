package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/c360/flexbuf/errors"
	"github.com/c360/flexbuf/metric"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Address = "127.0.0.1:0"
	cfg.WriteTimeout = time.Second
	return cfg
}

func startOutput(t *testing.T, cfg Config, registry *metric.MetricsRegistry) *Output {
	t.Helper()
	out, err := NewOutput(OutputDeps{Config: cfg, MetricsRegistry: registry})
	require.NoError(t, err)
	require.NoError(t, out.Start(context.Background()))
	t.Cleanup(func() { _ = out.Stop(2 * time.Second) })
	return out
}

// connect dials the output and consumes the hello envelope.
func connect(t *testing.T, out *Output) (*websocket.Conn, MessageEnvelope) {
	t.Helper()
	url := "ws://" + out.Addr() + out.cfg.Path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, kind)

	var hello MessageEnvelope
	require.NoError(t, json.Unmarshal(data, &hello))
	return conn, hello
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty address", func(c *Config) { c.Address = "" }, "address"},
		{"relative path", func(c *Config) { c.Path = "stream" }, "path"},
		{"zero write timeout", func(c *Config) { c.WriteTimeout = 0 }, "write_timeout"},
		{"zero ping", func(c *Config) { c.PingInterval = 0 }, "ping_interval"},
		{"zero queue", func(c *Config) { c.QueueSize = 0 }, "queue_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestOutput_HandlerRejectsWhenNotRunning(t *testing.T) {
	out, err := NewOutput(OutputDeps{Config: testConfig()})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	out.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	_, err = out.Write([]byte("x"))
	assert.ErrorIs(t, err, errors.ErrNotStarted)
}

func TestOutput_StartTwice(t *testing.T) {
	out := startOutput(t, testConfig(), nil)
	err := out.Start(context.Background())
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)
}

func TestOutput_StartCancelledContext(t *testing.T) {
	out, err := NewOutput(OutputDeps{Config: testConfig()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, out.Start(ctx))
	assert.Empty(t, out.Addr())
}

func TestOutput_BroadcastsBinaryFrames(t *testing.T) {
	out := startOutput(t, testConfig(), nil)

	a, helloA := connect(t, out)
	b, helloB := connect(t, out)
	assert.Equal(t, "hello", helloA.Type)
	assert.NotEqual(t, helloA.ID, helloB.ID)
	require.Eventually(t, func() bool { return out.Clients() == 2 }, time.Second, 5*time.Millisecond)

	chunk := []byte("relay chunk")
	n, err := out.Write(chunk)
	require.NoError(t, err)
	assert.Equal(t, len(chunk), n)
	chunk[0] = 'X'

	for _, conn := range []*websocket.Conn{a, b} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		kind, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.BinaryMessage, kind)
		assert.Equal(t, "relay chunk", string(data))
	}
	require.Eventually(t, func() bool { return out.FramesSent() == 2 }, time.Second, 5*time.Millisecond)
}

func TestOutput_WriteWithoutClients(t *testing.T) {
	out := startOutput(t, testConfig(), nil)

	n, err := out.Write([]byte("nobody listening"))
	require.NoError(t, err)
	assert.Equal(t, 16, n)
	assert.Equal(t, int64(1), out.FramesDropped())

	n, err = out.Write(nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOutput_SlowClientIsDisconnected(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 1
	registry := metric.NewMetricsRegistry()
	out := startOutput(t, cfg, registry)

	// the client never reads, so socket buffers fill and the queue backs up
	connect(t, out)
	require.Eventually(t, func() bool { return out.Clients() == 1 }, time.Second, 5*time.Millisecond)

	frame := make([]byte, 1<<20)
	for i := 0; i < 32 && out.Clients() > 0; i++ {
		_, err := out.Write(frame)
		require.NoError(t, err, "Write must not fail or block because of a slow client")
	}

	require.Eventually(t, func() bool { return out.Clients() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Positive(t, out.FramesDropped())

	slow := testutil.ToFloat64(out.metrics.disconnectionTotal.WithLabelValues(ReasonSlow))
	writeErr := testutil.ToFloat64(out.metrics.disconnectionTotal.WithLabelValues(ReasonWriteError))
	assert.Equal(t, 1.0, slow+writeErr)
}

func TestOutput_ClientDisconnectIsNoticed(t *testing.T) {
	out := startOutput(t, testConfig(), nil)

	conn, _ := connect(t, out)
	require.Eventually(t, func() bool { return out.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	require.Eventually(t, func() bool { return out.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestOutput_StopDisconnectsClients(t *testing.T) {
	out, err := NewOutput(OutputDeps{Config: testConfig()})
	require.NoError(t, err)
	require.NoError(t, out.Start(context.Background()))

	conn, _ := connect(t, out)
	require.Eventually(t, func() bool { return out.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, out.Stop(2*time.Second))
	assert.Zero(t, out.Clients())
	assert.Empty(t, out.Addr())

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway) ||
		strings.Contains(err.Error(), "closed") || strings.Contains(err.Error(), "EOF") ||
		strings.Contains(err.Error(), "reset"), "unexpected error %v", err)

	_, err = out.Write([]byte("late"))
	assert.ErrorIs(t, err, errors.ErrNotStarted)
	assert.NoError(t, out.Stop(time.Second), "Stop is idempotent")
	assert.NoError(t, out.Close())
}

func TestOutput_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	out := startOutput(t, testConfig(), registry)

	conn, _ := connect(t, out)
	require.Eventually(t, func() bool { return out.Clients() == 1 }, time.Second, 5*time.Millisecond)

	_, err := out.Write([]byte("12345"))
	require.NoError(t, err)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.NoError(t, err)
	require.Eventually(t, func() bool { return out.FramesSent() == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(out.metrics.framesSent))
	assert.Equal(t, 5.0, testutil.ToFloat64(out.metrics.bytesSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(out.metrics.connectionTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(out.metrics.clientsConnected))

	_, err = NewOutput(OutputDeps{Config: testConfig(), MetricsRegistry: registry})
	assert.Error(t, err, "a second output cannot register the same collectors")
}
