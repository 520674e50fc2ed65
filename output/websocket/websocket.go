package websocket

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/c360/flexbuf/errors"
	"github.com/c360/flexbuf/metric"
	"github.com/c360/flexbuf/pkg/retry"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Disconnect reasons reported on client_disconnections_total.
const (
	ReasonClosed       = "closed"
	ReasonSlow         = "slow"
	ReasonWriteError   = "write_error"
	ReasonPingFailed   = "ping_failed"
	ReasonShutdown     = "shutdown"
	dropReasonNoClient = "no_clients"
)

// Config configures the WebSocket output.
type Config struct {
	Address      string
	Path         string
	WriteTimeout time.Duration // per-frame write deadline
	PingInterval time.Duration
	QueueSize    int // frames buffered per client before it counts as slow
}

// DefaultConfig returns default configuration for the WebSocket output
func DefaultConfig() Config {
	return Config{
		Address:      ":8081",
		Path:         "/stream",
		WriteTimeout: 5 * time.Second,
		PingInterval: 30 * time.Second,
		QueueSize:    64,
	}
}

// Validate checks the configuration for errors
func (c Config) Validate() error {
	switch {
	case c.Address == "":
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "address is required")
	case len(c.Path) == 0 || c.Path[0] != '/':
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "path must start with /")
	case c.WriteTimeout <= 0:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "write_timeout must be positive")
	case c.PingInterval <= 0:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "ping_interval must be positive")
	case c.QueueSize <= 0:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "queue_size must be positive")
	}
	return nil
}

// OutputDeps holds the runtime dependencies for a WebSocket output.
type OutputDeps struct {
	Config          Config
	MetricsRegistry *metric.MetricsRegistry // optional
	Logger          *slog.Logger            // optional
}

// MessageEnvelope is the text frame sent to a client when it connects.
// Relay data itself travels in binary frames.
type MessageEnvelope struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds
}

// client is one connected WebSocket peer. Only its writePump writes data
// frames; pings go through WriteControl.
type client struct {
	id          string
	conn        *websocket.Conn
	queue       chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	connectedAt time.Time
	framesSent  atomic.Int64
}

// Output is an io.WriteCloser that broadcasts every Write as one binary
// frame to all connected WebSocket clients. Writes never block on clients:
// each client has a bounded queue and is disconnected when it falls behind.
type Output struct {
	cfg      Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	metrics  *Metrics

	server   *http.Server
	listener net.Listener
	upgrader websocket.Upgrader

	clients   map[*client]struct{}
	clientsMu sync.RWMutex

	// Lifecycle management
	shutdown    chan struct{}
	running     bool
	mu          sync.RWMutex
	lifecycleMu sync.Mutex
	wg          sync.WaitGroup

	framesSent    atomic.Int64
	bytesSent     atomic.Int64
	framesDropped atomic.Int64
}

// NewOutput creates a WebSocket output. Call Start to begin accepting clients.
func NewOutput(deps OutputDeps) (*Output, error) {
	cfg := deps.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	metrics, err := newMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.WrapTransient(err, "websocket-output", "NewOutput", "metrics registration")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Output{
		cfg:      cfg,
		logger:   logger.With("component", "websocket-output", "path", cfg.Path),
		registry: deps.MetricsRegistry,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(_ *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 32 * 1024,
		},
		clients: make(map[*client]struct{}),
	}, nil
}

// Handler returns the HTTP handler serving the WebSocket endpoint.
func (w *Output) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(w.cfg.Path, w.handleWebSocket)
	return mux
}

// Start listens on the configured address and serves clients until Stop.
func (w *Output) Start(ctx context.Context) error {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if err := ctx.Err(); err != nil {
		return errors.WrapInvalid(err, "websocket-output", "Start", "context check")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "websocket-output", "Start", "check running state")
	}

	ln, err := retry.DoWithResult(ctx, retry.Quick(), func() (net.Listener, error) {
		ln, err := net.Listen("tcp", w.cfg.Address)
		if err != nil && !stderrors.Is(err, syscall.EADDRINUSE) {
			return nil, retry.NonRetryable(err)
		}
		return ln, err
	})
	if err != nil {
		return errors.WrapTransient(err, "websocket-output", "Start", "listen on "+w.cfg.Address)
	}

	w.listener = ln
	w.server = &http.Server{
		Handler:           w.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	w.shutdown = make(chan struct{})
	w.running = true

	server := w.server
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := server.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			w.logger.Error("HTTP server failed", "error", err)
		}
	}()

	w.logger.Info("WebSocket output listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the listening address, or "" when not running.
func (w *Output) Addr() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.listener == nil {
		return ""
	}
	return w.listener.Addr().String()
}

// Clients returns the number of connected clients.
func (w *Output) Clients() int {
	w.clientsMu.RLock()
	defer w.clientsMu.RUnlock()
	return len(w.clients)
}

// FramesSent returns the number of frames written to clients.
func (w *Output) FramesSent() int64 { return w.framesSent.Load() }

// FramesDropped returns frames discarded for lack of clients or queue space.
func (w *Output) FramesDropped() int64 { return w.framesDropped.Load() }

// Write queues a copy of p as one binary frame for every connected client.
// It never blocks on a client; a client whose queue is full is disconnected.
func (w *Output) Write(p []byte) (int, error) {
	w.mu.RLock()
	running := w.running
	w.mu.RUnlock()
	if !running {
		return 0, errors.WrapInvalid(errors.ErrNotStarted, "websocket-output", "Write", "check running state")
	}
	if len(p) == 0 {
		return 0, nil
	}

	start := time.Now()
	frame := append([]byte(nil), p...)

	w.clientsMu.RLock()
	targets := make([]*client, 0, len(w.clients))
	for c := range w.clients {
		targets = append(targets, c)
	}
	w.clientsMu.RUnlock()

	if len(targets) == 0 {
		w.drop(dropReasonNoClient)
		return len(p), nil
	}

	for _, c := range targets {
		select {
		case c.queue <- frame:
		default:
			w.drop(ReasonSlow)
			w.removeClient(c, ReasonSlow)
		}
	}

	if w.metrics != nil {
		w.metrics.broadcastDuration.Observe(time.Since(start).Seconds())
		w.metrics.frameSizeBytes.Observe(float64(len(p)))
	}
	return len(p), nil
}

func (w *Output) drop(reason string) {
	w.framesDropped.Add(1)
	if w.metrics != nil {
		w.metrics.framesDropped.WithLabelValues(reason).Inc()
	}
}

// Close stops the output with the configured write timeout.
func (w *Output) Close() error {
	return w.Stop(w.cfg.WriteTimeout)
}

// Stop shuts the HTTP server down, disconnects every client and waits up to
// timeout for their goroutines.
func (w *Output) Stop(timeout time.Duration) error {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.shutdown)
	server := w.server
	w.mu.Unlock()

	// Shutdown ignores hijacked connections, so clients are closed separately.
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	var shutdownErr error
	if err := server.Shutdown(ctx); err != nil {
		w.logger.Warn("HTTP server shutdown error", "error", err)
		shutdownErr = errors.WrapTransient(err, "websocket-output", "Stop", "server shutdown")
	}
	w.closeAllClients()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"websocket-output", "Stop", "graceful shutdown")
	}

	w.mu.Lock()
	w.server = nil
	w.listener = nil
	w.mu.Unlock()
	w.metrics.unregister(w.registry)

	w.logger.Info("WebSocket output stopped",
		"frames_sent", w.framesSent.Load(),
		"frames_dropped", w.framesDropped.Load())
	return shutdownErr
}

func (w *Output) closeAllClients() {
	w.clientsMu.RLock()
	all := make([]*client, 0, len(w.clients))
	for c := range w.clients {
		all = append(all, c)
	}
	w.clientsMu.RUnlock()

	for _, c := range all {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second))
		w.removeClient(c, ReasonShutdown)
	}
}

// handleWebSocket upgrades a request and starts the client's pumps.
func (w *Output) handleWebSocket(rw http.ResponseWriter, r *http.Request) {
	w.mu.RLock()
	if !w.running {
		w.mu.RUnlock()
		http.Error(rw, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	// registered under the read lock so Stop cannot start waiting first
	w.wg.Add(2)
	w.mu.RUnlock()

	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.wg.Add(-2)
		w.logger.Debug("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{
		id:          uuid.NewString(),
		conn:        conn,
		queue:       make(chan []byte, w.cfg.QueueSize),
		done:        make(chan struct{}),
		connectedAt: time.Now(),
	}

	w.clientsMu.Lock()
	w.clients[c] = struct{}{}
	count := len(w.clients)
	w.clientsMu.Unlock()

	if w.metrics != nil {
		w.metrics.connectionTotal.Inc()
		w.metrics.clientsConnected.Set(float64(count))
	}
	w.logger.Debug("Client connected", "client", c.id, "remote", r.RemoteAddr, "clients", count)

	go w.writePump(c)
	go w.readPump(c)
}

// readPump consumes control frames so pongs and close frames are processed.
func (w *Output) readPump(c *client) {
	defer w.wg.Done()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * w.cfg.PingInterval))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * w.cfg.PingInterval))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			w.removeClient(c, ReasonClosed)
			return
		}
	}
}

// writePump sends the hello envelope, then queued frames and periodic pings.
func (w *Output) writePump(c *client) {
	defer w.wg.Done()

	hello, _ := json.Marshal(MessageEnvelope{Type: "hello", ID: c.id, Timestamp: time.Now().UnixMilli()})
	_ = c.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		w.removeClient(c, ReasonWriteError)
		return
	}

	ticker := time.NewTicker(w.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.queue:
			_ = c.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				w.removeClient(c, ReasonWriteError)
				return
			}
			c.framesSent.Add(1)
			w.framesSent.Add(1)
			w.bytesSent.Add(int64(len(frame)))
			if w.metrics != nil {
				w.metrics.framesSent.Inc()
				w.metrics.bytesSent.Add(float64(len(frame)))
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.cfg.WriteTimeout)); err != nil {
				w.removeClient(c, ReasonPingFailed)
				return
			}
		}
	}
}

// removeClient disconnects c once; the first reason wins.
func (w *Output) removeClient(c *client, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)

		w.clientsMu.Lock()
		delete(w.clients, c)
		count := len(w.clients)
		w.clientsMu.Unlock()

		if w.metrics != nil {
			w.metrics.disconnectionTotal.WithLabelValues(reason).Inc()
			w.metrics.clientsConnected.Set(float64(count))
		}
		w.logger.Debug("Client disconnected",
			"client", c.id,
			"reason", reason,
			"frames_sent", c.framesSent.Load(),
			"connected_for", time.Since(c.connectedAt))

		_ = c.conn.Close()
	})
}
