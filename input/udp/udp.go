package udp

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/c360/flexbuf/errors"
	"github.com/c360/flexbuf/metric"
	"github.com/c360/flexbuf/pkg/buffer"
	"github.com/c360/flexbuf/pkg/retry"
)

const (
	// DefaultAddress is the listen address used when Config.Address is empty.
	DefaultAddress = ":14550"

	// DefaultReadBufferSize is the OS receive buffer requested for the socket.
	DefaultReadBufferSize = 2 * 1024 * 1024

	// maxDatagram covers the largest possible UDP payload.
	maxDatagram = 65536

	// pollInterval bounds each socket read so shutdown is observed promptly.
	pollInterval = 100 * time.Millisecond
)

// Drop reasons reported on the packets_dropped metric.
const (
	DropUnavailable = "unavailable"
	DropOversize    = "oversize"
)

// Config configures a UDP input.
type Config struct {
	// Address is the host:port to listen on.
	Address string
	// ReadBufferSize is the OS receive buffer size; zero uses DefaultReadBufferSize.
	ReadBufferSize int
	// Timeout bounds the wait for a write reservation per datagram.
	// buffer.Infinite waits until the datagram fits or the input stops.
	Timeout time.Duration
}

// DefaultConfig returns the default UDP input configuration.
func DefaultConfig() Config {
	return Config{
		Address:        DefaultAddress,
		ReadBufferSize: DefaultReadBufferSize,
		Timeout:        time.Second,
	}
}

// InputDeps holds the runtime dependencies for a UDP input.
type InputDeps struct {
	Config          Config
	MetricsRegistry *metric.MetricsRegistry // optional
	Logger          *slog.Logger            // optional
}

// Stats is a point-in-time snapshot of input counters.
type Stats struct {
	Received     int64
	Dropped      int64
	Bytes        int64
	Errors       int64
	LastActivity time.Time
	Running      bool
}

// Input is a UDP listener that writes each received datagram into a FLEX
// buffer as one write reservation. Datagrams that cannot be reserved before
// the configured timeout are dropped and counted.
type Input struct {
	cfg      Config
	addr     *net.UDPAddr
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	metrics  *Metrics

	retryConfig retry.Config

	// Lifecycle management
	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	producing atomic.Bool
	mu        sync.RWMutex
	conn      *net.UDPConn

	received     atomic.Int64
	dropped      atomic.Int64
	bytes        atomic.Int64
	errors       atomic.Int64
	lastActivity atomic.Value // time.Time
}

// NewInput creates a UDP input. The socket is bound by Start or, lazily, by
// Produce.
func NewInput(deps InputDeps) (*Input, error) {
	cfg := deps.Config
	if cfg.Address == "" {
		cfg.Address = DefaultAddress
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = DefaultReadBufferSize
	}

	addr, err := net.ResolveUDPAddr("udp", cfg.Address)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
			"udp-input", "NewInput", "resolve address "+cfg.Address)
	}

	metrics, err := newMetrics(deps.MetricsRegistry, addr.Port)
	if err != nil {
		return nil, errors.WrapTransient(err, "udp-input", "NewInput", "metrics registration")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	u := &Input{
		cfg:         cfg,
		addr:        addr,
		logger:      logger.With("component", "udp-input", "address", cfg.Address),
		registry:    deps.MetricsRegistry,
		metrics:     metrics,
		retryConfig: retry.Quick(),
	}
	u.lastActivity.Store(time.Time{})
	return u, nil
}

// Addr returns the bound local address, or nil before Start.
func (u *Input) Addr() net.Addr {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.conn == nil {
		return nil
	}
	return u.conn.LocalAddr()
}

// Stats returns a snapshot of the input counters.
func (u *Input) Stats() Stats {
	last, _ := u.lastActivity.Load().(time.Time)
	return Stats{
		Received:     u.received.Load(),
		Dropped:      u.dropped.Load(),
		Bytes:        u.bytes.Load(),
		Errors:       u.errors.Load(),
		LastActivity: last,
		Running:      u.running.Load(),
	}
}

// Start binds the socket, retrying transient bind failures.
func (u *Input) Start(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.running.Load() {
		return nil
	}

	u.shutdown = make(chan struct{})

	if err := retry.Do(ctx, u.retryConfig, u.bindSocket); err != nil {
		u.cleanupUnlocked()
		return errors.WrapTransient(err, "udp-input", "Start", "socket binding")
	}

	u.running.Store(true)
	u.logger.Info("UDP input listening", "local", u.conn.LocalAddr().String())
	return nil
}

// bindSocket binds the UDP socket. Only a busy port is worth retrying; a
// previous relay on the same port may still be releasing it.
func (u *Input) bindSocket() error {
	conn, err := net.ListenUDP("udp", u.addr)
	if err != nil {
		err = fmt.Errorf("listen on UDP %s: %w", u.addr, err)
		if !stderrors.Is(err, syscall.EADDRINUSE) {
			return retry.NonRetryable(err)
		}
		return err
	}

	// some systems cap the receive buffer; keep going with what we got
	if err := conn.SetReadBuffer(u.cfg.ReadBufferSize); err != nil {
		u.logger.Warn("Could not set UDP buffer size",
			"buffer_size", u.cfg.ReadBufferSize,
			"error", err)
	}

	u.conn = conn
	return nil
}

// Produce reads datagrams until ctx is cancelled, Stop is called, or the
// buffer is closed, then closes the buffer's write side. Each datagram is
// committed whole or dropped. Only one Produce may run at a time.
func (u *Input) Produce(ctx context.Context, b *buffer.Buffer) error {
	if b == nil {
		return errors.WrapInvalid(buffer.ErrInvalidBuffer, "udp-input", "Produce", "check buffer")
	}
	if !u.producing.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "udp-input", "Produce", "check producer")
	}
	defer u.producing.Store(false)
	if err := u.Start(ctx); err != nil {
		return err
	}

	u.mu.Lock()
	shutdown, done := u.shutdown, make(chan struct{})
	u.done = done
	u.mu.Unlock()
	defer close(done)
	defer func() { _ = b.CloseWrite() }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-shutdown:
			cancel()
		case <-ctx.Done():
		}
	}()

	return u.readLoop(ctx, b)
}

// Stop gracefully stops the listener, waiting up to timeout for Produce to
// return.
func (u *Input) Stop(timeout time.Duration) error {
	if !u.running.Load() {
		return nil
	}
	u.running.Store(false)

	u.mu.Lock()
	if u.shutdown != nil {
		select {
		case <-u.shutdown:
		default:
			close(u.shutdown)
		}
	}
	// Close UDP connection to unblock readLoop
	if u.conn != nil {
		_ = u.conn.Close()
	}
	done := u.done
	u.mu.Unlock()

	if done != nil && u.producing.Load() {
		select {
		case <-done:
		case <-time.After(timeout):
			return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
				"udp-input", "Stop", "graceful shutdown")
		}
	}

	u.mu.Lock()
	u.cleanupUnlocked()
	u.mu.Unlock()
	u.metrics.unregister(u.registry, u.addr.Port)
	return nil
}

// cleanupUnlocked releases the socket; the caller holds mu.
func (u *Input) cleanupUnlocked() {
	if u.shutdown != nil {
		select {
		case <-u.shutdown:
		default:
			close(u.shutdown)
		}
		u.shutdown = nil
	}
	u.done = nil
	if u.conn != nil {
		_ = u.conn.Close()
		u.conn = nil
	}
}

func (u *Input) readLoop(ctx context.Context, b *buffer.Buffer) error {
	scratch := make([]byte, maxDatagram)

	for {
		if ctx.Err() != nil {
			return nil
		}

		u.mu.RLock()
		conn := u.conn
		u.mu.RUnlock()
		if conn == nil {
			return nil
		}

		_ = conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, _, err := conn.ReadFromUDP(scratch)
		if err != nil {
			var netErr net.Error
			if stderrors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil || !u.running.Load() {
				return nil
			}
			u.errors.Add(1)
			if u.metrics != nil {
				u.metrics.socketErrors.Inc()
			}
			if !errors.IsTransient(err) {
				return errors.WrapFatal(err, "udp-input", "readLoop", "socket read")
			}
			continue
		}

		now := time.Now()
		u.received.Add(1)
		u.lastActivity.Store(now)
		if u.metrics != nil {
			u.metrics.packetsReceived.Inc()
			u.metrics.lastActivity.Set(float64(now.Unix()))
		}
		if n == 0 {
			continue
		}

		if err := u.commit(ctx, b, scratch[:n]); err != nil {
			if stderrors.Is(err, buffer.ErrClosed) {
				u.logger.Debug("buffer closed, stopping read loop")
				return nil
			}
			return err
		}
	}
}

// commit copies one datagram into a single write reservation. Datagrams that
// do not fit in time are dropped and counted.
func (u *Input) commit(ctx context.Context, b *buffer.Buffer, datagram []byte) error {
	if len(datagram) > b.Capacity() {
		u.drop(DropOversize, len(datagram))
		return nil
	}

	start := time.Now()
	var r *buffer.Reservation
	var err error
	if u.cfg.Timeout < 0 {
		r, err = b.AcquireWriteContext(ctx, len(datagram), false)
	} else {
		r, err = b.AcquireWrite(len(datagram), false, u.cfg.Timeout)
	}
	if u.metrics != nil {
		u.metrics.reserveLatency.Observe(time.Since(start).Seconds())
	}

	switch {
	case err == nil:
	case stderrors.Is(err, buffer.ErrUnavailable):
		u.drop(DropUnavailable, len(datagram))
		return nil
	case ctx.Err() != nil:
		return nil
	default:
		return err
	}

	r.Fill(datagram)
	if err := b.CommitWrite(r); err != nil {
		return err
	}

	u.bytes.Add(int64(len(datagram)))
	if u.metrics != nil {
		u.metrics.bytesReceived.Add(float64(len(datagram)))
		u.metrics.bufferUtilization.Set(float64(b.PeekOccupied()) / float64(b.Capacity()))
	}
	return nil
}

func (u *Input) drop(reason string, size int) {
	u.dropped.Add(1)
	if u.metrics != nil {
		u.metrics.packetsDropped.WithLabelValues(reason).Inc()
	}
	u.logger.Debug("datagram dropped", "reason", reason, "size", size)
}
