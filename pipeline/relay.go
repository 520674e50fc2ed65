package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/c360/flexbuf/errors"
	"github.com/c360/flexbuf/metric"
	"github.com/c360/flexbuf/pkg/buffer"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// RelayConfig configures the buffer a Relay owns.
type RelayConfig struct {
	Name      string
	Capacity  int
	Alignment int
	Allocator buffer.Allocator        // optional; heap when nil
	Registry  *metric.MetricsRegistry // optional
	Logger    *slog.Logger            // optional
}

// Result summarises one relay run.
type Result struct {
	RunID     string
	BytesIn   int64
	BytesOut  int64
	ChunksIn  int64
	ChunksOut int64
	Elapsed   time.Duration
	Buffer    buffer.StatsSummary
}

// Throughput returns the consumed bytes per second.
func (r Result) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.BytesOut) / r.Elapsed.Seconds()
}

// Relay moves bytes from one Producer to one Consumer through a FLEX buffer.
// A Relay runs once.
type Relay struct {
	name     string
	runID    string
	buf      *buffer.Buffer
	producer Producer
	consumer Consumer
	logger   *slog.Logger
	metrics  *metric.Metrics
	started  atomic.Bool
}

// NewRelay creates the relay's buffer. The buffer's metrics, when a registry
// is given, are registered under the relay name.
func NewRelay(cfg RelayConfig, p Producer, c Consumer) (*Relay, error) {
	if p == nil || c == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Relay", "NewRelay", "producer and consumer required")
	}
	if cfg.Name == "" {
		cfg.Name = "relay"
	}
	if err := checkChunks(cfg.Capacity, p, c); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runID := uuid.NewString()
	logger = logger.With("component", "relay", "relay", cfg.Name, "run_id", runID)

	opts := []buffer.Option{buffer.WithLogger(logger)}
	if cfg.Allocator != nil {
		opts = append(opts, buffer.WithAllocator(cfg.Allocator))
	}
	var metrics *metric.Metrics
	if cfg.Registry != nil {
		opts = append(opts, buffer.WithMetrics(cfg.Registry, cfg.Name))
		metrics = cfg.Registry.CoreMetrics()
	}

	buf, err := buffer.New(cfg.Capacity, cfg.Alignment, opts...)
	if err != nil {
		return nil, err
	}

	return &Relay{
		name:     cfg.Name,
		runID:    runID,
		buf:      buf,
		producer: p,
		consumer: c,
		logger:   logger,
		metrics:  metrics,
	}, nil
}

// checkChunks applies CheckChunks to a ReaderProducer and WriterConsumer
// pair. Other producers and consumers are not checked.
func checkChunks(capacity int, p Producer, c Consumer) error {
	rp, ok := p.(*ReaderProducer)
	if !ok || capacity <= 0 {
		return nil
	}
	wc, ok := c.(*WriterConsumer)
	if !ok {
		return nil
	}
	return CheckChunks(capacity, rp.Chunk, wc.Chunk, rp.Partial, wc.Partial)
}

// CheckChunks rejects a non-partial producer and consumer whose fixed chunk
// sizes can leave each side waiting on the other. Chunks are clamped the
// way ReaderProducer and WriterConsumer clamp them.
func CheckChunks(capacity, writeChunk, readChunk int, writePartial, readPartial bool) error {
	if writePartial || readPartial {
		return nil
	}
	clamp := func(n int) int {
		if n <= 0 || n > capacity {
			return capacity
		}
		return n
	}
	write, read := clamp(writeChunk), clamp(readChunk)
	if buffer.ChunksStall(capacity, write, read) {
		return errors.WrapInvalid(
			fmt.Errorf("%w: producer chunk %d and consumer chunk %d can stall a %d byte buffer; make one side partial",
				errors.ErrInvalidConfig, write, read, capacity),
			"Relay", "CheckChunks", "check chunk sizes")
	}
	return nil
}

// RunID identifies this relay's run in logs and NATS headers.
func (r *Relay) RunID() string { return r.runID }

// Buffer returns the relay's buffer.
func (r *Relay) Buffer() *buffer.Buffer { return r.buf }

// Run starts the producer and the consumer and waits for both. The write
// side is closed when the producer returns. When one side fails the other is
// cancelled; a failed consumer also closes the buffer so
// a producer blocked on free space wakes. The buffer is closed when Run
// returns.
func (r *Relay) Run(ctx context.Context) (Result, error) {
	if !r.started.CompareAndSwap(false, true) {
		return Result{}, errors.WrapInvalid(errors.ErrAlreadyStarted, "Relay", "Run", "check state")
	}
	r.setStatus(metric.StatusStarting)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := r.producer.Produce(gctx, r.buf)
		_ = r.buf.CloseWrite()
		if err != nil {
			return fmt.Errorf("producer: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := r.consumer.Consume(gctx, r.buf); err != nil {
			_ = r.buf.Close()
			return fmt.Errorf("consumer: %w", err)
		}
		return nil
	})
	r.setStatus(metric.StatusRunning)
	r.logger.Info("Relay started", "capacity", r.buf.Capacity())

	err := g.Wait()
	res := r.result(time.Since(start))
	_ = r.buf.Close()
	r.record(res, err)
	return res, err
}

func (r *Relay) result(elapsed time.Duration) Result {
	stats := r.buf.Stats()
	return Result{
		RunID:     r.runID,
		BytesIn:   stats.Bytes(buffer.Write),
		BytesOut:  stats.Bytes(buffer.Read),
		ChunksIn:  stats.Commits(buffer.Write),
		ChunksOut: stats.Commits(buffer.Read),
		Elapsed:   elapsed,
		Buffer:    stats.Summary(),
	}
}

func (r *Relay) record(res Result, err error) {
	attrs := []any{
		"bytes_in", res.BytesIn,
		"bytes_out", res.BytesOut,
		"elapsed", res.Elapsed,
		"max_occupied", res.Buffer.MaxOccupied,
	}
	switch {
	case err == nil:
		r.logger.Info("Relay finished", attrs...)
	case stderrors.Is(err, context.Canceled):
		r.logger.Info("Relay cancelled", attrs...)
	default:
		r.logger.Error("Relay failed", append(attrs, "error", err)...)
	}

	if r.metrics == nil {
		return
	}
	r.metrics.BytesIn.WithLabelValues(r.name).Add(float64(res.BytesIn))
	r.metrics.BytesOut.WithLabelValues(r.name).Add(float64(res.BytesOut))
	r.metrics.Chunks.WithLabelValues(r.name, "in").Add(float64(res.ChunksIn))
	r.metrics.Chunks.WithLabelValues(r.name, "out").Add(float64(res.ChunksOut))
	r.metrics.RelayDuration.WithLabelValues(r.name).Observe(res.Elapsed.Seconds())
	if err != nil && !stderrors.Is(err, context.Canceled) {
		r.metrics.RecordError("relay", errors.Classify(err).String())
		r.setStatus(metric.StatusFailed)
		return
	}
	r.setStatus(metric.StatusStopped)
}

func (r *Relay) setStatus(status int) {
	if r.metrics != nil {
		r.metrics.RelayStatus.WithLabelValues(r.name).Set(float64(status))
	}
}
