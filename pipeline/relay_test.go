package pipeline

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/c360/flexbuf/errors"
	"github.com/c360/flexbuf/metric"
	"github.com/c360/flexbuf/output/file"
	"github.com/c360/flexbuf/pkg/buffer"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
)

// RelaySuite runs relays against a fresh metrics registry per test.
type RelaySuite struct {
	suite.Suite
	registry *metric.MetricsRegistry
	dir      string
}

func TestRelaySuite(t *testing.T) {
	suite.Run(t, new(RelaySuite))
}

func (s *RelaySuite) SetupTest() {
	s.registry = metric.NewMetricsRegistry()
	s.dir = s.T().TempDir()
}

func (s *RelaySuite) config(name string, capacity int) RelayConfig {
	return RelayConfig{Name: name, Capacity: capacity, Alignment: 16, Registry: s.registry}
}

func (s *RelaySuite) status(name string) float64 {
	return testutil.ToFloat64(s.registry.CoreMetrics().RelayStatus.WithLabelValues(name))
}

func (s *RelaySuite) TestDemoRoundTrip() {
	srcPath := filepath.Join(s.dir, "SRC.bin")
	dstPath := filepath.Join(s.dir, "DST.bin")

	srcFile, err := file.NewOutput(file.Config{Path: srcPath}, nil)
	s.Require().NoError(err)
	dst, err := file.NewOutput(file.Config{Path: dstPath, Sync: true}, nil)
	s.Require().NoError(err)

	const total = 1 << 20
	relay, err := NewRelay(s.config("demo", 1024),
		&ReaderProducer{Src: io.TeeReader(RandomSource(1, total), srcFile), Chunk: 256, Timeout: time.Second},
		&WriterConsumer{Dst: dst, Chunk: 1024, Timeout: time.Second, Partial: true})
	s.Require().NoError(err)
	s.Len(relay.RunID(), 36)

	res, err := relay.Run(context.Background())
	s.Require().NoError(err)
	s.Require().NoError(srcFile.Close())
	s.Require().NoError(dst.Close())

	s.Equal(relay.RunID(), res.RunID)
	s.Equal(int64(total), res.BytesIn)
	s.Equal(int64(total), res.BytesOut)
	s.Equal(int64(total/256), res.ChunksIn)
	s.LessOrEqual(res.Buffer.MaxOccupied, int64(1024))
	s.Positive(res.Throughput())
	s.NoError(VerifyFiles(srcPath, dstPath))

	core := s.registry.CoreMetrics()
	s.Equal(float64(total), testutil.ToFloat64(core.BytesIn.WithLabelValues("demo")))
	s.Equal(float64(total), testutil.ToFloat64(core.BytesOut.WithLabelValues("demo")))
	s.Equal(float64(total/256), testutil.ToFloat64(core.Chunks.WithLabelValues("demo", "in")))
	s.Equal(float64(metric.StatusStopped), s.status("demo"))
	s.True(relay.Buffer().Closed())
}

func (s *RelaySuite) TestNonPartialTailIsDrained() {
	src := bytes.Repeat([]byte("0123456789"), 5) // 50 bytes, not a multiple of the read chunk
	var dst bytes.Buffer

	relay, err := NewRelay(s.config("tail", 16),
		&ReaderProducer{Src: bytes.NewReader(src), Chunk: 4, Timeout: time.Second},
		&WriterConsumer{Dst: &dst, Chunk: 16, Timeout: time.Second})
	s.Require().NoError(err)

	res := s.runWithin(relay, 10*time.Second)
	s.Equal(src, dst.Bytes())
	s.Equal(int64(50), res.BytesOut)
}

// runWithin runs relay and fails the test if it has not finished after d.
func (s *RelaySuite) runWithin(relay *Relay, d time.Duration) Result {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	res, err := relay.Run(ctx)
	s.Require().NoError(err, "relay did not finish within %v", d)
	return res
}

func (s *RelaySuite) TestStallingFixedChunksRejected() {
	_, err := NewRelay(s.config("stall", 1024),
		&ReaderProducer{Src: RandomSource(1, 4096), Chunk: 300, Timeout: 50 * time.Millisecond},
		&WriterConsumer{Dst: io.Discard, Chunk: 1024, Timeout: 50 * time.Millisecond})
	s.Require().Error(err)
	s.True(errors.IsInvalid(err))
	s.ErrorIs(err, errors.ErrInvalidConfig)

	_, err = NewRelay(s.config("tail-ok", 1024),
		&ReaderProducer{Src: RandomSource(1, 4096), Chunk: 300},
		&WriterConsumer{Dst: io.Discard, Chunk: 700})
	s.NoError(err)
}

func (s *RelaySuite) TestMisalignedChunksWithoutDeadline() {
	const total = 1 << 20
	for name, partialProducer := range map[string]bool{"fixed-writes": false, "partial-writes": true} {
		s.Run(name, func() {
			var dst bytes.Buffer
			relay, err := NewRelay(s.config("misaligned-"+name, 1000),
				&ReaderProducer{Src: RandomSource(5, total), Chunk: 333, Timeout: buffer.Infinite, Partial: partialProducer},
				&WriterConsumer{Dst: &dst, Chunk: 1000, Timeout: buffer.Infinite, Partial: true})
			s.Require().NoError(err)

			res := s.runWithin(relay, 10*time.Second)
			s.Equal(int64(total), res.BytesOut)
			s.NoError(Verify(RandomSource(5, total), &dst))
		})
	}
}

func (s *RelaySuite) TestFixedConsumerTakesWhatVariableProducerLeaves() {
	src := make([]byte, 10_000)
	for i := range src {
		src[i] = byte(i % 251)
	}
	var dst bytes.Buffer

	// 333 byte writes never leave 1000 bytes in a 1000 byte buffer
	relay, err := NewRelay(s.config("variable", 1000),
		ProducerFunc(func(_ context.Context, b *buffer.Buffer) error {
			_, err := buffer.NewWriter(b, 333, buffer.Infinite).Write(src)
			return err
		}),
		&WriterConsumer{Dst: &dst, Chunk: 1000, Timeout: 20 * time.Millisecond})
	s.Require().NoError(err)

	res := s.runWithin(relay, 10*time.Second)
	s.Equal(int64(len(src)), res.BytesOut)
	s.Equal(src, dst.Bytes())
}

func (s *RelaySuite) TestPollingSidesStillDeliverEverything() {
	var dst bytes.Buffer
	relay, err := NewRelay(s.config("poll", 64),
		&ReaderProducer{Src: RandomSource(3, 64*1024), Chunk: 48, Timeout: 0},
		&WriterConsumer{Dst: &dst, Chunk: 40, Timeout: 0, Partial: true})
	s.Require().NoError(err)

	_, err = relay.Run(context.Background())
	s.Require().NoError(err)
	s.NoError(Verify(RandomSource(3, 64*1024), &dst))
	s.Positive(relay.Buffer().Stats().Unavailable(buffer.Write)+relay.Buffer().Stats().Unavailable(buffer.Read),
		"polling with a small buffer hits unavailable at least once")
}

func (s *RelaySuite) TestConsumerFailureWakesBlockedProducer() {
	sinkErr := stderrors.New("sink broke")
	relay, err := NewRelay(s.config("broken-sink", 64),
		&ReaderProducer{Src: ZeroSource(1 << 30), Chunk: 32, Timeout: buffer.Infinite},
		ConsumerFunc(func(_ context.Context, b *buffer.Buffer) error {
			for b.PeekFree() > 0 {
				time.Sleep(time.Millisecond)
			}
			return sinkErr
		}))
	s.Require().NoError(err)

	done := make(chan struct{})
	var runErr error
	go func() {
		_, runErr = relay.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.FailNow("relay did not stop after the consumer failed")
	}
	s.ErrorIs(runErr, sinkErr)
	s.Contains(runErr.Error(), "consumer:")
	s.Equal(float64(metric.StatusFailed), s.status("broken-sink"))
	s.Equal(1.0, testutil.ToFloat64(s.registry.CoreMetrics().ErrorsTotal.WithLabelValues("relay", "transient")))
}

func (s *RelaySuite) TestProducerFailureDrainsCommittedBytes() {
	srcErr := stderrors.New("source broke")
	var dst bytes.Buffer
	relay, err := NewRelay(s.config("broken-source", 256),
		ProducerFunc(func(_ context.Context, b *buffer.Buffer) error {
			if _, err := buffer.NewWriter(b, 32, time.Second).Write(make([]byte, 100)); err != nil {
				return err
			}
			return srcErr
		}),
		&WriterConsumer{Dst: &dst, Chunk: 64, Timeout: time.Second})
	s.Require().NoError(err)

	res, err := relay.Run(context.Background())
	s.ErrorIs(err, srcErr)
	s.Contains(err.Error(), "producer:")
	s.Equal(100, dst.Len(), "bytes committed before the failure still reach the consumer")
	s.Equal(int64(100), res.BytesOut)
}

func (s *RelaySuite) TestCancelStopsEndlessRelay() {
	ctx, cancel := context.WithCancel(context.Background())
	relay, err := NewRelay(s.config("endless", 4096),
		&ReaderProducer{Src: ZeroSource(1 << 40), Chunk: 1024, Timeout: 100 * time.Millisecond},
		&WriterConsumer{Dst: io.Discard, Chunk: 4096, Timeout: 100 * time.Millisecond, Partial: true})
	s.Require().NoError(err)

	time.AfterFunc(50*time.Millisecond, cancel)
	res, err := relay.Run(ctx)
	s.ErrorIs(err, context.Canceled)
	s.Positive(res.BytesOut)
	s.Equal(float64(metric.StatusStopped), s.status("endless"))
	s.Zero(testutil.ToFloat64(s.registry.CoreMetrics().ErrorsTotal.WithLabelValues("relay", "transient")))
}

func (s *RelaySuite) TestRunOnce() {
	relay, err := NewRelay(s.config("once", 16),
		&ReaderProducer{Src: bytes.NewReader([]byte("x"))},
		&WriterConsumer{Dst: io.Discard, Partial: true})
	s.Require().NoError(err)

	_, err = relay.Run(context.Background())
	s.Require().NoError(err)
	_, err = relay.Run(context.Background())
	s.ErrorIs(err, errors.ErrAlreadyStarted)
}

func (s *RelaySuite) TestNewRelayValidation() {
	_, err := NewRelay(s.config("nil", 16), nil, &WriterConsumer{Dst: io.Discard})
	s.True(errors.IsInvalid(err))

	_, err = NewRelay(s.config("zero", 0), &ReaderProducer{Src: bytes.NewReader(nil)}, &WriterConsumer{Dst: io.Discard})
	s.ErrorIs(err, buffer.ErrInvalidCapacity)
}

func (s *RelaySuite) TestMmapAllocator() {
	probe := buffer.NewMmapAllocator()
	region, err := probe.Allocate(4096, 4096)
	if err != nil {
		s.T().Skip("mmap allocator not available on this platform")
	}
	s.Require().NoError(probe.Free(region))

	cfg := s.config("mmap", 4096)
	cfg.Allocator = buffer.NewMmapAllocator()

	var dst bytes.Buffer
	relay, err := NewRelay(cfg,
		&ReaderProducer{Src: RandomSource(9, 100_000), Chunk: 1000, Timeout: time.Second},
		&WriterConsumer{Dst: &dst, Chunk: 4096, Timeout: time.Second, Partial: true})
	s.Require().NoError(err)
	_, err = relay.Run(context.Background())
	s.Require().NoError(err)
	s.NoError(Verify(RandomSource(9, 100_000), &dst))
	s.Zero(cfg.Allocator.(*buffer.MmapAllocator).Outstanding(), "storage is unmapped after the run")
}

func TestResult_Throughput(t *testing.T) {
	if got := (Result{BytesOut: 10}).Throughput(); got != 0 {
		t.Fatalf("zero elapsed: got %v", got)
	}
	if got := (Result{BytesOut: 2000, Elapsed: 2 * time.Second}).Throughput(); got != 1000 {
		t.Fatalf("got %v, want 1000", got)
	}
}
