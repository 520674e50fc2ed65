package pipeline

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/c360/flexbuf/errors"
	"github.com/c360/flexbuf/pkg/buffer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBuffer(t *testing.T, capacity int) *buffer.Buffer {
	t.Helper()
	b, err := buffer.New(capacity, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestReaderProducer_ClosesWriteSideAtEOF(t *testing.T) {
	b := newBuffer(t, 64)
	p := &ReaderProducer{Src: bytes.NewReader([]byte("hello")), Chunk: 4, Timeout: time.Second}

	require.NoError(t, p.Produce(context.Background(), b))
	assert.Equal(t, 5, b.PeekOccupied())
	assert.Equal(t, int64(2), b.Stats().Commits(buffer.Write), "a 4-byte chunk and a truncated 1-byte tail")

	_, err := b.AcquireWrite(1, false, 0)
	assert.ErrorIs(t, err, buffer.ErrClosed)
}

func TestReaderProducer_Validation(t *testing.T) {
	b := newBuffer(t, 8)

	err := (&ReaderProducer{}).Produce(context.Background(), b)
	assert.True(t, errors.IsInvalid(err))

	err = (&ReaderProducer{Src: bytes.NewReader(nil)}).Produce(context.Background(), nil)
	assert.ErrorIs(t, err, buffer.ErrInvalidBuffer)
}

func TestReaderProducer_SourceError(t *testing.T) {
	b := newBuffer(t, 64)
	boom := stderrors.New("disk on fire")
	src := io.MultiReader(bytes.NewReader([]byte("abc")), &failingReader{err: boom})

	err := (&ReaderProducer{Src: src, Chunk: 8, Timeout: time.Second}).Produce(context.Background(), b)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, b.PeekOccupied(), "bytes read before the error are committed")
}

func TestReaderProducer_CancelWhileFull(t *testing.T) {
	b := newBuffer(t, 8)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	err := (&ReaderProducer{Src: ZeroSource(100), Chunk: 8, Timeout: buffer.Infinite}).Produce(ctx, b)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 8, b.PeekOccupied())
}

func TestWriterConsumer_WritesSplitSpansInOrder(t *testing.T) {
	b := newBuffer(t, 8)
	w := buffer.NewWriter(b, 8, time.Second)

	// move the cursors so the next reservation wraps
	_, err := w.Write([]byte("xxxxxx"))
	require.NoError(t, err)
	_, err = io.CopyN(io.Discard, buffer.NewReader(b, 8, time.Second), 6)
	require.NoError(t, err)
	_, err = w.Write([]byte("wrapped!"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	var dst bytes.Buffer
	require.NoError(t, (&WriterConsumer{Dst: &dst, Chunk: 8, Timeout: time.Second}).Consume(context.Background(), b))
	assert.Equal(t, "wrapped!", dst.String())
}

func TestWriterConsumer_ShortWriteConsumesOnlyWritten(t *testing.T) {
	b := newBuffer(t, 16)
	_, err := buffer.NewWriter(b, 16, time.Second).Write([]byte("0123456789"))
	require.NoError(t, err)

	boom := stderrors.New("pipe closed")
	err = (&WriterConsumer{Dst: &failingWriter{limit: 3, err: boom}, Chunk: 16, Timeout: time.Second, Partial: true}).
		Consume(context.Background(), b)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 7, b.PeekOccupied())
}

func TestWriterConsumer_CancelWhileEmpty(t *testing.T) {
	b := newBuffer(t, 8)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	err := (&WriterConsumer{Dst: io.Discard, Timeout: 10 * time.Millisecond}).Consume(ctx, b)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriterConsumer_Validation(t *testing.T) {
	err := (&WriterConsumer{}).Consume(context.Background(), newBuffer(t, 8))
	assert.True(t, errors.IsInvalid(err))

	err = (&WriterConsumer{Dst: io.Discard}).Consume(context.Background(), nil)
	assert.ErrorIs(t, err, buffer.ErrInvalidBuffer)
}

func TestRandomSource_Deterministic(t *testing.T) {
	a, err := io.ReadAll(RandomSource(42, 10_000))
	require.NoError(t, err)
	b, err := io.ReadAll(RandomSource(42, 10_000))
	require.NoError(t, err)
	c, err := io.ReadAll(RandomSource(43, 10_000))
	require.NoError(t, err)

	assert.Len(t, a, 10_000)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestZeroSource(t *testing.T) {
	data, err := io.ReadAll(ZeroSource(100))
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 100), data)
}

func TestThrottle(t *testing.T) {
	src := bytes.NewReader(nil)
	assert.Same(t, src, Throttle(context.Background(), src, 0), "zero rate disables throttling")

	start := time.Now()
	data, err := io.ReadAll(Throttle(context.Background(), ZeroSource(3000), 10_000))
	require.NoError(t, err)
	assert.Len(t, data, 3000)
	// 1000 bytes of initial burst, the remaining 2000 at 10000 B/s
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = io.ReadAll(Throttle(ctx, ZeroSource(3000), 10))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVerify(t *testing.T) {
	big := bytes.Repeat([]byte{7}, 3*verifyBlock+17)
	corrupted := bytes.Clone(big)
	corrupted[verifyBlock+5] = 8

	tests := []struct {
		name      string
		want, got []byte
		offset    int64
		short     string
		match     bool
	}{
		{name: "equal", want: big, got: big, match: true},
		{name: "both empty", want: nil, got: nil, match: true},
		{name: "byte differs", want: big, got: corrupted, offset: verifyBlock + 5},
		{name: "actual short", want: big, got: big[:100], offset: 100, short: "actual"},
		{name: "expected short", want: big[:verifyBlock], got: big, offset: verifyBlock, short: "expected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Verify(bytes.NewReader(tt.want), bytes.NewReader(tt.got))
			if tt.match {
				assert.NoError(t, err)
				return
			}
			var mismatch *MismatchError
			require.ErrorAs(t, err, &mismatch)
			assert.Equal(t, tt.offset, mismatch.Offset)
			assert.Equal(t, tt.short, mismatch.Short)
			assert.ErrorIs(t, err, errors.ErrDataMismatch)
		})
	}
}

func TestVerify_ReadError(t *testing.T) {
	boom := stderrors.New("io")
	err := Verify(&failingReader{err: boom}, bytes.NewReader(nil))
	assert.ErrorIs(t, err, boom)
}

func TestVerifyFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(a, []byte("same"), 0o600))
	require.NoError(t, os.WriteFile(b, []byte("same"), 0o600))
	assert.NoError(t, VerifyFiles(a, b))

	require.NoError(t, os.WriteFile(b, []byte("sane"), 0o600))
	assert.ErrorIs(t, VerifyFiles(a, b), errors.ErrDataMismatch)

	assert.ErrorIs(t, VerifyFiles(a, filepath.Join(dir, "missing")), os.ErrNotExist)
}

type failingReader struct{ err error }

func (r *failingReader) Read([]byte) (int, error) { return 0, r.err }

type failingWriter struct {
	limit int
	err   error
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if len(p) <= w.limit {
		w.limit -= len(p)
		return len(p), nil
	}
	n := w.limit
	w.limit = 0
	return n, w.err
}
