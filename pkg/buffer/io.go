package buffer

import (
	"io"
	"time"
)

// Writer adapts the producer side of a Buffer to io.Writer, io.ReaderFrom
// and io.Closer. Each step reserves at most chunk bytes.
type Writer struct {
	buf     *Buffer
	chunk   int
	timeout time.Duration
}

var (
	_ io.WriteCloser = (*Writer)(nil)
	_ io.ReaderFrom  = (*Writer)(nil)
)

// NewWriter returns a Writer over b. A chunk outside (0, capacity] becomes
// the capacity. timeout bounds every acquire; use Infinite to block.
func NewWriter(b *Buffer, chunk int, timeout time.Duration) *Writer {
	if chunk <= 0 || chunk > b.Capacity() {
		chunk = b.Capacity()
	}
	return &Writer{buf: b, chunk: chunk, timeout: timeout}
}

// Write copies p into the buffer in chunk-sized reservations. It returns
// ErrUnavailable with a short count when a chunk does not fit in time.
func (w *Writer) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n := min(len(p)-written, w.chunk)
		r, err := w.buf.AcquireWrite(n, false, w.timeout)
		if err != nil {
			return written, err
		}
		r.Fill(p[written : written+n])
		if err := w.buf.CommitWrite(r); err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

// ReadFrom reads src directly into reservations until src reports io.EOF.
// Each step takes whatever free space exists, up to chunk, as soon as there
// is any.
func (w *Writer) ReadFrom(src io.Reader) (int64, error) {
	var total int64
	for {
		r, err := w.buf.AcquireWriteAny(w.chunk, w.timeout)
		if err != nil {
			return total, err
		}
		n, rerr := readInto(src, r)
		if n > 0 {
			if err := r.Truncate(n); err != nil {
				return total, err
			}
			if err := w.buf.CommitWrite(r); err != nil {
				return total, err
			}
			total += int64(n)
		} else if err := w.buf.AbandonWrite(r); err != nil {
			return total, err
		}

		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			return total, rerr
		}
	}
}

// Close closes the write side; the reader drains and then sees io.EOF.
func (w *Writer) Close() error {
	return w.buf.CloseWrite()
}

// readInto performs one read per span, stopping at a short read.
func readInto(src io.Reader, r *Reservation) (int, error) {
	primary := r.Primary()
	n, err := src.Read(primary)
	if err != nil || n < len(primary) {
		return n, err
	}
	if sec, ok := r.Secondary(); ok {
		m, err := src.Read(sec)
		return n + m, err
	}
	return n, nil
}

// ReadFull fills r from src, primary span first, like io.ReadFull. It
// returns the number of bytes placed and io.EOF or io.ErrUnexpectedEOF when
// src ran dry first.
func ReadFull(src io.Reader, r *Reservation) (int, error) {
	n, err := io.ReadFull(src, r.Primary())
	if err != nil {
		return n, err
	}
	if sec, ok := r.Secondary(); ok {
		m, err := io.ReadFull(src, sec)
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return n + m, err
	}
	return n, nil
}

// WriteSpans writes the reserved bytes of r to dst in order and returns the
// number of bytes written.
func WriteSpans(dst io.Writer, r *Reservation) (int, error) {
	n, err := dst.Write(r.Primary())
	if err != nil {
		return n, err
	}
	if sec, ok := r.Secondary(); ok {
		m, err := dst.Write(sec)
		return n + m, err
	}
	return n, nil
}

// Reader adapts the consumer side of a Buffer to io.Reader and io.WriterTo.
type Reader struct {
	buf     *Buffer
	chunk   int
	timeout time.Duration
}

var (
	_ io.Reader   = (*Reader)(nil)
	_ io.WriterTo = (*Reader)(nil)
)

// NewReader returns a Reader over b. Chunk and timeout behave as in
// NewWriter.
func NewReader(b *Buffer, chunk int, timeout time.Duration) *Reader {
	if chunk <= 0 || chunk > b.Capacity() {
		chunk = b.Capacity()
	}
	return &Reader{buf: b, chunk: chunk, timeout: timeout}
}

// Read returns up to min(len(p), chunk) bytes as soon as any are buffered,
// waiting at most the timeout for the first one. It returns io.EOF after the
// writer closed and everything was read.
func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	res, err := r.buf.AcquireReadAny(min(len(p), r.chunk), r.timeout)
	if err != nil {
		return 0, err
	}
	n := res.CopyTo(p)
	if err := r.buf.CommitRead(res); err != nil {
		return 0, err
	}
	return n, nil
}

// WriteTo writes buffered bytes to dst straight from storage until the
// writer closes.
func (r *Reader) WriteTo(dst io.Writer) (int64, error) {
	var total int64
	for {
		res, err := r.buf.AcquireReadAny(r.chunk, r.timeout)
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}

		n, werr := WriteSpans(dst, res)
		if n < res.Len() {
			if err := res.Truncate(n); err != nil {
				return total, err
			}
		}
		if err := r.buf.CommitRead(res); err != nil {
			return total, err
		}
		total += int64(n)
		if werr != nil {
			return total, werr
		}
	}
}
