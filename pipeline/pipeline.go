package pipeline

import (
	"context"
	"time"

	"github.com/c360/flexbuf/pkg/buffer"
)

// Producer fills a buffer. It closes the buffer's write side when it has no
// more data, so the consumer drains and then sees io.EOF.
type Producer interface {
	Produce(ctx context.Context, b *buffer.Buffer) error
}

// Consumer drains a buffer until the producer's end of stream.
type Consumer interface {
	Consume(ctx context.Context, b *buffer.Buffer) error
}

// ProducerFunc adapts a function to Producer.
type ProducerFunc func(ctx context.Context, b *buffer.Buffer) error

// Produce calls f(ctx, b).
func (f ProducerFunc) Produce(ctx context.Context, b *buffer.Buffer) error { return f(ctx, b) }

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(ctx context.Context, b *buffer.Buffer) error

// Consume calls f(ctx, b).
func (f ConsumerFunc) Consume(ctx context.Context, b *buffer.Buffer) error { return f(ctx, b) }

// chunkSize clamps n into (0, capacity].
func chunkSize(n int, b *buffer.Buffer) int {
	if n <= 0 || n > b.Capacity() {
		return b.Capacity()
	}
	return n
}

// acquire reserves on side, bounded by timeout or, for buffer.Infinite, by
// ctx alone. A partial stage without a deadline takes whatever is available
// as soon as there is any; waiting for the full chunk there could block both
// sides for good.
func acquire(ctx context.Context, b *buffer.Buffer, side buffer.Side, n int, partial bool, timeout time.Duration) (*buffer.Reservation, error) {
	if timeout < 0 {
		if partial {
			if side == buffer.Write {
				return b.AcquireWriteAnyContext(ctx, n)
			}
			return b.AcquireReadAnyContext(ctx, n)
		}
		if side == buffer.Write {
			return b.AcquireWriteContext(ctx, n, partial)
		}
		return b.AcquireReadContext(ctx, n, partial)
	}
	if side == buffer.Write {
		return b.AcquireWrite(n, partial, timeout)
	}
	return b.AcquireRead(n, partial, timeout)
}

// settle commits the first n bytes of r, or abandons r when n is zero.
func settle(r *buffer.Reservation, n int) error {
	if n == 0 {
		return r.Abandon()
	}
	if n < r.Len() {
		if err := r.Truncate(n); err != nil {
			return err
		}
	}
	return r.Commit()
}
