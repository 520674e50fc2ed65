package pipeline

import (
	"context"
	stderrors "errors"
	"io"
	"time"

	"github.com/c360/flexbuf/errors"
	"github.com/c360/flexbuf/pkg/buffer"
)

// WriterConsumer drains the buffer into Dst in reservations of up to Chunk
// bytes, writing the primary span and then the secondary span.
//
// A read that cannot be granted before Timeout is retried until ctx ends.
// When a non-partial read times out while bytes are buffered, the consumer
// takes those bytes instead: a producer whose reservations do not add up to
// Chunk (datagrams, short source reads) may never let Chunk bytes collect.
// Once the producer has closed, a non-partial consumer switches to partial
// reads to drain a tail shorter than Chunk.
type WriterConsumer struct {
	Dst     io.Writer
	Chunk   int
	Timeout time.Duration
	Partial bool
}

// Consume returns nil once the producer closed and every byte was written.
func (c *WriterConsumer) Consume(ctx context.Context, b *buffer.Buffer) error {
	if b == nil {
		return errors.WrapInvalid(buffer.ErrInvalidBuffer, "WriterConsumer", "Consume", "check buffer")
	}
	if c.Dst == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "WriterConsumer", "Consume", "destination writer required")
	}

	chunk := chunkSize(c.Chunk, b)
	partial := c.Partial
	for {
		r, err := acquire(ctx, b, buffer.Read, chunk, partial, c.Timeout)
		switch {
		case err == nil:
		case err == io.EOF:
			return nil
		case err == io.ErrUnexpectedEOF:
			partial = true
			continue
		case stderrors.Is(err, buffer.ErrUnavailable):
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			if partial || b.PeekOccupied() == 0 {
				continue
			}
			if r, err = b.AcquireRead(chunk, true, 0); err != nil {
				continue
			}
		default:
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			return err
		}

		n, werr := buffer.WriteSpans(c.Dst, r)
		if err := settle(r, n); err != nil {
			return err
		}
		if werr != nil {
			return errors.WrapTransient(werr, "WriterConsumer", "Consume", "write destination")
		}
	}
}
