package pipeline

import (
	"context"
	stderrors "errors"
	"io"
	"time"

	"github.com/c360/flexbuf/errors"
	"github.com/c360/flexbuf/pkg/buffer"
)

// ReaderProducer copies Src into the buffer, reading straight into write
// reservations of up to Chunk bytes.
//
// A reservation that cannot be granted before Timeout is retried until ctx
// ends. With Partial unset every reservation is exactly Chunk bytes except
// the final one, which is truncated to what Src still had.
type ReaderProducer struct {
	Src     io.Reader
	Chunk   int
	Timeout time.Duration
	Partial bool
}

// Produce copies until Src reports io.EOF, then closes the write side.
func (p *ReaderProducer) Produce(ctx context.Context, b *buffer.Buffer) error {
	if b == nil {
		return errors.WrapInvalid(buffer.ErrInvalidBuffer, "ReaderProducer", "Produce", "check buffer")
	}
	if p.Src == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "ReaderProducer", "Produce", "source reader required")
	}
	defer func() { _ = b.CloseWrite() }()

	chunk := chunkSize(p.Chunk, b)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		r, err := acquire(ctx, b, buffer.Write, chunk, p.Partial, p.Timeout)
		if err != nil {
			if stderrors.Is(err, buffer.ErrUnavailable) {
				continue
			}
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			return err
		}

		n, rerr := buffer.ReadFull(p.Src, r)
		if err := settle(r, n); err != nil {
			return err
		}

		switch {
		case rerr == nil:
		case rerr == io.EOF, rerr == io.ErrUnexpectedEOF:
			return nil
		default:
			return errors.WrapTransient(rerr, "ReaderProducer", "Produce", "read source")
		}
	}
}
