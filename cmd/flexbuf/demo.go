package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360/flexbuf/config"
	"github.com/c360/flexbuf/errors"
	"github.com/c360/flexbuf/output/file"
	"github.com/c360/flexbuf/pipeline"
	"github.com/c360/flexbuf/pkg/buffer"
)

type demoOptions struct {
	capacity   int
	alignment  int
	size       int64
	writeChunk int
	readChunk  int
	timeout    time.Duration
	partial    bool
	seed       uint64
	src        string
	dst        string
	allocator  string
}

func newDemoCmd(root *rootOptions) *cobra.Command {
	o := &demoOptions{}

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Relay random data through a small buffer and verify it",
		Long: `demo starts a producer that writes pseudo-random data into a 1 KiB buffer
in 256-byte reservations, teeing everything it writes to SRC.bin, and a
consumer that reads 1024-byte reservations into DST.bin. When both finish
the two files are compared and "VERIFY ... OK" or "VERIFY ... ERROR" is
printed. A mismatch exits non-zero.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDemo(cmd.Context(), cmd, root, o)
		},
	}

	f := cmd.Flags()
	f.IntVar(&o.capacity, "capacity", 1024, "Buffer capacity in bytes")
	f.IntVar(&o.alignment, "alignment", 16, "Buffer alignment, a power of two")
	f.Int64Var(&o.size, "size", 1<<20, "Bytes to produce")
	f.IntVar(&o.writeChunk, "write-chunk", 256, "Producer reservation size")
	f.IntVar(&o.readChunk, "read-chunk", 1024, "Consumer reservation size")
	f.DurationVar(&o.timeout, "timeout", time.Second, "Wait per reservation; negative waits forever")
	f.BoolVar(&o.partial, "partial", false, "Accept partial producer reservations")
	f.Uint64Var(&o.seed, "seed", 1, "Seed for the random source")
	f.StringVar(&o.src, "src", "SRC.bin", "File receiving a copy of everything produced")
	f.StringVar(&o.dst, "dst", "DST.bin", "File receiving everything consumed")
	f.StringVar(&o.allocator, "allocator", config.AllocatorHeap, "Buffer memory: heap or mmap")
	return cmd
}

func runDemo(ctx context.Context, cmd *cobra.Command, root *rootOptions, o *demoOptions) error {
	logger := root.logger(nil, cmd.ErrOrStderr())
	if ctx == nil {
		ctx = context.Background()
	}

	alloc, err := allocatorFor(o.allocator)
	if err != nil {
		return err
	}
	if o.capacity > 0 {
		if err := pipeline.CheckChunks(o.capacity, o.writeChunk, o.readChunk, o.partial, false); err != nil {
			return err
		}
	}

	src, err := file.NewOutput(file.Config{Path: o.src}, logger)
	if err != nil {
		return err
	}
	dst, err := file.NewOutput(file.Config{Path: o.dst}, logger)
	if err != nil {
		_ = src.Close()
		return err
	}

	relay, err := pipeline.NewRelay(pipeline.RelayConfig{
		Name:      "demo",
		Capacity:  o.capacity,
		Alignment: o.alignment,
		Allocator: alloc,
		Logger:    logger,
	}, &pipeline.ReaderProducer{
		Src:     io.TeeReader(pipeline.RandomSource(o.seed, o.size), src),
		Chunk:   o.writeChunk,
		Timeout: o.timeout,
		Partial: o.partial,
	}, &pipeline.WriterConsumer{
		Dst:     dst,
		Chunk:   o.readChunk,
		Timeout: o.timeout,
	})
	if err != nil {
		_ = src.Close()
		_ = dst.Close()
		return err
	}

	res, runErr := relay.Run(ctx)
	if err := stderrors.Join(src.Close(), dst.Close()); err != nil {
		return errors.Wrap(err, "demo", "runDemo", "close output files")
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "relayed %d bytes in %d/%d chunks, %s (%.1f MiB/s, max occupied %d)\n",
		res.BytesOut, res.ChunksIn, res.ChunksOut, res.Elapsed.Round(time.Millisecond),
		res.Throughput()/(1<<20), res.Buffer.MaxOccupied)

	verifyErr := pipeline.VerifyFiles(o.src, o.dst)
	status := "OK"
	if verifyErr != nil {
		status = "ERROR"
	}
	_, _ = fmt.Fprintf(out, "VERIFY ... %s\n", status)

	if runErr != nil {
		return runErr
	}
	return verifyErr
}

// allocatorFor maps a configured allocator name to a buffer allocator. The
// heap allocator is the buffer's default, so it maps to nil.
func allocatorFor(name string) (buffer.Allocator, error) {
	switch name {
	case "", config.AllocatorHeap:
		return nil, nil
	case config.AllocatorMmap:
		return buffer.NewMmapAllocator(), nil
	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cli", "allocatorFor",
			fmt.Sprintf("allocator %q is not heap or mmap", name))
	}
}
