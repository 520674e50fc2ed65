package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/c360/flexbuf/config"
	"github.com/c360/flexbuf/pipeline"
	"github.com/c360/flexbuf/pkg/buffer"
)

type benchOptions struct {
	capacity  int
	alignment int
	size      int64
	chunk     int
	partial   bool
	allocator string
	jsonOut   bool
}

func newBenchCmd(root *rootOptions) *cobra.Command {
	o := &benchOptions{}

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure in-memory relay throughput",
		Long: `bench relays zero bytes from memory to io.Discard through one buffer
and reports throughput together with the buffer statistics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBench(cmd.Context(), cmd, root, o)
		},
	}

	f := cmd.Flags()
	f.IntVar(&o.capacity, "capacity", 1<<20, "Buffer capacity in bytes")
	f.IntVar(&o.alignment, "alignment", 64, "Buffer alignment, a power of two")
	f.Int64Var(&o.size, "size", 256<<20, "Bytes to relay")
	f.IntVar(&o.chunk, "chunk", 64<<10, "Reservation size on both sides")
	f.BoolVar(&o.partial, "partial", true, "Accept partial reservations")
	f.StringVar(&o.allocator, "allocator", config.AllocatorHeap, "Buffer memory: heap or mmap")
	f.BoolVar(&o.jsonOut, "json", false, "Print the result as JSON")
	return cmd
}

func runBench(ctx context.Context, cmd *cobra.Command, root *rootOptions, o *benchOptions) error {
	logger := root.logger(nil, cmd.ErrOrStderr())
	if ctx == nil {
		ctx = context.Background()
	}

	alloc, err := allocatorFor(o.allocator)
	if err != nil {
		return err
	}

	relay, err := pipeline.NewRelay(pipeline.RelayConfig{
		Name:      "bench",
		Capacity:  o.capacity,
		Alignment: o.alignment,
		Allocator: alloc,
		Logger:    logger,
	}, &pipeline.ReaderProducer{
		Src:     pipeline.ZeroSource(o.size),
		Chunk:   o.chunk,
		Timeout: buffer.Infinite,
		Partial: o.partial,
	}, &pipeline.WriterConsumer{
		Dst:     io.Discard,
		Chunk:   o.chunk,
		Timeout: buffer.Infinite,
		Partial: o.partial,
	})
	if err != nil {
		return err
	}

	res, err := relay.Run(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if o.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			pipeline.Result
			MiBPerSecond float64 `json:"mib_per_second"`
		}{res, res.Throughput() / (1 << 20)})
	}

	_, _ = fmt.Fprintf(out, "bytes       %d\n", res.BytesOut)
	_, _ = fmt.Fprintf(out, "elapsed     %s\n", res.Elapsed)
	_, _ = fmt.Fprintf(out, "throughput  %.1f MiB/s\n", res.Throughput()/(1<<20))
	_, _ = fmt.Fprintf(out, "commits     %d write, %d read\n", res.ChunksIn, res.ChunksOut)
	_, _ = fmt.Fprintf(out, "partials    %d write, %d read\n", res.Buffer.Write.Partials, res.Buffer.Read.Partials)
	_, _ = fmt.Fprintf(out, "waits       %s write, %s read\n", res.Buffer.Write.WaitTime, res.Buffer.Read.WaitTime)
	_, _ = fmt.Fprintf(out, "max fill    %d of %d\n", res.Buffer.MaxOccupied, o.capacity)
	return nil
}
