// Package pipeline connects byte producers and consumers through a FLEX
// buffer.
//
// A Relay owns one buffer and runs exactly one Producer and one Consumer
// against it, the single-producer single-consumer arrangement the buffer is
// built for:
//
//	relay, err := pipeline.NewRelay(pipeline.RelayConfig{
//	    Name:      "demo",
//	    Capacity:  1024,
//	    Alignment: 16,
//	}, &pipeline.ReaderProducer{
//	    Src:     pipeline.RandomSource(1, 1<<20),
//	    Chunk:   256,
//	    Timeout: time.Second,
//	}, &pipeline.WriterConsumer{
//	    Dst:     dst,
//	    Chunk:   1024,
//	    Timeout: time.Second,
//	    Partial: true,
//	})
//	if err != nil {
//	    return err
//	}
//	res, err := relay.Run(ctx)
//
// The producer closes the buffer's write side when its source ends; the
// consumer drains what is left and returns at io.EOF. If either side fails
// the other is cancelled, and a failing consumer also closes the buffer so a
// producer blocked on free space wakes up.
//
// ReaderProducer reads straight into write reservations and WriterConsumer
// writes straight out of read reservations, so relayed bytes are copied once
// on the way in and once on the way out. RandomSource, ZeroSource and
// Throttle build sources; Verify and VerifyFiles check the result.
package pipeline
