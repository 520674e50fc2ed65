// Package buffer implements a fixed-capacity circular byte buffer shared by
// one producer and one consumer running at independent rates.
//
// # Reservations
//
// Neither side copies through the buffer. A side acquires a Reservation, a
// range of the storage it alone may touch, works on it in place, then
// commits or abandons it:
//
//	buf, err := buffer.New(1024, 16)
//	if err != nil {
//		return err
//	}
//	defer buf.Close()
//
//	// producer
//	w, err := buf.AcquireWrite(256, false, time.Second)
//	if err != nil {
//		return err // ErrUnavailable: no room within a second
//	}
//	w.Fill(block)
//	err = buf.CommitWrite(w)
//
//	// consumer
//	r, err := buf.AcquireRead(1024, true, buffer.Infinite)
//	if err != nil {
//		return err
//	}
//	out.Write(r.Primary())
//	if tail, ok := r.Secondary(); ok {
//		out.Write(tail)
//	}
//	err = buf.CommitRead(r)
//
// A range that crosses the end of storage comes back as two spans: Primary
// up to the end, Secondary from offset 0. Each side holds at most one
// reservation; a second acquire on the same side fails at once with
// ErrAlreadyReserved. Free and occupied lengths change only at commit, so
// the two sides never see overlapping ranges.
//
// # Waiting
//
// Acquire blocks until the requested length is available or its deadline
// passes. The deadline is computed once per call, so spurious wakes never
// extend it. Infinite waits without bound; a zero timeout polls. A call that
// cannot be satisfied returns ErrUnavailable, a transient error the caller
// retries. With partial set, the call instead returns whatever is available
// when the wait ends. The Context variants take the deadline from the
// context and also stop on cancellation.
//
// # Shutdown
//
// CloseWrite ends the producer's stream; the consumer drains and then reads
// io.EOF. Close wakes every blocked acquirer with ErrClosed and releases the
// storage once the last reservation is committed or abandoned.
//
// # Primitives
//
// The engine is written against Monitor and Cond (lock, wait with deadline,
// signal one) and Allocator (aligned allocate and free). NewMonitor and
// HeapAllocator are the defaults; MmapAllocator keeps storage outside the
// Go heap on unix systems.
//
// Writer and Reader adapt the two sides to the io interfaces.
package buffer
