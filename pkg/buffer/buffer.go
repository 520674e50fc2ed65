package buffer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	cerrors "github.com/c360/flexbuf/errors"
	"github.com/c360/flexbuf/metric"
)

// Infinite disables the deadline of AcquireWrite and AcquireRead.
const Infinite time.Duration = -1

// Buffer is a fixed-capacity circular byte buffer shared by one producer and
// one consumer. Each side holds at most one outstanding Reservation; the
// free and occupied lengths change only when a reservation is committed.
type Buffer struct {
	capacity  int
	alignment int
	storage   []byte
	alloc     Allocator

	mon   Monitor
	conds [2]Cond

	// guarded by mon
	position    int
	free        int
	sides       [2]sideState
	waiters     int
	writeClosed bool
	closed      bool
	freed       bool

	stats      *Statistics
	metrics    *bufferMetrics
	metricsReg *metric.MetricsRegistry
	name       string
	logger     *slog.Logger
}

type sideState struct {
	reserved bool
	seq      uint64
}

// New allocates a buffer of capacity bytes whose storage starts on an
// alignment boundary. Alignment 0 or 1 means no requirement; any other value
// must be a power of two.
func New(capacity, alignment int, options ...Option) (*Buffer, error) {
	if capacity <= 0 {
		return nil, cerrors.WrapInvalid(ErrInvalidCapacity, "Buffer", "New",
			fmt.Sprintf("validate capacity %d", capacity))
	}
	if !validAlignment(alignment) {
		return nil, cerrors.WrapInvalid(ErrInvalidAlignment, "Buffer", "New",
			fmt.Sprintf("validate alignment %d", alignment))
	}
	alignment = max(alignment, 1)
	opts := applyOptions(options...)

	storage, err := opts.allocator.Allocate(capacity, alignment)
	if err != nil {
		return nil, cerrors.WrapFatal(fmt.Errorf("%w: %w", cerrors.ErrAllocationFailed, err),
			"Buffer", "New", "allocate storage")
	}
	if len(storage) != capacity || !IsAligned(storage, alignment) {
		_ = opts.allocator.Free(storage)
		return nil, cerrors.WrapFatal(cerrors.ErrAllocationFailed, "Buffer", "New",
			fmt.Sprintf("allocator returned %d bytes, misaligned or short", len(storage)))
	}

	var m *bufferMetrics
	if opts.metricsReg != nil {
		m, err = newBufferMetrics(opts.metricsReg, opts.metricsName, capacity)
		if err != nil {
			_ = opts.allocator.Free(storage)
			return nil, cerrors.WrapTransient(err, "Buffer", "New", "metrics registration")
		}
	}

	b := &Buffer{
		capacity:   capacity,
		alignment:  alignment,
		storage:    storage,
		alloc:      opts.allocator,
		mon:        opts.monitor,
		free:       capacity,
		stats:      NewStatistics(),
		metrics:    m,
		metricsReg: opts.metricsReg,
		name:       opts.metricsName,
		logger:     opts.logger.With("component", "buffer"),
	}
	b.conds[Write] = b.mon.NewCond()
	b.conds[Read] = b.mon.NewCond()

	b.logger.Debug("buffer created", "capacity", capacity, "alignment", alignment)
	return b, nil
}

// Capacity returns the storage size in bytes.
func (b *Buffer) Capacity() int {
	if b == nil {
		return 0
	}
	return b.capacity
}

// Alignment returns the storage alignment; 1 when none was requested.
func (b *Buffer) Alignment() int {
	if b == nil {
		return 0
	}
	return b.alignment
}

// Stats returns the buffer's statistics.
func (b *Buffer) Stats() *Statistics {
	if b == nil {
		return nil
	}
	return b.stats
}

// AcquireWrite reserves up to length free bytes for the producer.
//
// It fails at once on a non-positive length or while a write reservation is
// outstanding. Otherwise it waits until length bytes are free or timeout
// elapses; Infinite waits without bound and 0 polls. The deadline is fixed
// when the call starts. If fewer than length bytes are free at that point a
// partial call gets what is free and a non-partial call gets ErrUnavailable.
//
// Free and occupied lengths do not change until CommitWrite.
func (b *Buffer) AcquireWrite(length int, partial bool, timeout time.Duration) (*Reservation, error) {
	return b.acquire(context.Background(), Write, length, length, partial, deadline(timeout))
}

// AcquireRead reserves up to length committed bytes for the consumer, oldest
// first. Timeout and partial behave as in AcquireWrite. After CloseWrite it
// returns io.EOF once nothing is left, and io.ErrUnexpectedEOF when a
// non-partial request can no longer be met.
func (b *Buffer) AcquireRead(length int, partial bool, timeout time.Duration) (*Reservation, error) {
	return b.acquire(context.Background(), Read, length, length, partial, deadline(timeout))
}

// AcquireWriteContext is AcquireWrite bounded by ctx instead of a timeout.
// When nothing is granted because ctx ended it returns ctx's error.
func (b *Buffer) AcquireWriteContext(ctx context.Context, length int, partial bool) (*Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d, _ := ctx.Deadline()
	return b.acquire(ctx, Write, length, length, partial, d)
}

// AcquireReadContext is AcquireRead bounded by ctx instead of a timeout.
func (b *Buffer) AcquireReadContext(ctx context.Context, length int, partial bool) (*Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d, _ := ctx.Deadline()
	return b.acquire(ctx, Read, length, length, partial, d)
}

// AcquireWriteAny waits until at least one byte is free and then reserves
// min(free, length) bytes without waiting for more. Unlike a partial
// AcquireWrite it never holds out for the full length, so producers and
// consumers with unrelated chunk sizes cannot starve each other. Timeout
// bounds the wait for the first byte.
func (b *Buffer) AcquireWriteAny(length int, timeout time.Duration) (*Reservation, error) {
	return b.acquire(context.Background(), Write, 1, length, true, deadline(timeout))
}

// AcquireReadAny is the read side of AcquireWriteAny. After CloseWrite it
// returns the remaining bytes and then io.EOF.
func (b *Buffer) AcquireReadAny(length int, timeout time.Duration) (*Reservation, error) {
	return b.acquire(context.Background(), Read, 1, length, true, deadline(timeout))
}

// AcquireWriteAnyContext is AcquireWriteAny bounded by ctx.
func (b *Buffer) AcquireWriteAnyContext(ctx context.Context, length int) (*Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d, _ := ctx.Deadline()
	return b.acquire(ctx, Write, 1, length, true, d)
}

// AcquireReadAnyContext is AcquireReadAny bounded by ctx.
func (b *Buffer) AcquireReadAnyContext(ctx context.Context, length int) (*Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d, _ := ctx.Deadline()
	return b.acquire(ctx, Read, 1, length, true, d)
}

func deadline(timeout time.Duration) time.Time {
	if timeout < 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

func acquireOp(side Side) string {
	if side == Write {
		return "AcquireWrite"
	}
	return "AcquireRead"
}

// acquire waits until need bytes are available on side, then grants up to
// length. need equals length except for the Any variants.
func (b *Buffer) acquire(ctx context.Context, side Side, need, length int, partial bool, until time.Time) (*Reservation, error) {
	op := acquireOp(side)
	if b == nil {
		return nil, cerrors.WrapInvalid(ErrInvalidBuffer, "Buffer", op, "check buffer")
	}
	if length <= 0 {
		return nil, cerrors.WrapInvalid(ErrInvalidLength, "Buffer", op,
			fmt.Sprintf("request %d bytes", length))
	}
	done := ctx.Done()

	b.mon.Lock()
	defer b.mon.Unlock()

	b.stats.acquire(side)
	if b.closed || (side == Write && b.writeClosed) {
		b.recordAcquire(side, resultClosed)
		return nil, closedError(op)
	}
	st := &b.sides[side]
	if st.reserved {
		b.stats.reject(side)
		b.recordAcquire(side, resultRejected)
		return nil, cerrors.WrapInvalid(ErrAlreadyReserved, "Buffer", op, "check reservation")
	}

	if b.availableLocked(side) < need {
		start := time.Now()
		b.waiters++
		for b.availableLocked(side) < need && !b.closed && !b.writeClosed {
			if !b.conds[side].WaitUntil(until, done) {
				break
			}
		}
		b.waiters--
		waited := time.Since(start)
		b.stats.waited(side, waited)
		if b.metrics != nil {
			b.metrics.recordWait(side, waited)
		}
	}

	if b.closed || (side == Write && b.writeClosed) {
		b.recordAcquire(side, resultClosed)
		b.releaseStorageLocked()
		return nil, closedError(op)
	}
	if st.reserved {
		// another goroutine on this side won while we waited
		b.stats.reject(side)
		b.recordAcquire(side, resultRejected)
		return nil, cerrors.WrapInvalid(ErrAlreadyReserved, "Buffer", op, "check reservation")
	}

	avail := b.availableLocked(side)
	actual := min(avail, length)
	if actual < length && !partial {
		actual = 0
	}
	if actual == 0 {
		return nil, b.nothingLocked(ctx, side, avail)
	}

	st.reserved = true
	st.seq++
	r := &Reservation{buf: b, storage: b.storage, side: side, seq: st.seq}
	start := b.position
	if side == Read {
		start = (b.position + b.free) % b.capacity
	}
	if start+actual <= b.capacity {
		r.spans[0] = Span{Offset: start, Length: actual}
		r.n = 1
	} else {
		head := b.capacity - start
		r.spans[0] = Span{Offset: start, Length: head}
		r.spans[1] = Span{Offset: 0, Length: actual - head}
		r.n = 2
	}

	short := actual < length
	b.stats.grant(side, short)
	if short {
		b.recordAcquire(side, resultPartial)
	} else {
		b.recordAcquire(side, resultGranted)
	}
	return r, nil
}

// nothingLocked picks the error for an acquire that grants nothing.
func (b *Buffer) nothingLocked(ctx context.Context, side Side, avail int) error {
	if side == Read && b.writeClosed {
		b.recordAcquire(side, resultEOF)
		if avail == 0 {
			return io.EOF
		}
		return io.ErrUnexpectedEOF
	}

	b.stats.timeout(side)
	b.recordAcquire(side, resultUnavailable)
	if err := ctx.Err(); err != nil {
		return err
	}
	if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
		return context.DeadlineExceeded
	}
	return ErrUnavailable
}

func (b *Buffer) availableLocked(side Side) int {
	if side == Write {
		return b.free
	}
	return b.capacity - b.free
}

func (b *Buffer) recordAcquire(side Side, result string) {
	if b.metrics != nil {
		b.metrics.recordAcquire(side, result)
	}
}

// CommitWrite publishes the bytes of a write reservation to the consumer:
// position advances by the reserved length and the free length shrinks by
// it. One waiting reader is woken.
func (b *Buffer) CommitWrite(r *Reservation) error {
	return b.commit(Write, "CommitWrite", r)
}

// CommitRead releases the bytes of a read reservation back to the producer.
// One waiting writer is woken.
func (b *Buffer) CommitRead(r *Reservation) error {
	return b.commit(Read, "CommitRead", r)
}

func (b *Buffer) commit(side Side, op string, r *Reservation) error {
	if b == nil {
		return cerrors.WrapInvalid(ErrInvalidBuffer, "Buffer", op, "check buffer")
	}

	b.mon.Lock()
	defer b.mon.Unlock()

	if err := b.checkLocked(side, op, r); err != nil {
		return err
	}
	if b.closed {
		b.releaseLocked(r)
		b.releaseStorageLocked()
		return closedError(op)
	}

	n := r.Len()
	if n > b.availableLocked(side) {
		b.logger.Warn("commit exceeds available length", "side", side, "length", n,
			"available", b.availableLocked(side))
		return cerrors.WrapInvalid(ErrOverCommit, "Buffer", op,
			fmt.Sprintf("commit %d bytes", n))
	}

	if side == Write {
		b.position = (b.position + n) % b.capacity
		b.free -= n
	} else {
		b.free += n
	}
	b.releaseLocked(r)

	occupied := b.capacity - b.free
	b.stats.commit(side, n, occupied)
	if b.metrics != nil {
		b.metrics.recordCommit(side, n, occupied)
	}
	b.conds[side.other()].Signal()
	return nil
}

// AbandonWrite gives up a write reservation. Nothing is published and no
// waiter is woken.
func (b *Buffer) AbandonWrite(r *Reservation) error {
	return b.abandon(Write, "AbandonWrite", r)
}

// AbandonRead gives up a read reservation. Nothing is consumed and no
// waiter is woken.
func (b *Buffer) AbandonRead(r *Reservation) error {
	return b.abandon(Read, "AbandonRead", r)
}

func (b *Buffer) abandon(side Side, op string, r *Reservation) error {
	if b == nil {
		return cerrors.WrapInvalid(ErrInvalidBuffer, "Buffer", op, "check buffer")
	}

	b.mon.Lock()
	defer b.mon.Unlock()

	if err := b.checkLocked(side, op, r); err != nil {
		return err
	}
	b.releaseLocked(r)
	b.stats.abandon(side)
	if b.metrics != nil {
		b.metrics.recordAbandon(side)
	}
	if b.closed {
		b.releaseStorageLocked()
		return closedError(op)
	}
	return nil
}

// checkLocked verifies r is the outstanding reservation of side.
func (b *Buffer) checkLocked(side Side, op string, r *Reservation) error {
	if r == nil {
		return cerrors.WrapInvalid(ErrInvalidReservation, "Buffer", op, "check reservation")
	}
	if r.buf != b || r.side != side {
		return cerrors.WrapInvalid(ErrForeignReservation, "Buffer", op,
			fmt.Sprintf("check %s reservation", r.side))
	}
	st := &b.sides[side]
	if r.released.Load() || !st.reserved || r.seq != st.seq {
		b.logger.Warn("stale reservation", "side", side, "op", op)
		return cerrors.WrapInvalid(ErrStaleReservation, "Buffer", op, "check reservation")
	}
	return nil
}

func (b *Buffer) releaseLocked(r *Reservation) {
	b.sides[r.side].reserved = false
	r.released.Store(true)
}

// PeekFree returns the free length at the moment of the call. Advisory only.
func (b *Buffer) PeekFree() int {
	if b == nil {
		return 0
	}
	b.mon.Lock()
	defer b.mon.Unlock()
	return b.free
}

// PeekOccupied returns the occupied length at the moment of the call.
// Advisory only.
func (b *Buffer) PeekOccupied() int {
	if b == nil {
		return 0
	}
	b.mon.Lock()
	defer b.mon.Unlock()
	return b.capacity - b.free
}

// CloseWrite marks the end of the producer's stream. Further write acquires
// fail with ErrClosed; blocked readers wake and drain what is left, then see
// io.EOF. An outstanding write reservation may still be committed.
func (b *Buffer) CloseWrite() error {
	if b == nil {
		return cerrors.WrapInvalid(ErrInvalidBuffer, "Buffer", "CloseWrite", "check buffer")
	}

	b.mon.Lock()
	defer b.mon.Unlock()

	if b.closed {
		return closedError("CloseWrite")
	}
	if b.writeClosed {
		return nil
	}
	b.writeClosed = true
	b.conds[Read].Broadcast()
	b.conds[Write].Broadcast()
	b.logger.Debug("write side closed", "occupied", b.capacity-b.free)
	return nil
}

// Close shuts the buffer down. Blocked acquirers wake with ErrClosed, new
// acquires fail, and outstanding reservations fail with ErrClosed when
// committed or abandoned. Storage is released once no reservation is
// outstanding and no acquirer is blocked. Close is idempotent and a no-op on
// a nil buffer.
func (b *Buffer) Close() error {
	if b == nil {
		return nil
	}

	b.mon.Lock()
	defer b.mon.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.conds[Write].Broadcast()
	b.conds[Read].Broadcast()
	if b.metrics != nil {
		b.metrics.unregister(b.metricsReg, b.name)
	}
	b.logger.Debug("buffer closed", "waiters", b.waiters,
		"write_reserved", b.sides[Write].reserved, "read_reserved", b.sides[Read].reserved)
	return b.releaseStorageLocked()
}

// releaseStorageLocked frees storage once the buffer is closed and idle.
func (b *Buffer) releaseStorageLocked() error {
	if !b.closed || b.freed || b.waiters > 0 || b.sides[Write].reserved || b.sides[Read].reserved {
		return nil
	}
	b.freed = true
	storage := b.storage
	b.storage = nil
	if err := b.alloc.Free(storage); err != nil {
		b.logger.Error("free storage", "error", err)
		return cerrors.WrapFatal(err, "Buffer", "Close", "free storage")
	}
	return nil
}

// Closed reports whether Close was called.
func (b *Buffer) Closed() bool {
	if b == nil {
		return true
	}
	b.mon.Lock()
	defer b.mon.Unlock()
	return b.closed
}
