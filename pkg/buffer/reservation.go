package buffer

import (
	"fmt"
	"sync/atomic"

	cerrors "github.com/c360/flexbuf/errors"
)

// Side names the two roles sharing a Buffer.
type Side uint8

const (
	// Write is the producer side.
	Write Side = iota
	// Read is the consumer side.
	Read
)

func (s Side) String() string {
	switch s {
	case Write:
		return "write"
	case Read:
		return "read"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

func (s Side) other() Side { return 1 - s }

// Span is one contiguous piece of a reservation, as an offset into the
// buffer's storage and a length.
type Span struct {
	Offset int
	Length int
}

// End returns the offset one past the span.
func (s Span) End() int { return s.Offset + s.Length }

// Reservation is the exclusive right to a byte range of a Buffer, granted by
// AcquireWrite or AcquireRead. A write reservation is filled in place; a read
// reservation is read in place. The range is one span, or two when it wraps
// past the end of storage, in which case the secondary span starts at
// offset 0.
//
// A Reservation is consumed exactly once by Commit or Abandon. Afterwards its
// accessors return nil and every further Commit or Abandon fails with
// ErrStaleReservation. It must not be shared between goroutines.
type Reservation struct {
	buf      *Buffer
	storage  []byte
	side     Side
	seq      uint64
	spans    [2]Span
	n        int
	released atomic.Bool
}

// The accessors below treat a nil reservation, as returned alongside an
// acquire error, as an empty released one.

// Side returns the side the reservation was granted on. A nil reservation
// reports Write, the zero Side.
func (r *Reservation) Side() Side {
	if r == nil {
		return Write
	}
	return r.side
}

// Len returns the total reserved length over both spans.
func (r *Reservation) Len() int {
	if r == nil {
		return 0
	}
	return r.spans[0].Length + r.spans[1].Length
}

// Split reports whether the range wrapped into a secondary span.
func (r *Reservation) Split() bool { return r != nil && r.n == 2 && r.spans[1].Length > 0 }

// Spans returns the one or two spans in order.
func (r *Reservation) Spans() []Span {
	if r == nil {
		return nil
	}
	out := make([]Span, 0, 2)
	for i := 0; i < r.n; i++ {
		if r.spans[i].Length > 0 {
			out = append(out, r.spans[i])
		}
	}
	return out
}

// Released reports whether the reservation was committed or abandoned.
func (r *Reservation) Released() bool { return r == nil || r.released.Load() }

func (r *Reservation) bytes(i int) []byte {
	if r == nil || r.released.Load() || r.spans[i].Length == 0 {
		return nil
	}
	s := r.spans[i]
	return r.storage[s.Offset:s.End():s.End()]
}

// Primary returns the bytes of the first span.
func (r *Reservation) Primary() []byte { return r.bytes(0) }

// Secondary returns the bytes of the wrapped span and true, or nil and false
// when the range did not wrap.
func (r *Reservation) Secondary() ([]byte, bool) {
	if !r.Split() {
		return nil, false
	}
	b := r.bytes(1)
	return b, b != nil
}

// Fill copies src into the reserved range, primary span first, and returns
// the number of bytes copied.
func (r *Reservation) Fill(src []byte) int {
	n := copy(r.Primary(), src)
	if sec, ok := r.Secondary(); ok {
		n += copy(sec, src[n:])
	}
	return n
}

// CopyTo copies the reserved range into dst in order and returns the number
// of bytes copied.
func (r *Reservation) CopyTo(dst []byte) int {
	n := copy(dst, r.Primary())
	if sec, ok := r.Secondary(); ok {
		n += copy(dst[n:], sec)
	}
	return n
}

// Truncate shrinks the reservation to its leading n bytes before it is
// committed. Committing a truncated write publishes only those bytes;
// committing a truncated read consumes only those bytes and leaves the rest
// readable.
func (r *Reservation) Truncate(n int) error {
	if r == nil {
		return cerrors.WrapInvalid(ErrInvalidReservation, "Reservation", "Truncate", "check reservation")
	}
	if r.released.Load() {
		return cerrors.WrapInvalid(ErrStaleReservation, "Reservation", "Truncate", "check reservation")
	}
	if n < 0 || n > r.Len() {
		return cerrors.WrapInvalid(ErrTruncate, "Reservation", "Truncate",
			fmt.Sprintf("truncate %d of %d bytes", n, r.Len()))
	}
	if n <= r.spans[0].Length {
		r.spans[0].Length = n
		r.spans[1] = Span{}
		r.n = 1
		return nil
	}
	r.spans[1].Length = n - r.spans[0].Length
	return nil
}

// Commit commits the reservation on the side it was granted on.
func (r *Reservation) Commit() error {
	if r == nil {
		return cerrors.WrapInvalid(ErrInvalidReservation, "Reservation", "Commit", "check reservation")
	}
	if r.side == Write {
		return r.buf.CommitWrite(r)
	}
	return r.buf.CommitRead(r)
}

// Abandon abandons the reservation on the side it was granted on.
func (r *Reservation) Abandon() error {
	if r == nil {
		return cerrors.WrapInvalid(ErrInvalidReservation, "Reservation", "Abandon", "check reservation")
	}
	if r.side == Write {
		return r.buf.AbandonWrite(r)
	}
	return r.buf.AbandonRead(r)
}

func (r *Reservation) String() string {
	if r == nil {
		return "<nil>"
	}
	if r.Split() {
		return fmt.Sprintf("%s[%d,%d)+[%d,%d)", r.side, r.spans[0].Offset, r.spans[0].End(),
			r.spans[1].Offset, r.spans[1].End())
	}
	return fmt.Sprintf("%s[%d,%d)", r.side, r.spans[0].Offset, r.spans[0].End())
}
