package buffer

import (
	"errors"
	"fmt"

	cerrors "github.com/c360/flexbuf/errors"
)

// Sentinel errors. Operations wrap them with the component and operation
// that failed; match with errors.Is.
var (
	ErrInvalidCapacity    = errors.New("buffer: capacity must be positive")
	ErrInvalidAlignment   = errors.New("buffer: alignment must be zero or a power of two")
	ErrInvalidLength      = errors.New("buffer: requested length must be positive")
	ErrInvalidBuffer      = errors.New("buffer: nil buffer")
	ErrInvalidReservation = errors.New("buffer: nil reservation")
	ErrForeignReservation = errors.New("buffer: reservation belongs to another buffer or side")
	ErrAlreadyReserved    = errors.New("buffer: side already holds an outstanding reservation")
	ErrStaleReservation   = errors.New("buffer: reservation already committed or abandoned")
	ErrOverCommit         = errors.New("buffer: commit exceeds available length")
	ErrTruncate           = errors.New("buffer: truncate length out of range")

	// ErrUnavailable reports that the requested length was not available
	// before the deadline. It is returned unwrapped and classified transient:
	// the caller polls or retries.
	ErrUnavailable = errors.New("buffer: requested length not available")

	// ErrClosed reports an operation on a closed buffer, or a write after
	// CloseWrite.
	ErrClosed = errors.New("buffer: closed")
)

func init() {
	cerrors.RegisterTransient(ErrUnavailable)
}

func closedError(op string) error {
	return cerrors.WrapInvalid(fmt.Errorf("%w: %w", ErrClosed, cerrors.ErrAlreadyStopped), "Buffer", op, "buffer closed")
}
