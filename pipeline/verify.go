package pipeline

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/c360/flexbuf/errors"
)

// MismatchError reports the first offset at which two streams differ.
type MismatchError struct {
	Offset int64
	// Short names the stream that ended first, or is empty when a byte
	// differs.
	Short string
}

func (e *MismatchError) Error() string {
	if e.Short != "" {
		return fmt.Sprintf("streams differ at offset %d: %s stream ended", e.Offset, e.Short)
	}
	return fmt.Sprintf("streams differ at offset %d", e.Offset)
}

// Unwrap lets callers match errors.ErrDataMismatch.
func (e *MismatchError) Unwrap() error { return errors.ErrDataMismatch }

const verifyBlock = 32 * 1024

// Verify compares want and got byte for byte. It returns nil when both hold
// the same bytes, a *MismatchError when they differ, and a read error
// otherwise.
func Verify(want, got io.Reader) error {
	wb := make([]byte, verifyBlock)
	gb := make([]byte, verifyBlock)
	var offset int64
	for {
		wn, werr := io.ReadFull(want, wb)
		gn, gerr := io.ReadFull(got, gb)
		if werr != nil && werr != io.EOF && werr != io.ErrUnexpectedEOF {
			return errors.Wrap(werr, "pipeline", "Verify", "read expected stream")
		}
		if gerr != nil && gerr != io.EOF && gerr != io.ErrUnexpectedEOF {
			return errors.Wrap(gerr, "pipeline", "Verify", "read actual stream")
		}

		n := min(wn, gn)
		if i := firstDiff(wb[:n], gb[:n]); i >= 0 {
			return &MismatchError{Offset: offset + int64(i)}
		}
		switch {
		case wn < gn:
			return &MismatchError{Offset: offset + int64(n), Short: "expected"}
		case gn < wn:
			return &MismatchError{Offset: offset + int64(n), Short: "actual"}
		}
		offset += int64(n)
		if wn < verifyBlock {
			return nil
		}
	}
}

func firstDiff(a, b []byte) int {
	if bytes.Equal(a, b) {
		return -1
	}
	for i := range a {
		if a[i] != b[i] {
			return i
		}
	}
	return -1
}

// VerifyFiles compares the files at src and dst.
func VerifyFiles(src, dst string) error {
	a, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "pipeline", "VerifyFiles", "open "+src)
	}
	defer a.Close()
	b, err := os.Open(dst)
	if err != nil {
		return errors.Wrap(err, "pipeline", "VerifyFiles", "open "+dst)
	}
	defer b.Close()
	return Verify(bufio.NewReader(a), bufio.NewReader(b))
}
