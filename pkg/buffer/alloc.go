package buffer

import (
	"unsafe"
)

// Allocator provides the backing storage of a Buffer: one region of size
// bytes whose first byte sits on an alignment boundary. Alignment is 1 or a
// power of two.
type Allocator interface {
	Allocate(size, alignment int) ([]byte, error)
	Free(region []byte) error
}

// HeapAllocator allocates from the Go heap. Free is a no-op; the region is
// collected once unreachable. The Go collector does not move heap objects,
// so the alignment of the returned region is stable.
type HeapAllocator struct{}

// Allocate over-allocates by alignment-1 bytes and slices at the first
// aligned offset.
func (HeapAllocator) Allocate(size, alignment int) ([]byte, error) {
	if alignment <= 1 {
		return make([]byte, size), nil
	}
	raw := make([]byte, size+alignment-1)
	off := alignOffset(raw, alignment)
	return raw[off : off+size : off+size], nil
}

// Free implements Allocator.
func (HeapAllocator) Free([]byte) error { return nil }

// alignOffset returns how many bytes into p the next alignment boundary lies.
func alignOffset(p []byte, alignment int) int {
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(p)))
	mask := uintptr(alignment - 1)
	return int((alignment - int(addr&mask)) & int(mask))
}

// IsAligned reports whether the first byte of p sits on an alignment boundary.
func IsAligned(p []byte, alignment int) bool {
	if alignment <= 1 || len(p) == 0 {
		return true
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(p)))&uintptr(alignment-1) == 0
}

func validAlignment(alignment int) bool {
	return alignment >= 0 && alignment&(alignment-1) == 0
}
