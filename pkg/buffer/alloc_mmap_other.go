//go:build !unix

package buffer

import "errors"

// MmapAllocator is unavailable on this platform; Allocate always fails.
type MmapAllocator struct{}

// NewMmapAllocator returns an allocator whose Allocate reports the platform
// as unsupported.
func NewMmapAllocator() *MmapAllocator { return &MmapAllocator{} }

// Allocate implements Allocator.
func (*MmapAllocator) Allocate(int, int) ([]byte, error) {
	return nil, errors.New("mmap: anonymous mappings not supported on this platform")
}

// Free implements Allocator.
func (*MmapAllocator) Free([]byte) error { return nil }

// Outstanding returns the number of live mappings.
func (*MmapAllocator) Outstanding() int { return 0 }
