//go:build unix

package buffer

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// MmapAllocator maps anonymous private memory outside the Go heap. Regions
// are page aligned; larger alignments over-map and slice. Free unmaps.
type MmapAllocator struct {
	mu       sync.Mutex
	mappings map[uintptr][]byte
}

// NewMmapAllocator returns an allocator backed by anonymous mappings.
func NewMmapAllocator() *MmapAllocator {
	return &MmapAllocator{mappings: make(map[uintptr][]byte)}
}

// Allocate implements Allocator.
func (m *MmapAllocator) Allocate(size, alignment int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("mmap: size %d must be positive", size)
	}
	length := size
	if alignment > unix.Getpagesize() {
		length += alignment
	}

	mapping, err := unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", length, err)
	}

	off := 0
	if alignment > 1 {
		off = alignOffset(mapping, alignment)
	}
	region := mapping[off : off+size : off+size]

	m.mu.Lock()
	m.mappings[uintptr(unsafe.Pointer(unsafe.SliceData(region)))] = mapping
	m.mu.Unlock()
	return region, nil
}

// Free implements Allocator.
func (m *MmapAllocator) Free(region []byte) error {
	if len(region) == 0 {
		return nil
	}
	key := uintptr(unsafe.Pointer(unsafe.SliceData(region)))

	m.mu.Lock()
	mapping, ok := m.mappings[key]
	delete(m.mappings, key)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("munmap: region %#x was not allocated here", key)
	}
	if err := unix.Munmap(mapping); err != nil {
		return fmt.Errorf("munmap %d bytes: %w", len(mapping), err)
	}
	return nil
}

// Outstanding returns the number of live mappings.
func (m *MmapAllocator) Outstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mappings)
}
