//go:build unix

package buffer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestMmapAllocator(t *testing.T) {
	a := NewMmapAllocator()
	page := unix.Getpagesize()

	for _, alignment := range []int{1, 16, page, 4 * page} {
		region, err := a.Allocate(3000, alignment)
		require.NoError(t, err)
		assert.Len(t, region, 3000)
		assert.True(t, IsAligned(region, alignment))

		copy(region, bytes.Repeat([]byte{0xAB}, 3000))
		assert.Equal(t, byte(0xAB), region[2999])
		assert.Equal(t, 1, a.Outstanding())

		require.NoError(t, a.Free(region))
		assert.Equal(t, 0, a.Outstanding())
	}

	assert.Error(t, a.Free(make([]byte, 10)))
	assert.NoError(t, a.Free(nil))
	_, err := a.Allocate(0, 1)
	assert.Error(t, err)
}

func TestBuffer_MmapStorage(t *testing.T) {
	a := NewMmapAllocator()
	b, err := New(4096, 64, WithAllocator(a))
	require.NoError(t, err)
	assert.Equal(t, 1, a.Outstanding())

	data := bytes.Repeat([]byte("flex"), 256)
	w, err := b.AcquireWrite(len(data), false, 0)
	require.NoError(t, err)
	w.Fill(data)
	require.NoError(t, w.Commit())

	r, err := b.AcquireRead(len(data), false, 0)
	require.NoError(t, err)
	assert.Equal(t, data, r.Primary())
	require.NoError(t, r.Commit())

	require.NoError(t, b.Close())
	assert.Equal(t, 0, a.Outstanding())
}
