package file

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/c360/flexbuf/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, Config{Path: "out.bin"}.Validate())

	err := Config{}.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	err = Config{Path: "out.bin", BufferSize: -1}.Validate()
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestOutput_WritesAndCounts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "out.bin")
	out, err := NewOutput(Config{Path: path, BufferSize: 4}, nil)
	require.NoError(t, err)
	assert.Equal(t, path, out.Path())

	for _, chunk := range []string{"hello ", "flex ", "buffer"} {
		n, err := out.Write([]byte(chunk))
		require.NoError(t, err)
		assert.Equal(t, len(chunk), n)
	}
	require.NoError(t, out.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello flex buffer", string(data))

	stats := out.Stats()
	assert.Equal(t, int64(17), stats.Bytes)
	assert.Equal(t, int64(3), stats.Writes)
	assert.Zero(t, stats.Errors)
}

func TestOutput_TruncateAndAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, os.WriteFile(path, []byte("previous"), 0o644))

	out, err := NewOutput(Config{Path: path}, nil)
	require.NoError(t, err)
	_, err = out.Write([]byte("first"))
	require.NoError(t, err)
	require.NoError(t, out.Close())

	out, err = NewOutput(Config{Path: path, Append: true, Sync: true}, nil)
	require.NoError(t, err)
	_, err = out.Write([]byte("+second"))
	require.NoError(t, err)
	require.NoError(t, out.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first+second", string(data))
}

func TestOutput_FlushMakesDataVisible(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	out, err := NewOutput(Config{Path: path}, nil)
	require.NoError(t, err)
	defer out.Close()

	_, err = out.Write([]byte("pending"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data, "bytes stay in the bufio buffer until Flush")

	require.NoError(t, out.Flush())
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "pending", string(data))
}

func TestOutput_CloseIsIdempotent(t *testing.T) {
	out, err := NewOutput(Config{Path: filepath.Join(t.TempDir(), "out.bin")}, nil)
	require.NoError(t, err)

	require.NoError(t, out.Close())
	require.NoError(t, out.Close())
	assert.NoError(t, out.Flush())

	_, err = out.Write([]byte("late"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAlreadyStopped)
}

func TestOutput_OpenFailure(t *testing.T) {
	dir := t.TempDir()
	_, err := NewOutput(Config{Path: dir}, nil)
	require.Error(t, err, "a directory cannot be opened for writing")
	assert.True(t, errors.IsFatal(err))
}

func TestOutput_ConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	out, err := NewOutput(Config{Path: path, BufferSize: 16}, nil)
	require.NoError(t, err)

	const writers, perWriter = 8, 100
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				_, _ = out.Write([]byte("0123456789"))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, out.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(writers*perWriter*10), info.Size())
	assert.Equal(t, int64(writers*perWriter), out.Stats().Writes)
}
