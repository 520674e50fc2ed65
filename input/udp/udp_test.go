package udp

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/c360/flexbuf/errors"
	"github.com/c360/flexbuf/pkg/buffer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestInput(t *testing.T, timeout time.Duration) *Input {
	t.Helper()
	in, err := NewInput(InputDeps{Config: Config{Address: "127.0.0.1:0", Timeout: timeout}})
	require.NoError(t, err)
	require.NoError(t, in.Start(context.Background()))
	t.Cleanup(func() { _ = in.Stop(time.Second) })
	return in
}

func newTestBuffer(t *testing.T, capacity int) *buffer.Buffer {
	t.Helper()
	b, err := buffer.New(capacity, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func dial(t *testing.T, in *Input) net.Conn {
	t.Helper()
	conn, err := net.Dial("udp", in.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func runProduce(ctx context.Context, in *Input, b *buffer.Buffer) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- in.Produce(ctx, b) }()
	return errc
}

func TestNewInput_Defaults(t *testing.T) {
	in, err := NewInput(InputDeps{})
	require.NoError(t, err)

	assert.Equal(t, DefaultAddress, in.cfg.Address)
	assert.Equal(t, DefaultReadBufferSize, in.cfg.ReadBufferSize)
	assert.Equal(t, 14550, in.addr.Port)
	assert.Nil(t, in.Addr(), "socket is not bound before Start")
	assert.False(t, in.Stats().Running)
}

func TestNewInput_InvalidAddress(t *testing.T) {
	_, err := NewInput(InputDeps{Config: Config{Address: "not-an-address"}})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestInput_StartIsIdempotent(t *testing.T) {
	in := newTestInput(t, time.Second)
	addr := in.Addr()
	require.NotNil(t, addr)

	require.NoError(t, in.Start(context.Background()))
	assert.Equal(t, addr.String(), in.Addr().String())
	assert.True(t, in.Stats().Running)
}

func TestInput_EachDatagramIsOneCommit(t *testing.T) {
	in := newTestInput(t, time.Second)
	b := newTestBuffer(t, 1024)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := runProduce(ctx, in, b)

	conn := dial(t, in)
	for _, msg := range []string{"alpha", "bravo", "charlie"} {
		_, err := conn.Write([]byte(msg))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return b.PeekOccupied() == len("alphabravocharlie") },
		2*time.Second, 10*time.Millisecond)

	r, err := b.AcquireRead(1024, true, 0)
	require.NoError(t, err)
	got := make([]byte, r.Len())
	r.CopyTo(got)
	require.NoError(t, b.CommitRead(r))
	assert.Equal(t, "alphabravocharlie", string(got))

	assert.Equal(t, int64(3), b.Stats().Commits(buffer.Write))
	stats := in.Stats()
	assert.Equal(t, int64(3), stats.Received)
	assert.Equal(t, int64(17), stats.Bytes)
	assert.Zero(t, stats.Dropped)
	assert.False(t, stats.LastActivity.IsZero())

	cancel()
	require.NoError(t, <-errc)
}

func TestInput_DropsWhenBufferFull(t *testing.T) {
	in := newTestInput(t, 0)
	b := newTestBuffer(t, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := runProduce(ctx, in, b)

	conn := dial(t, in)
	_, err := conn.Write([]byte("0123456789"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return in.Stats().Received == 1 },
		2*time.Second, 10*time.Millisecond)

	// only 6 bytes remain free; a non-partial reservation for 10 fails
	_, err = conn.Write([]byte("abcdefghij"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return in.Stats().Dropped == 1 },
		2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 10, b.PeekOccupied(), "a dropped datagram leaves no partial bytes behind")
	assert.Equal(t, int64(10), in.Stats().Bytes)

	cancel()
	require.NoError(t, <-errc)
}

func TestInput_DropsOversizeDatagram(t *testing.T) {
	in := newTestInput(t, time.Second)
	b := newTestBuffer(t, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := runProduce(ctx, in, b)

	conn := dial(t, in)
	_, err := conn.Write(make([]byte, 20))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return in.Stats().Dropped == 1 },
		2*time.Second, 10*time.Millisecond)
	assert.Zero(t, b.PeekOccupied())
	assert.Zero(t, b.Stats().Acquires(buffer.Write), "oversize datagrams never reach the buffer")

	cancel()
	require.NoError(t, <-errc)
}

func TestInput_StopClosesWriteSide(t *testing.T) {
	in := newTestInput(t, time.Second)
	b := newTestBuffer(t, 64)
	errc := runProduce(context.Background(), in, b)

	conn := dial(t, in)
	_, err := conn.Write([]byte("tail"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return b.PeekOccupied() == 4 },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, in.Stop(2*time.Second))
	require.NoError(t, <-errc)
	assert.False(t, in.Stats().Running)
	assert.Nil(t, in.Addr())

	r, err := b.AcquireRead(64, true, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 4, r.Len())
	require.NoError(t, r.Commit())

	_, err = b.AcquireRead(1, false, time.Second)
	assert.ErrorIs(t, err, io.EOF)

	_, err = b.AcquireWrite(1, false, 0)
	assert.ErrorIs(t, err, buffer.ErrClosed)
}

func TestInput_ReturnsWhenBufferClosed(t *testing.T) {
	in := newTestInput(t, buffer.Infinite)
	b := newTestBuffer(t, 4)
	errc := runProduce(context.Background(), in, b)

	conn := dial(t, in)
	_, err := conn.Write([]byte("full"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return b.PeekFree() == 0 },
		2*time.Second, 10*time.Millisecond)

	// this one blocks waiting for space until the buffer closes
	_, err = conn.Write([]byte("more"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return in.Stats().Received == 2 },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, b.Close())
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Produce did not return after the buffer closed")
	}
}

func TestInput_ProduceRejectsConcurrentCall(t *testing.T) {
	in := newTestInput(t, time.Second)
	b := newTestBuffer(t, 64)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := runProduce(ctx, in, b)

	require.Eventually(t, func() bool { return in.producing.Load() },
		time.Second, 5*time.Millisecond)

	err := in.Produce(ctx, b)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)

	cancel()
	require.NoError(t, <-errc)
}

func TestInput_ProduceNilBuffer(t *testing.T) {
	in, err := NewInput(InputDeps{Config: Config{Address: "127.0.0.1:0"}})
	require.NoError(t, err)

	err = in.Produce(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, buffer.ErrInvalidBuffer)
	assert.True(t, errors.IsInvalid(err))
}

func TestInput_StopWithoutStart(t *testing.T) {
	in, err := NewInput(InputDeps{Config: Config{Address: "127.0.0.1:0"}})
	require.NoError(t, err)
	assert.NoError(t, in.Stop(time.Second))
}

func TestInput_StartFailsOnBoundPort(t *testing.T) {
	first := newTestInput(t, time.Second)

	second, err := NewInput(InputDeps{Config: Config{Address: first.Addr().String()}})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = second.Start(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.False(t, second.Stats().Running)
}
