package pipeline

import (
	"context"
	"io"
	"math/rand"

	"golang.org/x/time/rate"
)

// RandomSource returns total pseudo-random bytes derived from seed. The same
// seed always yields the same stream.
func RandomSource(seed uint64, total int64) io.Reader {
	return io.LimitReader(rand.New(rand.NewSource(int64(seed))), total)
}

// ZeroSource returns total zero bytes.
func ZeroSource(total int64) io.Reader {
	return io.LimitReader(zeroReader{}, total)
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

// throttledReader paces reads to a byte rate.
type throttledReader struct {
	ctx     context.Context
	src     io.Reader
	limiter *rate.Limiter
}

// Throttle limits reads from src to bytesPerSecond. A non-positive rate
// returns src unchanged. Waiting for tokens ends with ctx's error.
func Throttle(ctx context.Context, src io.Reader, bytesPerSecond int) io.Reader {
	if bytesPerSecond <= 0 {
		return src
	}
	burst := max(bytesPerSecond/10, 1)
	return &throttledReader{
		ctx:     ctx,
		src:     src,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), burst),
	}
}

func (t *throttledReader) Read(p []byte) (int, error) {
	if len(p) > t.limiter.Burst() {
		p = p[:t.limiter.Burst()]
	}
	n, err := t.src.Read(p)
	if n > 0 {
		if werr := t.limiter.WaitN(t.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
