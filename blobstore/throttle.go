package blobstore

import (
	"context"
	"io"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Throttled wraps a store with an operation rate limit and a bound on
// in-flight requests. Segment fetches during query fan-out would otherwise
// hammer the backing store with as many ranged reads as there are
// segments.
type Throttled struct {
	inner Store
	limit *rate.Limiter
	sem   *semaphore.Weighted
}

// NewThrottled allows opsPerSecond operations with bursts of that same
// size and at most inflight concurrent operations.
func NewThrottled(inner Store, opsPerSecond float64, inflight int64) *Throttled {
	return &Throttled{
		inner: inner,
		limit: rate.NewLimiter(rate.Limit(opsPerSecond), int(opsPerSecond)),
		sem:   semaphore.NewWeighted(inflight),
	}
}

func (t *Throttled) acquire(ctx context.Context) (release func(), err error) {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if err := t.limit.Wait(ctx); err != nil {
		t.sem.Release(1)
		return nil, err
	}
	return func() { t.sem.Release(1) }, nil
}

func (t *Throttled) Open(ctx context.Context, key string) (Blob, error) {
	release, err := t.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	blob, err := t.inner.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	return &throttledBlob{inner: blob, t: t}, nil
}

func (t *Throttled) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	release, err := t.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return t.inner.Put(ctx, key, r, size)
}

func (t *Throttled) List(ctx context.Context, prefix string) ([]string, error) {
	release, err := t.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return t.inner.List(ctx, prefix)
}

func (t *Throttled) Delete(ctx context.Context, key string) error {
	release, err := t.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return t.inner.Delete(ctx, key)
}

type throttledBlob struct {
	inner Blob
	t     *Throttled
}

func (b *throttledBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	release, err := b.t.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()
	return b.inner.ReadAt(ctx, p, off)
}

func (b *throttledBlob) Size() int64  { return b.inner.Size() }
func (b *throttledBlob) Close() error { return b.inner.Close() }
