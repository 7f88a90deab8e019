package driver

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// stubFactory hands out sessions without launching Chrome.
type stubFactory struct {
	mu    sync.Mutex
	built []int
	err   error
}

func (f *stubFactory) build(_ context.Context, slot int, fp Fingerprint) (*chromeSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.built = append(f.built, slot)
	ctx, cancel := context.WithCancel(context.Background())
	return &chromeSession{slot: slot, fp: fp, ctx: ctx, cancel: cancel}, nil
}

func newTestPool(t *testing.T, size int, f *stubFactory) *Pool {
	t.Helper()
	pool := NewPool(Config{Size: size, Headless: true}, nil)
	pool.build = f.build
	t.Cleanup(func() { pool.Shutdown(context.Background()) })
	return pool
}

func TestBorrowCreatesLazilyAndReuses(t *testing.T) {
	t.Parallel()

	f := &stubFactory{}
	pool := newTestPool(t, 2, f)

	first, err := pool.Borrow(context.Background(), 0)
	require.NoError(t, err)
	again, err := pool.Borrow(context.Background(), 0)
	require.NoError(t, err)

	require.Same(t, first, again)
	require.Equal(t, []int{0}, f.built)
}

func TestBorrowAssignsStableFingerprints(t *testing.T) {
	t.Parallel()

	f := &stubFactory{}
	pool := newTestPool(t, 2, f)

	s0, err := pool.Borrow(context.Background(), 0)
	require.NoError(t, err)
	s1, err := pool.Borrow(context.Background(), 1)
	require.NoError(t, err)

	require.Equal(t, FingerprintFor(0).UserAgent, s0.UserAgent())
	require.Equal(t, FingerprintFor(1).UserAgent, s1.UserAgent())
	require.NotEqual(t, s0.UserAgent(), s1.UserAgent())
}

func TestDiscardForcesRecreate(t *testing.T) {
	t.Parallel()

	f := &stubFactory{}
	pool := newTestPool(t, 1, f)

	first, err := pool.Borrow(context.Background(), 0)
	require.NoError(t, err)

	pool.Discard(0)
	require.Error(t, first.Context().Err())

	second, err := pool.Borrow(context.Background(), 0)
	require.NoError(t, err)
	require.NotSame(t, first, second)
	// The rebuilt slot keeps its original identity.
	require.Equal(t, first.UserAgent(), second.UserAgent())
	require.Equal(t, []int{0, 0}, f.built)
}

func TestWarmupCreatesEverySlot(t *testing.T) {
	t.Parallel()

	f := &stubFactory{}
	pool := newTestPool(t, 3, f)

	require.NoError(t, pool.Warmup(context.Background()))
	require.Equal(t, []int{0, 1, 2}, f.built)

	// A second warmup reuses the live sessions.
	require.NoError(t, pool.Warmup(context.Background()))
	require.Equal(t, []int{0, 1, 2}, f.built)
}

func TestWarmupFailsWhenNoSessionStarts(t *testing.T) {
	t.Parallel()

	f := &stubFactory{err: errors.New("chrome missing")}
	pool := newTestPool(t, 2, f)

	require.ErrorContains(t, pool.Warmup(context.Background()), "warm up pool")
}

func TestBorrowOutOfRange(t *testing.T) {
	t.Parallel()

	pool := newTestPool(t, 1, &stubFactory{})

	_, err := pool.Borrow(context.Background(), 5)
	require.Error(t, err)
	_, err = pool.Borrow(context.Background(), -1)
	require.Error(t, err)
}

func TestBorrowPropagatesFactoryError(t *testing.T) {
	t.Parallel()

	f := &stubFactory{err: errors.New("chrome missing")}
	pool := newTestPool(t, 1, f)

	_, err := pool.Borrow(context.Background(), 0)
	require.ErrorContains(t, err, "chrome missing")
}

func TestShutdownClosesSessionsAndIsIdempotent(t *testing.T) {
	t.Parallel()

	f := &stubFactory{}
	pool := NewPool(Config{Size: 2, Headless: true}, nil)
	pool.build = f.build

	sess, err := pool.Borrow(context.Background(), 0)
	require.NoError(t, err)

	pool.Shutdown(context.Background())
	pool.Shutdown(context.Background())
	require.Error(t, sess.Context().Err())
}

func TestFingerprintForWrapsAround(t *testing.T) {
	t.Parallel()

	require.Equal(t, FingerprintFor(0), FingerprintFor(len(fingerprints)))
	require.NotEmpty(t, FingerprintFor(3).UserAgent)
	require.NotEmpty(t, FingerprintFor(3).AcceptLanguage)
}
