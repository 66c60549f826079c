package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(t *testing.T, clock *fakeClock) *MemoryLimiter {
	t.Helper()
	l := NewMemoryLimiter(WithClock(clock.Now), WithSweepInterval(0))
	t.Cleanup(func() { _ = l.Close() })
	return l
}

var convertPolicy = Policy{Name: PolicyConvert, MaxRequests: 10, Window: time.Minute}

func TestMemoryLimiter_AdmitsUpToMax(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, clock)
	ctx := context.Background()

	for i := 1; i <= convertPolicy.MaxRequests; i++ {
		res, err := l.Check(ctx, "convert:203.0.113.7", convertPolicy)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d should be allowed", i)
		assert.Equal(t, convertPolicy.MaxRequests-i, res.Remaining)
		assert.Equal(t, clock.Now().Add(time.Minute), res.ResetAt)
		assert.Zero(t, res.RetryAfter)
	}

	clock.Advance(20 * time.Second)
	res, err := l.Check(ctx, "convert:203.0.113.7", convertPolicy)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 40*time.Second, res.RetryAfter)
	assert.Equal(t, int64(40), res.RetryAfterSeconds())
}

func TestMemoryLimiter_DeniedRequestsDoNotExtendWindow(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, clock)
	p := Policy{Name: PolicyAuth, MaxRequests: 1, Window: time.Minute}
	ctx := context.Background()

	first, err := l.Check(ctx, "k", p)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		res, err := l.Check(ctx, "k", p)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, first.ResetAt, res.ResetAt)
	}
}

func TestMemoryLimiter_ResetsAfterWindow(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, clock)
	ctx := context.Background()

	for i := 0; i < convertPolicy.MaxRequests+3; i++ {
		_, err := l.Check(ctx, "k", convertPolicy)
		require.NoError(t, err)
	}

	clock.Advance(time.Minute)
	res, err := l.Check(ctx, "k", convertPolicy)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "window boundary opens a fresh window")
	assert.Equal(t, convertPolicy.MaxRequests-1, res.Remaining)
	assert.Equal(t, clock.Now().Add(time.Minute), res.ResetAt)
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, clock)
	p := Policy{Name: PolicyAuth, MaxRequests: 1, Window: time.Minute}
	ctx := context.Background()

	a, _ := l.Check(ctx, Key(PolicyAuth, "a"), p)
	b, _ := l.Check(ctx, Key(PolicyAuth, "b"), p)
	h, _ := l.Check(ctx, Key(PolicyHistory, "a"), p)
	assert.True(t, a.Allowed)
	assert.True(t, b.Allowed)
	assert.True(t, h.Allowed)
	assert.Equal(t, 3, l.Len())
}

func TestMemoryLimiter_InvalidPolicy(t *testing.T) {
	l := newTestLimiter(t, newFakeClock())
	_, err := l.Check(context.Background(), "k", Policy{Name: "broken"})
	assert.ErrorIs(t, err, ErrInvalidPolicy)
	assert.Equal(t, 0, l.Len())
}

func TestMemoryLimiter_ConcurrentSameKeyNeverExceedsMax(t *testing.T) {
	l := NewMemoryLimiter(WithSweepInterval(0))
	defer l.Close()

	p := Policy{Name: PolicyConvert, MaxRequests: 25, Window: time.Hour}
	var admitted atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Check(context.Background(), "convert:unknown", p)
			if err == nil && res.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(p.MaxRequests), admitted.Load())
}

func TestMemoryLimiter_Sweep(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, clock)
	ctx := context.Background()

	short := Policy{Name: PolicyAuth, MaxRequests: 5, Window: 10 * time.Second}
	_, _ = l.Check(ctx, "short", short)
	_, _ = l.Check(ctx, "long", convertPolicy)

	assert.Equal(t, 0, l.Sweep(), "nothing expired yet")

	clock.Advance(10 * time.Second)
	assert.Equal(t, 1, l.Sweep())
	assert.Equal(t, 1, l.Len())

	res, err := l.Check(ctx, "short", short)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, short.MaxRequests-1, res.Remaining, "swept key restarts its window")
}

func TestMemoryLimiter_SweeperRunsInBackground(t *testing.T) {
	clock := newFakeClock()
	l := NewMemoryLimiter(WithClock(clock.Now), WithSweepInterval(5*time.Millisecond))
	defer l.Close()

	_, err := l.Check(context.Background(), "k", Policy{Name: PolicyAuth, MaxRequests: 1, Window: time.Second})
	require.NoError(t, err)
	clock.Advance(2 * time.Second)

	assert.Eventually(t, func() bool { return l.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestMemoryLimiter_CloseIsIdempotent(t *testing.T) {
	l := NewMemoryLimiter(WithSweepInterval(time.Millisecond))
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
}
