package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests advance bucket time deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(maxTokens, refillRate float64) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := New(maxTokens, refillRate)
	l.now = clock.now
	return l, clock
}

func TestAcquireImmediate(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter(2, 1)
	ctx := context.Background()

	assert.True(t, l.Acquire(ctx, "hedge", 1, 0))
	assert.True(t, l.Acquire(ctx, "hedge", 1, 0))
	assert.False(t, l.Acquire(ctx, "hedge", 1, 0))
}

func TestRefillProportionalAndBounded(t *testing.T) {
	t.Parallel()
	l, clock := newTestLimiter(100, 10)
	ctx := context.Background()

	require.True(t, l.Acquire(ctx, "hedge", 100, 0))
	assert.InDelta(t, 0, l.Stats("hedge").Tokens, 1e-9)

	clock.advance(5 * time.Second)
	assert.InDelta(t, 50, l.Stats("hedge").Tokens, 1e-9)

	// Refill never exceeds capacity.
	clock.advance(time.Hour)
	assert.InDelta(t, 100, l.Stats("hedge").Tokens, 1e-9)
}

func TestTokensNeverNegativeOrOverCapacity(t *testing.T) {
	t.Parallel()
	l, clock := newTestLimiter(5, 2)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		l.Acquire(ctx, "k", 1, 0)
		stats := l.Stats("k")
		assert.GreaterOrEqual(t, stats.Tokens, 0.0)
		assert.LessOrEqual(t, stats.Tokens, 5.0)
		clock.advance(300 * time.Millisecond)
	}
}

func TestAcquireCounters(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter(1, 0)
	ctx := context.Background()

	require.True(t, l.Acquire(ctx, "k", 1, 0))
	require.False(t, l.Acquire(ctx, "k", 1, 0))
	require.False(t, l.Acquire(ctx, "k", 1, 0))

	stats := l.Stats("k")
	assert.Equal(t, uint64(3), stats.Total)
	assert.Equal(t, uint64(1), stats.Accepted)
	assert.Equal(t, uint64(2), stats.Rejected)
}

func TestAcquireWithTimeoutWaitsForRefill(t *testing.T) {
	t.Parallel()
	// Real clock here: the poll loop sleeps on the wall clock.
	l := New(1, 20) // refills a full token every 50ms
	ctx := context.Background()

	require.True(t, l.Acquire(ctx, "k", 1, 0))
	start := time.Now()
	assert.True(t, l.Acquire(ctx, "k", 1, time.Second))
	assert.Less(t, time.Since(start), time.Second)
}

func TestAcquireWithTimeoutExpires(t *testing.T) {
	t.Parallel()
	l := New(1, 0) // never refills
	ctx := context.Background()

	require.True(t, l.Acquire(ctx, "k", 1, 0))
	assert.False(t, l.Acquire(ctx, "k", 1, 150*time.Millisecond))
}

func TestAcquireContextCancelled(t *testing.T) {
	t.Parallel()
	l := New(1, 0)
	ctx, cancel := context.WithCancel(context.Background())

	require.True(t, l.Acquire(ctx, "k", 1, 0))
	cancel()
	assert.False(t, l.Acquire(ctx, "k", 1, time.Minute))
}

func TestAcquireBatchAllOrNothing(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter(10, 0)
	ctx := context.Background()

	res := l.AcquireBatch(ctx, map[string]float64{"a": 3, "b": 4}, 0)
	assert.True(t, res["a"])
	assert.True(t, res["b"])
	assert.InDelta(t, 7, l.Stats("a").Tokens, 1e-9)
	assert.InDelta(t, 6, l.Stats("b").Tokens, 1e-9)
}

func TestAcquireBatchDoesNotPartiallyConsume(t *testing.T) {
	t.Parallel()
	l, _ := newTestLimiter(10, 0)
	ctx := context.Background()

	// "b" cannot be satisfied, so "a" must remain untouched too.
	res := l.AcquireBatch(ctx, map[string]float64{"a": 3, "b": 40}, 0)
	assert.False(t, res["a"])
	assert.False(t, res["b"])
	assert.InDelta(t, 10, l.Stats("a").Tokens, 1e-9)
	assert.InDelta(t, 10, l.Stats("b").Tokens, 1e-9)
}

func TestAcquireBatchRetriesIndividuallyUnderTimeout(t *testing.T) {
	t.Parallel()
	l := New(2, 10) // real clock, refills 1 token per 100ms
	ctx := context.Background()

	// Drain both keys.
	require.True(t, l.Acquire(ctx, "a", 2, 0))
	require.True(t, l.Acquire(ctx, "b", 2, 0))

	res := l.AcquireBatch(ctx, map[string]float64{"a": 1, "b": 1}, 2*time.Second)
	assert.True(t, res["a"])
	assert.True(t, res["b"])
}
