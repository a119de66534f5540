package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLRoundTrip(t *testing.T) {
	t.Parallel()
	c := NewTTL(time.Minute)

	c.Set("price:ETH-USD", 1850.25)
	got, ok := c.Get("price:ETH-USD")
	require.True(t, ok)
	assert.Equal(t, 1850.25, got)
}

func TestTTLExpiryBehavesAsMiss(t *testing.T) {
	t.Parallel()
	c := NewTTL(10 * time.Second)
	base := time.Unix(1_700_000_000, 0)
	now := base
	c.now = func() time.Time { return now }

	c.Set("k", "v")

	now = base.Add(10 * time.Second)
	_, ok := c.Get("k")
	assert.True(t, ok, "entry at exactly ttl is still fresh")

	now = base.Add(10*time.Second + time.Nanosecond)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry is evicted on detection")
}

func TestTTLZeroNeverExpires(t *testing.T) {
	t.Parallel()
	c := NewTTL(0)
	base := time.Unix(1_700_000_000, 0)
	now := base
	c.now = func() time.Time { return now }

	c.Set("k", 1)
	now = base.Add(24 * time.Hour)
	_, ok := c.Get("k")
	assert.True(t, ok)
}

func TestTTLSweeperEvictsExpired(t *testing.T) {
	t.Parallel()
	c := NewTTL(time.Millisecond)
	c.SetSweepInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.StartSweeper(ctx)

	c.Set("a", 1)
	c.Set("b", 2)

	assert.Eventually(t, func() bool { return c.Len() == 0 },
		time.Second, 5*time.Millisecond)
}

func TestSizedEvictsLowestUtilityFirst(t *testing.T) {
	t.Parallel()
	c := NewSized(100, 0)
	base := time.Unix(1_700_000_000, 0)
	now := base
	c.now = func() time.Time { return now }

	c.Set("hot", make([]byte, 40))
	c.Set("cold", make([]byte, 40))

	// Touch "hot" repeatedly so its utility dominates.
	now = base.Add(10 * time.Second)
	for i := 0; i < 50; i++ {
		_, ok := c.Get("hot")
		require.True(t, ok)
	}

	now = base.Add(20 * time.Second)
	c.Set("new", make([]byte, 40))

	_, hotOK := c.Get("hot")
	_, coldOK := c.Get("cold")
	_, newOK := c.Get("new")
	assert.True(t, hotOK)
	assert.False(t, coldOK)
	assert.True(t, newOK)
	assert.LessOrEqual(t, c.UsedBytes(), int64(100))
}

func TestSizedRejectsOversizedValue(t *testing.T) {
	t.Parallel()
	c := NewSized(10, 0)
	c.Set("big", make([]byte, 11))
	_, ok := c.Get("big")
	assert.False(t, ok)
	assert.Equal(t, int64(0), c.UsedBytes())
}
