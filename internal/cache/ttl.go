// Package cache provides in-process time-bounded caches for externally
// fetched data such as prices and credit snapshots.
package cache

import (
	"context"
	"sync"
	"time"
)

// defaultSweepInterval is how often the background sweep evicts expired
// entries when the caller does not configure one.
const defaultSweepInterval = time.Minute

type entry struct {
	value    any
	storedAt time.Time
	ttl      time.Duration
}

func (e entry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.storedAt) > e.ttl
}

// TTL is a keyed cache whose entries expire after a fixed duration. Expired
// entries are evicted lazily on Get and proactively by a background sweep.
type TTL struct {
	defaultTTL    time.Duration
	sweepInterval time.Duration
	now           func() time.Time

	mu sync.RWMutex
	m  map[string]entry

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewTTL creates a cache with the given default TTL. A defaultTTL of 0 means
// entries never expire unless set with an explicit TTL.
func NewTTL(defaultTTL time.Duration) *TTL {
	return &TTL{
		defaultTTL:    defaultTTL,
		sweepInterval: defaultSweepInterval,
		now:           time.Now,
		m:             make(map[string]entry),
		stopCh:        make(chan struct{}),
	}
}

// SetSweepInterval changes the background sweep cadence. Must be called
// before StartSweeper.
func (c *TTL) SetSweepInterval(d time.Duration) {
	if d > 0 {
		c.sweepInterval = d
	}
}

// Set stores value under key with the cache's default TTL.
func (c *TTL) Set(key string, value any) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores value under key with an explicit TTL.
func (c *TTL) SetWithTTL(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	c.m[key] = entry{value: value, storedAt: c.now(), ttl: ttl}
	c.mu.Unlock()
}

// Get returns the cached value, or false when the key is absent or expired.
// Expired entries are evicted on detection.
func (c *TTL) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if e.expired(c.now()) {
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have refreshed it.
		if cur, still := c.m[key]; still && cur.expired(c.now()) {
			delete(c.m, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Delete removes key if present.
func (c *TTL) Delete(key string) {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
}

// Len returns the number of entries currently stored, expired or not.
func (c *TTL) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

// StartSweeper launches the background eviction loop so memory does not grow
// unbounded between reads. It returns immediately; the loop runs until ctx
// is cancelled or Stop is called.
func (c *TTL) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()
}

// Stop terminates the background sweep. Safe to call multiple times.
func (c *TTL) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *TTL) sweep() {
	now := c.now()
	c.mu.Lock()
	for key, e := range c.m {
		if e.expired(now) {
			delete(c.m, key)
		}
	}
	c.mu.Unlock()
}
