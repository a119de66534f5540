package cache

import (
	"sync"
	"time"
)

type sizedEntry struct {
	value        []byte
	storedAt     time.Time
	ttl          time.Duration
	size         int64
	accessCount  int64
	lastAccessed time.Time
}

func (e *sizedEntry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.storedAt) > e.ttl
}

// utility ranks an entry for eviction: frequently and recently accessed
// young entries score high, stale cold ones score low and go first.
func (e *sizedEntry) utility(now time.Time) float64 {
	age := now.Sub(e.storedAt).Seconds()
	if age < 1 {
		age = 1
	}
	idle := now.Sub(e.lastAccessed).Seconds()
	if idle < 1 {
		idle = 1
	}
	return float64(e.accessCount) / age / idle
}

// Sized is a byte-size-bounded TTL cache for larger cached payloads. When an
// insert would exceed maxBytes, the lowest-utility entries are evicted first.
type Sized struct {
	maxBytes   int64
	defaultTTL time.Duration
	now        func() time.Time

	mu        sync.Mutex
	m         map[string]*sizedEntry
	usedBytes int64
}

// NewSized creates a size-bounded cache holding at most maxBytes of values.
func NewSized(maxBytes int64, defaultTTL time.Duration) *Sized {
	return &Sized{
		maxBytes:   maxBytes,
		defaultTTL: defaultTTL,
		now:        time.Now,
		m:          make(map[string]*sizedEntry),
	}
}

// Set stores value under key, evicting low-utility entries as needed. Values
// larger than the whole cache are rejected silently.
func (c *Sized) Set(key string, value []byte) {
	size := int64(len(value))
	if size > c.maxBytes {
		return
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.m[key]; ok {
		c.usedBytes -= old.size
		delete(c.m, key)
	}
	for c.usedBytes+size > c.maxBytes {
		if !c.evictOneLocked(now) {
			break
		}
	}
	c.m[key] = &sizedEntry{
		value:        value,
		storedAt:     now,
		ttl:          c.defaultTTL,
		size:         size,
		lastAccessed: now,
	}
	c.usedBytes += size
}

// Get returns the cached bytes, counting the access for eviction ranking.
func (c *Sized) Get(key string) ([]byte, bool) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.m[key]
	if !ok {
		return nil, false
	}
	if e.expired(now) {
		c.usedBytes -= e.size
		delete(c.m, key)
		return nil, false
	}
	e.accessCount++
	e.lastAccessed = now
	return e.value, true
}

// Remove deletes the entry under key, if present.
func (c *Sized) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.m[key]; ok {
		c.usedBytes -= e.size
		delete(c.m, key)
	}
}

// UsedBytes returns the approximate total size of stored values.
func (c *Sized) UsedBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usedBytes
}

// evictOneLocked removes the expired or lowest-utility entry. Returns false
// when the cache is empty.
func (c *Sized) evictOneLocked(now time.Time) bool {
	var victim string
	lowest := 0.0
	found := false
	for key, e := range c.m {
		if e.expired(now) {
			victim = key
			found = true
			break
		}
		u := e.utility(now)
		if !found || u < lowest {
			victim = key
			lowest = u
			found = true
		}
	}
	if !found {
		return false
	}
	c.usedBytes -= c.m[victim].size
	delete(c.m, victim)
	return true
}
