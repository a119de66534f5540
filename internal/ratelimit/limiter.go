// Package ratelimit implements per-key token bucket admission control for
// operations reaching the ledger and the market venue.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// acquirePollInterval bounds how often a timed Acquire rechecks the bucket.
const acquirePollInterval = 100 * time.Millisecond

type bucket struct {
	tokens     float64
	lastRefill time.Time

	total    uint64
	accepted uint64
	rejected uint64
}

// Stats is a read-only snapshot of one bucket's counters.
type Stats struct {
	Tokens   float64
	Total    uint64
	Accepted uint64
	Rejected uint64
}

// Limiter is a thread-safe, in-process token bucket limiter keyed by an
// arbitrary string (typically an operation class such as "hedge"). All
// buckets share the same capacity and refill rate.
type Limiter struct {
	maxTokens  float64
	refillRate float64 // tokens per second
	now        func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

// New creates a Limiter whose buckets hold at most maxTokens and refill at
// refillRate tokens per second. New buckets start full.
func New(maxTokens, refillRate float64) *Limiter {
	return &Limiter{
		maxTokens:  maxTokens,
		refillRate: refillRate,
		now:        time.Now,
		buckets:    make(map[string]*bucket),
	}
}

// bucketLocked returns the bucket for key, creating it full. Caller holds mu.
func (l *Limiter) bucketLocked(key string) *bucket {
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.maxTokens, lastRefill: l.now()}
		l.buckets[key] = b
	}
	return b
}

// refillLocked adds elapsed*rate tokens, capped at maxTokens. Refill is
// monotonic: the clock never moves the bucket backwards.
func (l *Limiter) refillLocked(b *bucket) {
	now := l.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * l.refillRate
		if b.tokens > l.maxTokens {
			b.tokens = l.maxTokens
		}
		b.lastRefill = now
	}
}

// tryTake consumes cost tokens from key if available, recording counters.
func (l *Limiter) tryTake(key string, cost float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.bucketLocked(key)
	l.refillLocked(b)
	b.total++
	if b.tokens >= cost {
		b.tokens -= cost
		b.accepted++
		return true
	}
	b.rejected++
	return false
}

// Acquire attempts to consume cost tokens under key. With timeout == 0 it
// returns immediately. With timeout > 0 it polls at a bounded interval until
// the tokens become available, the timeout elapses, or ctx is cancelled.
func (l *Limiter) Acquire(ctx context.Context, key string, cost float64, timeout time.Duration) bool {
	if l.tryTake(key, cost) {
		return true
	}
	if timeout <= 0 {
		return false
	}

	deadline := l.now().Add(timeout)
	for {
		remaining := deadline.Sub(l.now())
		if remaining <= 0 {
			return false
		}
		wait := acquirePollInterval
		if remaining < wait {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}

		if l.tryTake(key, cost) {
			return true
		}
	}
}

// AcquireBatch admits the whole request map atomically when every key has
// sufficient tokens at check time; tokens are only consumed once all checks
// pass (check all, then consume all; not linearizable against concurrent
// single acquires). If the initial batch fails and
// timeout > 0, remaining unsatisfied keys are retried individually until
// the deadline. The result maps each key to whether it was admitted.
func (l *Limiter) AcquireBatch(ctx context.Context, requests map[string]float64, timeout time.Duration) map[string]bool {
	result := make(map[string]bool, len(requests))
	for key := range requests {
		result[key] = false
	}

	if l.takeBatch(requests) {
		for key := range requests {
			result[key] = true
		}
		return result
	}
	if timeout <= 0 {
		return result
	}

	deadline := l.now().Add(timeout)
	for {
		pending := false
		for key, cost := range requests {
			if result[key] {
				continue
			}
			if l.tryTake(key, cost) {
				result[key] = true
			} else {
				pending = true
			}
		}
		if !pending {
			return result
		}

		remaining := deadline.Sub(l.now())
		if remaining <= 0 {
			return result
		}
		wait := acquirePollInterval
		if remaining < wait {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result
		case <-timer.C:
		}
	}
}

// takeBatch consumes every requested cost only if all keys have capacity.
func (l *Limiter) takeBatch(requests map[string]float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, cost := range requests {
		b := l.bucketLocked(key)
		l.refillLocked(b)
		if b.tokens < cost {
			for k := range requests {
				eb := l.bucketLocked(k)
				eb.total++
				eb.rejected++
			}
			return false
		}
	}
	for key, cost := range requests {
		b := l.buckets[key]
		b.tokens -= cost
		b.total++
		b.accepted++
	}
	return true
}

// Stats returns a snapshot of the named bucket's counters. An unknown key
// reports a full, untouched bucket.
func (l *Limiter) Stats(key string) Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		return Stats{Tokens: l.maxTokens}
	}
	l.refillLocked(b)
	return Stats{
		Tokens:   b.tokens,
		Total:    b.total,
		Accepted: b.accepted,
		Rejected: b.rejected,
	}
}
