package cache

import (
	"context"
	"time"

	"github.com/lendguard/hedgebot/internal/domain"
)

type pricePoint struct {
	price float64
	ts    time.Time
}

// PriceCache adapts a TTL cache to domain.PriceCache for single-process
// deployments. The redis-backed implementation is used when the hedging
// engine runs alongside other consumers.
type PriceCache struct {
	c *TTL
}

// NewPriceCache creates a price cache whose entries expire after ttl.
func NewPriceCache(ttl time.Duration) *PriceCache {
	return &PriceCache{c: NewTTL(ttl)}
}

func (pc *PriceCache) SetPrice(_ context.Context, pair string, price float64, ts time.Time) error {
	pc.c.Set("price:"+pair, pricePoint{price: price, ts: ts})
	return nil
}

func (pc *PriceCache) GetPrice(_ context.Context, pair string) (float64, time.Time, error) {
	v, ok := pc.c.Get("price:" + pair)
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	p := v.(pricePoint)
	return p.price, p.ts, nil
}

// StartSweeper starts the underlying background eviction loop.
func (pc *PriceCache) StartSweeper(ctx context.Context) { pc.c.StartSweeper(ctx) }

// Stop terminates the background sweep.
func (pc *PriceCache) Stop() { pc.c.Stop() }

// ScoreCache adapts a TTL cache to domain.ScoreCache. The TTL should exceed
// the monitor's poll interval so each cycle can still read the previous
// observation when checking for drift.
type ScoreCache struct {
	c *TTL
}

// NewScoreCache creates a score cache whose observations expire after ttl.
func NewScoreCache(ttl time.Duration) *ScoreCache {
	return &ScoreCache{c: NewTTL(ttl)}
}

func (sc *ScoreCache) SetObservation(_ context.Context, obs domain.CreditObservation) error {
	sc.c.Set("score:"+obs.BorrowerID, obs)
	return nil
}

func (sc *ScoreCache) GetObservation(_ context.Context, borrowerID string) (domain.CreditObservation, error) {
	v, ok := sc.c.Get("score:" + borrowerID)
	if !ok {
		return domain.CreditObservation{}, domain.ErrNotFound
	}
	return v.(domain.CreditObservation), nil
}

// StartSweeper starts the underlying background eviction loop.
func (sc *ScoreCache) StartSweeper(ctx context.Context) { sc.c.StartSweeper(ctx) }

// Stop terminates the background sweep.
func (sc *ScoreCache) Stop() { sc.c.Stop() }

// Compile-time interface checks.
var (
	_ domain.PriceCache = (*PriceCache)(nil)
	_ domain.ScoreCache = (*ScoreCache)(nil)
)
