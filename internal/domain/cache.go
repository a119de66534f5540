package domain

import (
	"context"
	"time"
)

// PriceCache provides time-bounded access to recently fetched asset prices.
// A get after the entry's TTL has elapsed behaves as a miss.
type PriceCache interface {
	SetPrice(ctx context.Context, pair string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, pair string) (float64, time.Time, error)
}

// ScoreCache holds the most recent credit observation per borrower.
type ScoreCache interface {
	SetObservation(ctx context.Context, obs CreditObservation) error
	GetObservation(ctx context.Context, borrowerID string) (CreditObservation, error)
}

// SignalBus publishes analytics events (position opened/closed/adjusted,
// credit alerts) for out-of-process consumers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}
