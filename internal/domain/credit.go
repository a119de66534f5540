package domain

import (
	"context"
	"time"
)

// CreditObservation is the most recent score reading for a borrower. The
// monitor keeps only one observation per borrower, cached with a TTL equal
// to the poll interval, to detect drift and avoid redundant evaluation.
type CreditObservation struct {
	BorrowerID string
	Score      int64
	ObservedAt time.Time
}

// CreditAlert is emitted whenever a borrower's observed score differs from
// the previously cached one.
type CreditAlert struct {
	BorrowerID string
	OldScore   int64
	NewScore   int64
	Risk       RiskLevel
	ObservedAt time.Time
}

// CreditScoreSource fetches the current credit score for a borrower from an
// external provider.
type CreditScoreSource interface {
	FetchScore(ctx context.Context, borrowerID string) (int64, error)
}

// CreditObserver receives credit alerts. Delivery is synchronous and a
// panicking observer must not break delivery to the rest.
type CreditObserver interface {
	OnCreditAlert(ctx context.Context, alert CreditAlert)
}
