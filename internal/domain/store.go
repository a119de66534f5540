package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore is the keyed store that owns hedge positions. The default
// implementation is in-memory; a persistent backing store can be substituted
// without touching orchestration logic.
type PositionStore interface {
	Put(ctx context.Context, pos HedgePosition) error
	Update(ctx context.Context, pos HedgePosition) error
	GetByID(ctx context.Context, id string) (HedgePosition, error)
	// OpenByBorrowerAsset returns the single open position for the pair,
	// or ErrNotFound. At most one open position may exist per pair.
	OpenByBorrowerAsset(ctx context.Context, borrowerID, asset string) (HedgePosition, error)
	ListOpen(ctx context.Context) ([]HedgePosition, error)
	ListClosedBefore(ctx context.Context, cutoff time.Time, limit int) ([]HedgePosition, error)
	Clear(ctx context.Context) error
}

// AuditEntry is a single append-only audit row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of hedge activity.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
