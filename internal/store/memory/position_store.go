// Package memory provides the default in-process implementations of the
// position and audit stores. They are safe for concurrent use and hold
// nothing outside the lifetime of the process.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lendguard/hedgebot/internal/domain"
)

// PositionStore keeps hedge positions in a map keyed by position ID.
type PositionStore struct {
	mu        sync.RWMutex
	positions map[string]domain.HedgePosition
}

var _ domain.PositionStore = (*PositionStore)(nil)

// NewPositionStore creates an empty store.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		positions: make(map[string]domain.HedgePosition),
	}
}

// Put inserts a new position. The ID must not already exist.
func (s *PositionStore) Put(_ context.Context, pos domain.HedgePosition) error {
	if pos.ID == "" {
		return fmt.Errorf("memory: put position: %w: id required", domain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.positions[pos.ID]; exists {
		return fmt.Errorf("memory: put position: %w: id %s already exists", domain.ErrValidation, pos.ID)
	}
	s.positions[pos.ID] = pos
	return nil
}

// Update replaces an existing position.
func (s *PositionStore) Update(_ context.Context, pos domain.HedgePosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.positions[pos.ID]; !exists {
		return fmt.Errorf("memory: update position %s: %w", pos.ID, domain.ErrNotFound)
	}
	s.positions[pos.ID] = pos
	return nil
}

// GetByID returns the position with the given ID.
func (s *PositionStore) GetByID(_ context.Context, id string) (domain.HedgePosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.positions[id]
	if !ok {
		return domain.HedgePosition{}, fmt.Errorf("memory: position %s: %w", id, domain.ErrNotFound)
	}
	return pos, nil
}

// OpenByBorrowerAsset returns the open position for the pair, if any.
func (s *PositionStore) OpenByBorrowerAsset(_ context.Context, borrowerID, asset string) (domain.HedgePosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, pos := range s.positions {
		if pos.IsOpen() && pos.BorrowerID == borrowerID && pos.Asset == asset {
			return pos, nil
		}
	}
	return domain.HedgePosition{}, fmt.Errorf("memory: open position for %s/%s: %w", borrowerID, asset, domain.ErrNotFound)
}

// ListOpen returns all open positions, oldest first.
func (s *PositionStore) ListOpen(_ context.Context) ([]domain.HedgePosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	open := make([]domain.HedgePosition, 0)
	for _, pos := range s.positions {
		if pos.IsOpen() {
			open = append(open, pos)
		}
	}
	sort.Slice(open, func(i, j int) bool {
		return open[i].OpenedAt.Before(open[j].OpenedAt)
	})
	return open, nil
}

// ListClosedBefore returns up to limit closed positions whose close time is
// before cutoff, oldest first. A limit of zero means no limit.
func (s *PositionStore) ListClosedBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.HedgePosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	closed := make([]domain.HedgePosition, 0)
	for _, pos := range s.positions {
		if pos.Status == domain.PositionStatusClosed && pos.ClosedAt != nil && pos.ClosedAt.Before(cutoff) {
			closed = append(closed, pos)
		}
	}
	sort.Slice(closed, func(i, j int) bool {
		return closed[i].ClosedAt.Before(*closed[j].ClosedAt)
	})
	if limit > 0 && len(closed) > limit {
		closed = closed[:limit]
	}
	return closed, nil
}

// Clear removes every position.
func (s *PositionStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = make(map[string]domain.HedgePosition)
	return nil
}
