package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lendguard/hedgebot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

var _ domain.PositionStore = (*PositionStore)(nil)

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionColumns = `id, borrower_id, asset, loan_amount, amount, open_price,
	hedge_ratio_bps, score_at_open, status, pnl, close_price, ledger_tx_hash,
	opened_at, closed_at`

// Put inserts a new position.
func (s *PositionStore) Put(ctx context.Context, pos domain.HedgePosition) error {
	const query = `
		INSERT INTO hedge_positions (` + positionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := s.pool.Exec(ctx, query,
		pos.ID, pos.BorrowerID, pos.Asset, pos.LoanAmount, pos.Amount,
		pos.OpenPrice, pos.HedgeRatioBps, pos.ScoreAtOpen, string(pos.Status),
		pos.PnL, pos.ClosePrice, pos.LedgerTxHash, pos.OpenedAt, pos.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: put position %s: %w", pos.ID, err)
	}
	return nil
}

// Update replaces an existing position.
func (s *PositionStore) Update(ctx context.Context, pos domain.HedgePosition) error {
	const query = `
		UPDATE hedge_positions SET
			borrower_id = $2, asset = $3, loan_amount = $4, amount = $5,
			open_price = $6, hedge_ratio_bps = $7, score_at_open = $8,
			status = $9, pnl = $10, close_price = $11, ledger_tx_hash = $12,
			opened_at = $13, closed_at = $14
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		pos.ID, pos.BorrowerID, pos.Asset, pos.LoanAmount, pos.Amount,
		pos.OpenPrice, pos.HedgeRatioBps, pos.ScoreAtOpen, string(pos.Status),
		pos.PnL, pos.ClosePrice, pos.LedgerTxHash, pos.OpenedAt, pos.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", pos.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update position %s: %w", pos.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID returns the position with the given ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.HedgePosition, error) {
	const query = `SELECT ` + positionColumns + ` FROM hedge_positions WHERE id = $1`

	pos, err := scanPosition(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.HedgePosition{}, fmt.Errorf("postgres: position %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.HedgePosition{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return pos, nil
}

// OpenByBorrowerAsset returns the open position for the pair, if any.
func (s *PositionStore) OpenByBorrowerAsset(ctx context.Context, borrowerID, asset string) (domain.HedgePosition, error) {
	const query = `SELECT ` + positionColumns + `
		FROM hedge_positions
		WHERE borrower_id = $1 AND asset = $2 AND status = 'open'`

	pos, err := scanPosition(s.pool.QueryRow(ctx, query, borrowerID, asset))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.HedgePosition{}, fmt.Errorf("postgres: open position for %s/%s: %w", borrowerID, asset, domain.ErrNotFound)
	}
	if err != nil {
		return domain.HedgePosition{}, fmt.Errorf("postgres: open position for %s/%s: %w", borrowerID, asset, err)
	}
	return pos, nil
}

// ListOpen returns all open positions, oldest first.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.HedgePosition, error) {
	const query = `SELECT ` + positionColumns + `
		FROM hedge_positions WHERE status = 'open' ORDER BY opened_at ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	return collectPositions(rows)
}

// ListClosedBefore returns up to limit closed positions with a close time
// before cutoff, oldest first. A limit of zero means no limit.
func (s *PositionStore) ListClosedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.HedgePosition, error) {
	query := `SELECT ` + positionColumns + `
		FROM hedge_positions
		WHERE status = 'closed' AND closed_at < $1
		ORDER BY closed_at ASC`
	args := []any{cutoff}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	defer rows.Close()

	return collectPositions(rows)
}

// Clear removes every position.
func (s *PositionStore) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM hedge_positions`); err != nil {
		return fmt.Errorf("postgres: clear positions: %w", err)
	}
	return nil
}

func scanPosition(row pgx.Row) (domain.HedgePosition, error) {
	var pos domain.HedgePosition
	var status string
	err := row.Scan(
		&pos.ID, &pos.BorrowerID, &pos.Asset, &pos.LoanAmount, &pos.Amount,
		&pos.OpenPrice, &pos.HedgeRatioBps, &pos.ScoreAtOpen, &status,
		&pos.PnL, &pos.ClosePrice, &pos.LedgerTxHash, &pos.OpenedAt, &pos.ClosedAt,
	)
	if err != nil {
		return domain.HedgePosition{}, err
	}
	pos.Status = domain.PositionStatus(status)
	return pos, nil
}

func collectPositions(rows pgx.Rows) ([]domain.HedgePosition, error) {
	var positions []domain.HedgePosition
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate positions: %w", err)
	}
	return positions, nil
}
