package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/lendguard/hedgebot/internal/cache"
	"github.com/lendguard/hedgebot/internal/crypto"
	"github.com/lendguard/hedgebot/internal/domain"
)

const (
	minHedgeRatioBps = 1
	maxHedgeRatioBps = 10000

	// Position snapshots are the largest payloads the client reads; they
	// are cached briefly and evicted whenever this client writes.
	snapshotCacheBytes = 1 << 20
	snapshotTTL        = 30 * time.Second
)

// EventFunc receives the ledger event confirmed for each successful write.
type EventFunc func(domain.LedgerEvent)

// Client writes hedge positions to the on-chain ledger program through its
// three entry points and reads them back through the query API. Every write
// is signed, carries a fresh nonce, and reaches the chain only through the
// configured wallet.
type Client struct {
	queryURL   string
	httpClient *http.Client
	signer     *crypto.Signer
	wallet     domain.Wallet
	logger     *slog.Logger
	onEvent    EventFunc
	snapshots  *cache.Sized
}

var _ domain.Ledger = (*Client)(nil)

// New creates a ledger client. queryURL is the read-side API root, e.g.
// "https://ledger.lendguard.io". onEvent may be nil.
func New(queryURL string, signer *crypto.Signer, wallet domain.Wallet, logger *slog.Logger, onEvent EventFunc) *Client {
	return &Client{
		queryURL: queryURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer:    signer,
		wallet:    wallet,
		logger:    logger.With(slog.String("component", "ledger")),
		onEvent:   onEvent,
		snapshots: cache.NewSized(snapshotCacheBytes, snapshotTTL),
	}
}

// CreatePosition opens a hedge position on the ledger under the
// caller-minted position ID.
func (c *Client) CreatePosition(ctx context.Context, borrowerID, positionID string, amount, hedgeRatioBps uint64) error {
	if borrowerID == "" {
		return fmt.Errorf("ledger: create position: %w: borrower id required", domain.ErrValidation)
	}
	if positionID == "" {
		return fmt.Errorf("ledger: create position: %w: position id required", domain.ErrValidation)
	}
	if err := validateWrite(amount, hedgeRatioBps); err != nil {
		return fmt.Errorf("ledger: create position: %w", err)
	}

	payload := domain.LedgerPayload{
		Op:            domain.LedgerOpCreate,
		BorrowerID:    borrowerID,
		PositionID:    positionID,
		Amount:        amount,
		HedgeRatioBps: hedgeRatioBps,
	}

	if err := c.submit(ctx, payload); err != nil {
		return fmt.Errorf("ledger: create position: %w", err)
	}

	c.emit(domain.LedgerEvent{
		Kind:          domain.LedgerEventCreated,
		PositionID:    positionID,
		Amount:        amount,
		HedgeRatioBps: hedgeRatioBps,
		Timestamp:     time.Now().UTC(),
	})

	return nil
}

// ClosePosition closes an existing position on the ledger.
func (c *Client) ClosePosition(ctx context.Context, positionID string) error {
	if positionID == "" {
		return fmt.Errorf("ledger: close position: %w: position id required", domain.ErrValidation)
	}

	payload := domain.LedgerPayload{
		Op:         domain.LedgerOpClose,
		PositionID: positionID,
	}

	if err := c.submit(ctx, payload); err != nil {
		return fmt.Errorf("ledger: close position %s: %w", positionID, err)
	}

	c.emit(domain.LedgerEvent{
		Kind:       domain.LedgerEventClosed,
		PositionID: positionID,
		Timestamp:  time.Now().UTC(),
	})

	return nil
}

// AdjustRatio changes the hedge ratio of an open position.
func (c *Client) AdjustRatio(ctx context.Context, positionID string, newRatioBps uint64) error {
	if positionID == "" {
		return fmt.Errorf("ledger: adjust ratio: %w: position id required", domain.ErrValidation)
	}
	if newRatioBps < minHedgeRatioBps || newRatioBps > maxHedgeRatioBps {
		return fmt.Errorf("ledger: adjust ratio: %w: ratio %d bps outside [%d, %d]",
			domain.ErrValidation, newRatioBps, minHedgeRatioBps, maxHedgeRatioBps)
	}

	payload := domain.LedgerPayload{
		Op:            domain.LedgerOpAdjust,
		PositionID:    positionID,
		HedgeRatioBps: newRatioBps,
	}

	if err := c.submit(ctx, payload); err != nil {
		return fmt.Errorf("ledger: adjust ratio on %s: %w", positionID, err)
	}

	c.emit(domain.LedgerEvent{
		Kind:          domain.LedgerEventAdjusted,
		PositionID:    positionID,
		HedgeRatioBps: newRatioBps,
		Timestamp:     time.Now().UTC(),
	})

	return nil
}

// GetPositions returns all positions owned by the given wallet address.
// Responses are served from the snapshot cache until it expires or a write
// through this client invalidates it.
func (c *Client) GetPositions(ctx context.Context, owner string) ([]domain.HedgePosition, error) {
	respBody, cached := c.snapshots.Get("positions:" + owner)
	if !cached {
		fetched, err := c.fetchPositions(ctx, owner)
		if err != nil {
			return nil, err
		}
		c.snapshots.Set("positions:"+owner, fetched)
		respBody = fetched
	}

	var apiPositions []apiPosition
	if err := json.Unmarshal(respBody, &apiPositions); err != nil {
		return nil, fmt.Errorf("ledger: decode positions: %w", err)
	}

	positions := make([]domain.HedgePosition, 0, len(apiPositions))
	for i := range apiPositions {
		positions = append(positions, apiPositions[i].toDomain())
	}

	return positions, nil
}

func (c *Client) fetchPositions(ctx context.Context, owner string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/v1/positions?owner=%s", c.queryURL, url.QueryEscape(owner))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: create positions request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ledger: get positions: %w: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ledger: read positions response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ledger: get positions HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// submit signs the payload, serializes it, and hands it to the wallet.
func (c *Client) submit(ctx context.Context, payload domain.LedgerPayload) error {
	if payload.Nonce == "" {
		payload.Nonce = uuid.NewString()
	}

	// The signature covers the payload serialized without it.
	unsigned, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	sig, err := c.signer.SignPayload(unsigned)
	if err != nil {
		return fmt.Errorf("sign payload: %w", err)
	}
	payload.Signature = sig

	signed, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal signed payload: %w", err)
	}

	txHash, err := c.wallet.SubmitTransaction(ctx, signed)
	if err != nil {
		return fmt.Errorf("submit transaction: %w", err)
	}

	// The write changed this wallet's position set; drop the stale snapshot.
	c.snapshots.Remove("positions:" + c.wallet.Address())

	c.logger.InfoContext(ctx, "ledger write confirmed",
		slog.String("op", string(payload.Op)),
		slog.String("position_id", payload.PositionID),
		slog.String("tx_hash", txHash),
	)

	return nil
}

func (c *Client) emit(ev domain.LedgerEvent) {
	if c.onEvent != nil {
		c.onEvent(ev)
	}
}

func validateWrite(amount, hedgeRatioBps uint64) error {
	if amount == 0 {
		return fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}
	if hedgeRatioBps < minHedgeRatioBps || hedgeRatioBps > maxHedgeRatioBps {
		return fmt.Errorf("%w: hedge ratio %d bps outside [%d, %d]",
			domain.ErrValidation, hedgeRatioBps, minHedgeRatioBps, maxHedgeRatioBps)
	}
	return nil
}

// apiPosition is the query API's JSON shape for a ledger position.
type apiPosition struct {
	ID            string   `json:"id"`
	BorrowerID    string   `json:"borrower_id"`
	Asset         string   `json:"asset"`
	LoanAmount    float64  `json:"loan_amount"`
	Amount        float64  `json:"amount"`
	OpenPrice     float64  `json:"open_price"`
	HedgeRatioBps int64    `json:"hedge_ratio_bps"`
	ScoreAtOpen   int64    `json:"score_at_open"`
	Status        string   `json:"status"`
	PnL           *float64 `json:"pnl,omitempty"`
	ClosePrice    *float64 `json:"close_price,omitempty"`
	LedgerTxHash  string   `json:"ledger_tx_hash"`
	OpenedAt      int64    `json:"opened_at"`
	ClosedAt      *int64   `json:"closed_at,omitempty"`
}

func (p *apiPosition) toDomain() domain.HedgePosition {
	pos := domain.HedgePosition{
		ID:            p.ID,
		BorrowerID:    p.BorrowerID,
		Asset:         p.Asset,
		LoanAmount:    p.LoanAmount,
		Amount:        p.Amount,
		OpenPrice:     p.OpenPrice,
		HedgeRatioBps: p.HedgeRatioBps,
		ScoreAtOpen:   p.ScoreAtOpen,
		Status:        domain.PositionStatus(p.Status),
		PnL:           p.PnL,
		ClosePrice:    p.ClosePrice,
		LedgerTxHash:  p.LedgerTxHash,
		OpenedAt:      time.Unix(p.OpenedAt, 0).UTC(),
	}
	if p.ClosedAt != nil {
		t := time.Unix(*p.ClosedAt, 0).UTC()
		pos.ClosedAt = &t
	}
	return pos
}
