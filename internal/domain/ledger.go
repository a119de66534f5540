package domain

import (
	"context"
	"time"
)

// LedgerOp identifies a ledger write entry point.
type LedgerOp string

const (
	LedgerOpCreate LedgerOp = "create_hedge_position"
	LedgerOpClose  LedgerOp = "close_hedge_position"
	LedgerOpAdjust LedgerOp = "adjust_hedge_ratio"
)

// LedgerPayload is the signed body of a single ledger write. Amount and
// ratio are integer fields because the on-chain program stores u64 values.
type LedgerPayload struct {
	Op            LedgerOp `json:"op"`
	BorrowerID    string   `json:"borrower_id,omitempty"`
	PositionID    string   `json:"position_id,omitempty"`
	Amount        uint64   `json:"amount,omitempty"`
	HedgeRatioBps uint64   `json:"hedge_ratio_bps,omitempty"`
	Nonce         string   `json:"nonce"`
	Signature     string   `json:"signature,omitempty"`
}

// LedgerEventKind mirrors the events the on-chain program emits.
type LedgerEventKind string

const (
	LedgerEventCreated  LedgerEventKind = "created"
	LedgerEventClosed   LedgerEventKind = "closed"
	LedgerEventAdjusted LedgerEventKind = "adjusted"
)

// LedgerEvent carries the fields every ledger event includes.
type LedgerEvent struct {
	Kind          LedgerEventKind
	PositionID    string
	Amount        uint64
	HedgeRatioBps uint64
	Timestamp     time.Time
}

// Ledger is the external on-chain position store, reached only through its
// entry points. Writes reject amount == 0 or a ratio outside [1, 10000].
// Position IDs are minted by the caller so the local store and the ledger
// agree on identity before the write settles.
type Ledger interface {
	CreatePosition(ctx context.Context, borrowerID, positionID string, amount, hedgeRatioBps uint64) error
	ClosePosition(ctx context.Context, positionID string) error
	AdjustRatio(ctx context.Context, positionID string, newRatioBps uint64) error
	GetPositions(ctx context.Context, owner string) ([]HedgePosition, error)
}

// Wallet signs and submits raw transactions. It is the only path through
// which ledger payloads reach the chain.
type Wallet interface {
	SubmitTransaction(ctx context.Context, payload []byte) (txHash string, err error)
	Address() string
}
