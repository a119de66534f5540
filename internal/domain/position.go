package domain

import "time"

// PositionStatus tracks whether a hedge position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// HedgePosition is an exposure taken on an external market to offset the
// credit risk of a single borrower's loan. A closed position is immutable
// and carries a finite PnL; it is retained for audit history, never deleted.
type HedgePosition struct {
	ID            string
	BorrowerID    string
	Asset         string // hedged asset symbol, e.g. "ETH-USD"
	LoanAmount    float64
	Amount        float64
	OpenPrice     float64
	HedgeRatioBps int64 // 0..10000
	ScoreAtOpen   int64
	Status        PositionStatus
	PnL           *float64 // set only once closed
	ClosePrice    *float64
	LedgerTxHash  string
	OpenedAt      time.Time
	ClosedAt      *time.Time
}

// IsOpen reports whether the position can still be adjusted or closed.
func (p HedgePosition) IsOpen() bool {
	return p.Status == PositionStatusOpen
}

// RiskLevel classifies a borrower's credit standing.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// CloseOutcome reports what ClosePosition actually did. Closing an unknown
// or already-closed position is a deliberate no-op rather than an error.
type CloseOutcome string

const (
	CloseOutcomeClosed        CloseOutcome = "closed"
	CloseOutcomeAlreadyClosed CloseOutcome = "already_closed"
	CloseOutcomeNotFound      CloseOutcome = "not_found"
)
