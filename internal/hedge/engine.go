// Package hedge contains the credit-triggered hedging engine: the pure
// sizing and policy functions plus the orchestrating service that owns the
// position ledger.
package hedge

import (
	"time"

	"github.com/lendguard/hedgebot/internal/domain"
)

// baseHedgeRatioBps is the hedge ratio applied at a score exactly on the
// threshold; the score factor scales it up toward the 100% cap.
const (
	baseHedgeRatioBps = 5000
	maxHedgeRatioBps  = 10000
)

// Config holds the tunable parameters of the hedging engine. Thresholds are
// configuration, not constants; DefaultConfig provides the standard mapping.
type Config struct {
	CreditScoreThreshold  int64
	MinCreditScoreToClose int64
	HedgeRatio            float64
	MaxHedgeAmount        float64

	// Risk classification boundaries.
	HighRiskBelow   int64
	MediumRiskBelow int64

	RebalanceInterval time.Duration
	PriceTTL          time.Duration
}

// DefaultConfig returns the standard engine parameters.
func DefaultConfig() Config {
	return Config{
		CreditScoreThreshold:  600,
		MinCreditScoreToClose: 700,
		HedgeRatio:            0.5,
		MaxHedgeAmount:        100_000,
		HighRiskBelow:         500,
		MediumRiskBelow:       650,
		RebalanceInterval:     5 * time.Minute,
		PriceTTL:              10 * time.Second,
	}
}

// ClassifyRisk maps a credit score to a risk level using the configured
// boundaries. With defaults: score < 500 is high, < 650 medium, else low.
func ClassifyRisk(score int64, cfg Config) domain.RiskLevel {
	switch {
	case score < cfg.HighRiskBelow:
		return domain.RiskHigh
	case score < cfg.MediumRiskBelow:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// ComputeHedgeAmount sizes the hedge notional for a loan. The score
// adjustment scales linearly with how far the score sits below the
// threshold; the result is capped at MaxHedgeAmount and floored at zero.
// Callers must not invoke this when score >= threshold.
func ComputeHedgeAmount(loanAmount float64, score int64, cfg Config) float64 {
	scoreAdjustment := float64(cfg.CreditScoreThreshold-score) / float64(cfg.CreditScoreThreshold)
	amount := loanAmount * cfg.HedgeRatio * scoreAdjustment
	if amount > cfg.MaxHedgeAmount {
		amount = cfg.MaxHedgeAmount
	}
	if amount < 0 {
		amount = 0
	}
	return amount
}

// ComputeHedgeRatioBps derives the hedge ratio in basis points: 50% at the
// threshold, scaling up as the score falls, capped at 100%.
func ComputeHedgeRatioBps(score int64, cfg Config) int64 {
	scoreFactor := float64(cfg.CreditScoreThreshold-score) / float64(cfg.CreditScoreThreshold)
	ratio := int64(baseHedgeRatioBps + scoreFactor*baseHedgeRatioBps)
	if ratio > maxHedgeRatioBps {
		ratio = maxHedgeRatioBps
	}
	if ratio < 0 {
		ratio = 0
	}
	return ratio
}

// ShouldClose reports whether an open position's borrower has recovered
// enough for the hedge to be unwound.
func ShouldClose(pos domain.HedgePosition, currentScore int64, cfg Config) bool {
	return currentScore >= cfg.MinCreditScoreToClose
}

// ShouldIncrease reports whether risk has worsened since the position was
// opened and the hedge still has headroom below the configured maximum.
func ShouldIncrease(pos domain.HedgePosition, currentScore int64, cfg Config) bool {
	return currentScore < pos.ScoreAtOpen && pos.Amount < cfg.MaxHedgeAmount
}
