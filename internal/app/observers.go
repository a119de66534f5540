package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/lendguard/hedgebot/internal/domain"
)

const alertsChannel = "credit.alerts"

// busObserver publishes credit alerts to the signal bus for out-of-process
// analytics consumers.
type busObserver struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

var _ domain.CreditObserver = (*busObserver)(nil)

func (o *busObserver) OnCreditAlert(ctx context.Context, alert domain.CreditAlert) {
	payload, err := json.Marshal(map[string]any{
		"borrower_id": alert.BorrowerID,
		"old_score":   alert.OldScore,
		"new_score":   alert.NewScore,
		"risk":        string(alert.Risk),
		"observed_at": alert.ObservedAt.Unix(),
	})
	if err != nil {
		return
	}
	if err := o.bus.Publish(ctx, alertsChannel, payload); err != nil {
		o.logger.WarnContext(ctx, "failed to publish credit alert",
			slog.String("borrower_id", alert.BorrowerID),
			slog.String("error", err.Error()),
		)
	}
}

// logObserver writes every credit alert to the structured log.
type logObserver struct {
	logger *slog.Logger
}

var _ domain.CreditObserver = (*logObserver)(nil)

func (o *logObserver) OnCreditAlert(ctx context.Context, alert domain.CreditAlert) {
	o.logger.InfoContext(ctx, "credit alert",
		slog.String("borrower_id", alert.BorrowerID),
		slog.Int64("old_score", alert.OldScore),
		slog.Int64("new_score", alert.NewScore),
		slog.String("risk", string(alert.Risk)),
	)
}

// logBus is the signal bus used when Redis is not configured. Events are
// written to the log instead of being published.
type logBus struct {
	logger *slog.Logger
}

var _ domain.SignalBus = (*logBus)(nil)

func (b *logBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.logger.DebugContext(ctx, "signal",
		slog.String("channel", channel),
		slog.String("payload", string(payload)),
	)
	return nil
}

// dryRunHedger stands in for the hedging service in monitor mode. It logs the
// hedge decision that would have been taken without touching the market or
// the ledger.
type dryRunHedger struct {
	logger *slog.Logger
}

func (h *dryRunHedger) EvaluateAndHedge(ctx context.Context, borrowerID string, score int64, loanAmount float64) error {
	h.logger.InfoContext(ctx, "hedge evaluation (dry run)",
		slog.String("borrower_id", borrowerID),
		slog.Int64("score", score),
		slog.Float64("loan_amount", loanAmount),
		slog.Time("at", time.Now().UTC()),
	)
	return nil
}
