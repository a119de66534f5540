package hedge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lendguard/hedgebot/internal/domain"
	"github.com/lendguard/hedgebot/internal/txqueue"
)

// Ledger write priorities. High-risk opens drain ahead of routine closes.
const (
	priorityHighRisk   = 10
	priorityMediumRisk = 5
	priorityClose      = 5
	priorityLowRisk    = 1
	priorityAdjust     = 1
)

const analyticsChannel = "hedge.events"

// Admitter gates hedge admissions. The token-bucket rate limiter satisfies
// it.
type Admitter interface {
	Acquire(ctx context.Context, key string, cost float64, timeout time.Duration) bool
}

// ConfigPatch carries a partial configuration update. Nil fields keep their
// current value.
type ConfigPatch struct {
	CreditScoreThreshold  *int64
	MinCreditScoreToClose *int64
	HedgeRatio            *float64
	MaxHedgeAmount        *float64
	HighRiskBelow         *int64
	MediumRiskBelow       *int64
	RebalanceInterval     *time.Duration
	PriceTTL              *time.Duration
}

// Deps are the collaborators a Service needs. Bus and Audit may be nil.
type Deps struct {
	Store   domain.PositionStore
	Market  domain.Market
	Prices  domain.PriceCache
	Limiter Admitter
	Queue   *txqueue.Queue
	Ledger  domain.Ledger
	Scores  domain.CreditScoreSource
	Bus     domain.SignalBus
	Audit   domain.AuditStore
	Logger  *slog.Logger
}

// Service orchestrates hedge positions for at-risk borrowers. All position
// mutation flows through it, serialized per borrower, and every ledger
// write is routed through the transaction queue.
type Service struct {
	store   domain.PositionStore
	market  domain.Market
	prices  domain.PriceCache
	limiter Admitter
	queue   *txqueue.Queue
	ledger  domain.Ledger
	scores  domain.CreditScoreSource
	bus     domain.SignalBus
	audit   domain.AuditStore
	logger  *slog.Logger

	asset string

	cfgMu sync.RWMutex
	cfg   Config

	borrowers keyedMutex

	lifecycleMu     sync.Mutex
	rebalanceCancel context.CancelFunc
	rebalanceDone   chan struct{}
	restartCh       chan struct{}
	destroyed       bool

	now func() time.Time
}

// NewService creates a hedging service over the given asset pair.
func NewService(asset string, cfg Config, deps Deps) *Service {
	return &Service{
		store:   deps.Store,
		market:  deps.Market,
		prices:  deps.Prices,
		limiter: deps.Limiter,
		queue:   deps.Queue,
		ledger:  deps.Ledger,
		scores:  deps.Scores,
		bus:     deps.Bus,
		audit:   deps.Audit,
		logger:  deps.Logger.With(slog.String("component", "hedge_service")),
		asset:   asset,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Config returns a copy of the current configuration.
func (s *Service) Config() Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// EvaluateAndHedge opens or tops up the borrower's hedge when the score is
// below the configured threshold. A score at or above the threshold is a
// no-op. Admission is gated by the rate limiter under the "hedge" key; a
// denial returns ErrRateLimited without retrying internally.
func (s *Service) EvaluateAndHedge(ctx context.Context, borrowerID string, score int64, loanAmount float64) error {
	if borrowerID == "" {
		return fmt.Errorf("hedge: evaluate: %w: borrower id required", domain.ErrValidation)
	}
	if loanAmount <= 0 {
		return fmt.Errorf("hedge: evaluate: %w: loan amount must be positive", domain.ErrValidation)
	}

	cfg := s.Config()
	if score >= cfg.CreditScoreThreshold {
		return nil
	}

	unlock := s.borrowers.lock(borrowerID)
	defer unlock()

	if !s.limiter.Acquire(ctx, "hedge", 1, 0) {
		return fmt.Errorf("hedge: evaluate %s: %w", borrowerID, domain.ErrRateLimited)
	}

	existing, err := s.store.OpenByBorrowerAsset(ctx, borrowerID, s.asset)
	switch {
	case err == nil:
		return s.increasePosition(ctx, existing, score, loanAmount, cfg)
	case errors.Is(err, domain.ErrNotFound):
		return s.openPosition(ctx, borrowerID, score, loanAmount, cfg)
	default:
		return fmt.Errorf("hedge: evaluate %s: %w", borrowerID, err)
	}
}

// openPosition creates a fresh position. Caller holds the borrower lock.
func (s *Service) openPosition(ctx context.Context, borrowerID string, score int64, loanAmount float64, cfg Config) error {
	amount := ComputeHedgeAmount(loanAmount, score, cfg)
	if amount <= 0 {
		return nil
	}
	// The ledger records whole units; a hedge that rounds to zero units
	// would be rejected there after the market order already filled.
	ledgerAmount := ledgerUnits(amount)
	if ledgerAmount == 0 {
		s.logger.InfoContext(ctx, "hedge below one ledger unit, skipping",
			slog.String("borrower_id", borrowerID),
			slog.Float64("amount", amount),
		)
		return nil
	}

	price, err := s.currentPrice(ctx, cfg)
	if err != nil {
		return fmt.Errorf("hedge: open for %s: %w: %v", borrowerID, domain.ErrHedgeExecution, err)
	}

	order := domain.OrderRequest{
		Symbol: s.asset,
		Side:   domain.OrderSideSell,
		Amount: amount / price,
		Type:   domain.OrderTypeMarket,
	}
	if _, err := s.market.ExecuteOrder(ctx, order); err != nil {
		return fmt.Errorf("hedge: open for %s: %w: %v", borrowerID, domain.ErrHedgeExecution, err)
	}

	ratioBps := ComputeHedgeRatioBps(score, cfg)
	pos := domain.HedgePosition{
		ID:            uuid.NewString(),
		BorrowerID:    borrowerID,
		Asset:         s.asset,
		LoanAmount:    loanAmount,
		Amount:        amount,
		OpenPrice:     price,
		HedgeRatioBps: ratioBps,
		ScoreAtOpen:   score,
		Status:        domain.PositionStatusOpen,
		OpenedAt:      s.now().UTC(),
	}
	if err := s.store.Put(ctx, pos); err != nil {
		return fmt.Errorf("hedge: record position for %s: %w", borrowerID, err)
	}

	s.enqueueLedgerWrite(ctx, txqueue.Transaction{
		Priority: riskPriority(score, cfg),
		Submit: func(ctx context.Context) error {
			return s.ledger.CreatePosition(ctx, pos.BorrowerID, pos.ID, ledgerAmount, uint64(pos.HedgeRatioBps))
		},
	})

	s.logger.InfoContext(ctx, "hedge position opened",
		slog.String("position_id", pos.ID),
		slog.String("borrower_id", borrowerID),
		slog.Int64("score", score),
		slog.Float64("amount", amount),
		slog.Float64("price", price),
		slog.Int64("ratio_bps", ratioBps),
	)
	s.emitEvent(ctx, "position_opened", map[string]any{
		"position_id": pos.ID,
		"borrower_id": borrowerID,
		"score":       score,
		"amount":      amount,
		"ratio_bps":   ratioBps,
		"risk":        string(ClassifyRisk(score, cfg)),
	})

	return nil
}

// increasePosition tops an existing position up to the amount the current
// score calls for. A target at or below the current size is a no-op, which
// keeps repeated evaluation at an unchanged score write-free.
func (s *Service) increasePosition(ctx context.Context, pos domain.HedgePosition, score int64, loanAmount float64, cfg Config) error {
	target := ComputeHedgeAmount(loanAmount, score, cfg)
	if target > cfg.MaxHedgeAmount {
		target = cfg.MaxHedgeAmount
	}
	delta := target - pos.Amount
	if delta <= 0 {
		return nil
	}

	price, err := s.currentPrice(ctx, cfg)
	if err != nil {
		return fmt.Errorf("hedge: increase %s: %w: %v", pos.ID, domain.ErrHedgeExecution, err)
	}

	order := domain.OrderRequest{
		Symbol: s.asset,
		Side:   domain.OrderSideSell,
		Amount: delta / price,
		Type:   domain.OrderTypeMarket,
	}
	if _, err := s.market.ExecuteOrder(ctx, order); err != nil {
		return fmt.Errorf("hedge: increase %s: %w: %v", pos.ID, domain.ErrHedgeExecution, err)
	}

	pos.Amount = target
	pos.LoanAmount = loanAmount
	newRatio := ComputeHedgeRatioBps(score, cfg)
	ratioChanged := newRatio != pos.HedgeRatioBps
	pos.HedgeRatioBps = newRatio
	if err := s.store.Update(ctx, pos); err != nil {
		return fmt.Errorf("hedge: record increase on %s: %w", pos.ID, err)
	}

	if ratioChanged {
		s.enqueueLedgerWrite(ctx, txqueue.Transaction{
			Priority: priorityAdjust,
			Submit: func(ctx context.Context) error {
				return s.ledger.AdjustRatio(ctx, pos.ID, uint64(newRatio))
			},
		})
	}

	s.logger.InfoContext(ctx, "hedge position increased",
		slog.String("position_id", pos.ID),
		slog.String("borrower_id", pos.BorrowerID),
		slog.Float64("delta", delta),
		slog.Float64("amount", target),
	)
	s.emitEvent(ctx, "position_increased", map[string]any{
		"position_id": pos.ID,
		"borrower_id": pos.BorrowerID,
		"delta":       delta,
		"amount":      target,
	})

	return nil
}

// ClosePosition unwinds a position with an offsetting order and records the
// realized PnL. Closing an unknown or already-closed position is an
// idempotent no-op reported through the outcome. A market failure leaves
// the position open so a later rebalance sweep retries it.
func (s *Service) ClosePosition(ctx context.Context, positionID string, currentScore int64) (domain.CloseOutcome, error) {
	pos, err := s.store.GetByID(ctx, positionID)
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "close of unknown position", slog.String("position_id", positionID))
		return domain.CloseOutcomeNotFound, nil
	}
	if err != nil {
		return "", fmt.Errorf("hedge: close %s: %w", positionID, err)
	}

	unlock := s.borrowers.lock(pos.BorrowerID)
	defer unlock()

	// Re-read under the borrower lock; a concurrent close may have won.
	pos, err = s.store.GetByID(ctx, positionID)
	if err != nil {
		return "", fmt.Errorf("hedge: close %s: %w", positionID, err)
	}
	if !pos.IsOpen() {
		s.logger.WarnContext(ctx, "close of already-closed position", slog.String("position_id", positionID))
		return domain.CloseOutcomeAlreadyClosed, nil
	}

	cfg := s.Config()
	closePrice, err := s.currentPrice(ctx, cfg)
	if err != nil {
		return "", fmt.Errorf("hedge: close %s: %w: %v", positionID, domain.ErrHedgeExecution, err)
	}

	order := domain.OrderRequest{
		Symbol: s.asset,
		Side:   domain.OrderSideBuy,
		Amount: pos.Amount / closePrice,
		Type:   domain.OrderTypeMarket,
	}
	if _, err := s.market.ExecuteOrder(ctx, order); err != nil {
		return "", fmt.Errorf("hedge: close %s: %w: %v", positionID, domain.ErrHedgeExecution, err)
	}

	// A short hedge gains as the price falls.
	pnl := pos.Amount * (1 - closePrice/pos.OpenPrice)
	closedAt := s.now().UTC()
	pos.Status = domain.PositionStatusClosed
	pos.PnL = &pnl
	pos.ClosePrice = &closePrice
	pos.ClosedAt = &closedAt
	if err := s.store.Update(ctx, pos); err != nil {
		return "", fmt.Errorf("hedge: record close of %s: %w", positionID, err)
	}

	s.enqueueLedgerWrite(ctx, txqueue.Transaction{
		Priority: priorityClose,
		Submit: func(ctx context.Context) error {
			return s.ledger.ClosePosition(ctx, positionID)
		},
	})

	s.logger.InfoContext(ctx, "hedge position closed",
		slog.String("position_id", positionID),
		slog.String("borrower_id", pos.BorrowerID),
		slog.Int64("score", currentScore),
		slog.Float64("pnl", pnl),
	)
	s.emitEvent(ctx, "position_closed", map[string]any{
		"position_id": positionID,
		"borrower_id": pos.BorrowerID,
		"score":       currentScore,
		"pnl":         pnl,
		"close_price": closePrice,
	})

	return domain.CloseOutcomeClosed, nil
}

// AdjustHedgeRatio changes an open position's ratio on both the local store
// and the ledger.
func (s *Service) AdjustHedgeRatio(ctx context.Context, positionID string, newRatioBps int64) error {
	if newRatioBps < 1 || newRatioBps > maxHedgeRatioBps {
		return fmt.Errorf("hedge: adjust ratio: %w: %d bps out of range", domain.ErrValidation, newRatioBps)
	}

	pos, err := s.store.GetByID(ctx, positionID)
	if err != nil {
		return fmt.Errorf("hedge: adjust ratio on %s: %w", positionID, err)
	}

	unlock := s.borrowers.lock(pos.BorrowerID)
	defer unlock()

	pos, err = s.store.GetByID(ctx, positionID)
	if err != nil {
		return fmt.Errorf("hedge: adjust ratio on %s: %w", positionID, err)
	}
	if !pos.IsOpen() {
		return fmt.Errorf("hedge: adjust ratio on %s: %w", positionID, domain.ErrAlreadyClosed)
	}

	pos.HedgeRatioBps = newRatioBps
	if err := s.store.Update(ctx, pos); err != nil {
		return fmt.Errorf("hedge: record ratio on %s: %w", positionID, err)
	}

	s.enqueueLedgerWrite(ctx, txqueue.Transaction{
		Priority: priorityAdjust,
		Submit: func(ctx context.Context) error {
			return s.ledger.AdjustRatio(ctx, positionID, uint64(newRatioBps))
		},
	})

	s.emitEvent(ctx, "ratio_adjusted", map[string]any{
		"position_id": positionID,
		"ratio_bps":   newRatioBps,
	})

	return nil
}

// RebalancePositions re-evaluates every open position against the
// borrower's latest score: recovered borrowers are closed, worsened ones
// topped up. Each position is handled independently; a failure is logged
// and the sweep continues.
func (s *Service) RebalancePositions(ctx context.Context) error {
	open, err := s.store.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("hedge: rebalance: list open: %w", err)
	}

	cfg := s.Config()
	for _, pos := range open {
		score, err := s.scores.FetchScore(ctx, pos.BorrowerID)
		if err != nil {
			s.logger.WarnContext(ctx, "rebalance: score fetch failed",
				slog.String("borrower_id", pos.BorrowerID),
				slog.Any("error", err),
			)
			continue
		}

		switch {
		case ShouldClose(pos, score, cfg):
			if _, err := s.ClosePosition(ctx, pos.ID, score); err != nil {
				s.logger.WarnContext(ctx, "rebalance: close failed",
					slog.String("position_id", pos.ID),
					slog.Any("error", err),
				)
			}
		case ShouldIncrease(pos, score, cfg):
			if err := s.EvaluateAndHedge(ctx, pos.BorrowerID, score, pos.LoanAmount); err != nil {
				s.logger.WarnContext(ctx, "rebalance: top-up failed",
					slog.String("position_id", pos.ID),
					slog.Any("error", err),
				)
			}
		}
	}

	return nil
}

// StartRebalancing launches the recurring rebalance sweep. It returns an
// error if the sweep is already running or the service is destroyed.
func (s *Service) StartRebalancing(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.destroyed {
		return fmt.Errorf("hedge: start rebalancing: service destroyed")
	}
	if s.rebalanceCancel != nil {
		return fmt.Errorf("hedge: rebalance sweep already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.rebalanceCancel = cancel
	s.rebalanceDone = make(chan struct{})
	s.restartCh = make(chan struct{}, 1)

	go s.rebalanceLoop(loopCtx, s.rebalanceDone, s.restartCh)
	return nil
}

func (s *Service) rebalanceLoop(ctx context.Context, done chan struct{}, restart <-chan struct{}) {
	defer close(done)

	for {
		timer := time.NewTimer(s.Config().RebalanceInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-restart:
			// Interval changed; re-arm with the new value.
			timer.Stop()
			continue
		case <-timer.C:
		}

		if err := s.RebalancePositions(ctx); err != nil {
			s.logger.WarnContext(ctx, "rebalance sweep failed", slog.Any("error", err))
		}
	}
}

// UpdateConfig merges the patch into the current configuration. A changed
// rebalance interval re-arms the running sweep timer in place; timers are
// replaced, never stacked.
func (s *Service) UpdateConfig(patch ConfigPatch) Config {
	s.cfgMu.Lock()
	intervalChanged := false
	if patch.CreditScoreThreshold != nil {
		s.cfg.CreditScoreThreshold = *patch.CreditScoreThreshold
	}
	if patch.MinCreditScoreToClose != nil {
		s.cfg.MinCreditScoreToClose = *patch.MinCreditScoreToClose
	}
	if patch.HedgeRatio != nil {
		s.cfg.HedgeRatio = *patch.HedgeRatio
	}
	if patch.MaxHedgeAmount != nil {
		s.cfg.MaxHedgeAmount = *patch.MaxHedgeAmount
	}
	if patch.HighRiskBelow != nil {
		s.cfg.HighRiskBelow = *patch.HighRiskBelow
	}
	if patch.MediumRiskBelow != nil {
		s.cfg.MediumRiskBelow = *patch.MediumRiskBelow
	}
	if patch.PriceTTL != nil {
		s.cfg.PriceTTL = *patch.PriceTTL
	}
	if patch.RebalanceInterval != nil && *patch.RebalanceInterval != s.cfg.RebalanceInterval {
		s.cfg.RebalanceInterval = *patch.RebalanceInterval
		intervalChanged = true
	}
	updated := s.cfg
	s.cfgMu.Unlock()

	if intervalChanged {
		s.lifecycleMu.Lock()
		if s.restartCh != nil {
			select {
			case s.restartCh <- struct{}{}:
			default:
			}
		}
		s.lifecycleMu.Unlock()
	}

	return updated
}

// Destroy cancels the rebalance sweep and clears the position store.
// Transactions already queued keep draining; destroying the queue is the
// owner's call.
func (s *Service) Destroy(ctx context.Context) error {
	s.lifecycleMu.Lock()
	if s.destroyed {
		s.lifecycleMu.Unlock()
		return nil
	}
	s.destroyed = true
	cancel := s.rebalanceCancel
	done := s.rebalanceDone
	s.rebalanceCancel = nil
	s.rebalanceDone = nil
	s.restartCh = nil
	s.lifecycleMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("hedge: destroy: %w", err)
	}
	return nil
}

// currentPrice reads the hedged asset price cache-first, falling back to
// the venue and repopulating the cache on a miss.
func (s *Service) currentPrice(ctx context.Context, cfg Config) (float64, error) {
	if price, _, err := s.prices.GetPrice(ctx, s.asset); err == nil {
		return price, nil
	}

	price, err := s.market.GetPrice(ctx, s.asset)
	if err != nil {
		return 0, err
	}
	if err := s.prices.SetPrice(ctx, s.asset, price, s.now().UTC()); err != nil {
		s.logger.WarnContext(ctx, "price cache write failed", slog.Any("error", err))
	}
	return price, nil
}

func (s *Service) enqueueLedgerWrite(ctx context.Context, tx txqueue.Transaction) {
	id, err := s.queue.Enqueue(tx)
	if err != nil {
		s.logger.ErrorContext(ctx, "ledger write not queued", slog.Any("error", err))
		return
	}
	s.logger.DebugContext(ctx, "ledger write queued", slog.String("tx_id", id))
}

// emitEvent records the event in the audit log and publishes it on the
// analytics bus. Neither failure aborts the hedge operation.
func (s *Service) emitEvent(ctx context.Context, event string, detail map[string]any) {
	if s.audit != nil {
		if err := s.audit.Log(ctx, event, detail); err != nil {
			s.logger.WarnContext(ctx, "audit write failed", slog.Any("error", err))
		}
	}
	if s.bus != nil {
		payload, err := json.Marshal(map[string]any{"event": event, "detail": detail, "ts": s.now().UTC().Unix()})
		if err == nil {
			err = s.bus.Publish(ctx, analyticsChannel, payload)
		}
		if err != nil {
			s.logger.WarnContext(ctx, "analytics publish failed", slog.Any("error", err))
		}
	}
}

// ledgerUnits converts a notional to whole ledger units, rounding half up.
func ledgerUnits(amount float64) uint64 {
	if amount <= 0 {
		return 0
	}
	return uint64(math.Round(amount))
}

func riskPriority(score int64, cfg Config) int {
	switch ClassifyRisk(score, cfg) {
	case domain.RiskHigh:
		return priorityHighRisk
	case domain.RiskMedium:
		return priorityMediumRisk
	default:
		return priorityLowRisk
	}
}

// keyedMutex serializes operations per borrower.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
