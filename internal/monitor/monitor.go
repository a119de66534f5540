// Package monitor watches borrower credit scores and feeds the hedging
// engine. Each monitored borrower has its own schedule handle; ticks fetch
// the score with bounded retries, trigger hedging below the threshold, and
// fan drift alerts out to registered observers.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lendguard/hedgebot/internal/domain"
)

// Hedger is the slice of the hedge service the monitor drives.
type Hedger interface {
	EvaluateAndHedge(ctx context.Context, borrowerID string, score int64, loanAmount float64) error
}

// CheckFailedFunc is invoked after a tick exhausts its score-fetch retries.
// The schedule stays armed; only that cycle is skipped.
type CheckFailedFunc func(borrowerID string, err error)

// Config tunes the monitoring loop.
type Config struct {
	// PollInterval is the time between scheduled score checks. The score
	// cache TTL should exceed it so drift checks see the prior cycle.
	PollInterval time.Duration
	// MaxRetries is the number of extra fetch attempts per tick.
	MaxRetries int
	// MinCheckInterval is the delay between fetch attempts within a tick.
	MinCheckInterval time.Duration
	// CreditScoreThreshold triggers hedging when a score falls below it.
	CreditScoreThreshold int64

	// Risk classification boundaries, matching the hedging engine's.
	HighRiskBelow   int64
	MediumRiskBelow int64
}

// DefaultConfig returns the standard monitoring parameters.
func DefaultConfig() Config {
	return Config{
		PollInterval:         time.Minute,
		MaxRetries:           3,
		MinCheckInterval:     5 * time.Second,
		CreditScoreThreshold: 600,
		HighRiskBelow:        500,
		MediumRiskBelow:      650,
	}
}

// borrowerState is the per-borrower lifecycle.
type borrowerState int

const (
	stateIdle borrowerState = iota
	stateMonitoring
	stateStopped
)

type schedule struct {
	state      borrowerState
	loanAmount float64
	cancel     context.CancelFunc
	done       chan struct{}
}

// Monitor owns the per-borrower check schedules.
type Monitor struct {
	scores   domain.CreditScoreSource
	hedger   Hedger
	cache    domain.ScoreCache
	logger   *slog.Logger
	config   Config
	onFailed CheckFailedFunc

	obsMu     sync.RWMutex
	observers []domain.CreditObserver

	mu        sync.Mutex
	schedules map[string]*schedule

	// sleep is swapped in tests to avoid real retry delays.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New creates a monitor. onFailed may be nil.
func New(scores domain.CreditScoreSource, hedger Hedger, cache domain.ScoreCache, config Config, logger *slog.Logger, onFailed CheckFailedFunc) *Monitor {
	return &Monitor{
		scores:    scores,
		hedger:    hedger,
		cache:     cache,
		logger:    logger.With(slog.String("component", "credit_monitor")),
		config:    config,
		onFailed:  onFailed,
		schedules: make(map[string]*schedule),
		sleep:     sleepCtx,
		now:       time.Now,
	}
}

// AddObserver registers an observer for credit drift alerts.
func (m *Monitor) AddObserver(obs domain.CreditObserver) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.observers = append(m.observers, obs)
}

// StartMonitoring arms the recurring check for a borrower. It is a no-op if
// the borrower is already being monitored; a stopped borrower re-arms.
func (m *Monitor) StartMonitoring(ctx context.Context, borrowerID string, initialScore int64, loanAmount float64) error {
	if borrowerID == "" {
		return fmt.Errorf("monitor: start: %w: borrower id required", domain.ErrValidation)
	}
	if loanAmount <= 0 {
		return fmt.Errorf("monitor: start: %w: loan amount must be positive", domain.ErrValidation)
	}

	m.mu.Lock()
	if sched, ok := m.schedules[borrowerID]; ok && sched.state == stateMonitoring {
		m.mu.Unlock()
		return nil
	}

	tickCtx, cancel := context.WithCancel(ctx)
	sched := &schedule{
		state:      stateMonitoring,
		loanAmount: loanAmount,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	m.schedules[borrowerID] = sched
	m.mu.Unlock()

	if err := m.cache.SetObservation(ctx, domain.CreditObservation{
		BorrowerID: borrowerID,
		Score:      initialScore,
		ObservedAt: m.now().UTC(),
	}); err != nil {
		m.logger.WarnContext(ctx, "score cache write failed",
			slog.String("borrower_id", borrowerID), slog.Any("error", err))
	}

	go m.run(tickCtx, borrowerID, loanAmount, sched.done)

	m.logger.InfoContext(ctx, "monitoring started",
		slog.String("borrower_id", borrowerID),
		slog.Int64("initial_score", initialScore),
	)
	return nil
}

// StopMonitoring cancels the borrower's schedule. In-flight ticks complete;
// no further ticks fire. Unknown borrowers are a no-op.
func (m *Monitor) StopMonitoring(borrowerID string) {
	m.mu.Lock()
	sched, ok := m.schedules[borrowerID]
	if !ok || sched.state != stateMonitoring {
		m.mu.Unlock()
		return
	}
	sched.state = stateStopped
	cancel := sched.cancel
	m.mu.Unlock()

	cancel()
	<-sched.done

	m.logger.Info("monitoring stopped", slog.String("borrower_id", borrowerID))
}

// StopAll cancels every schedule, for process shutdown.
func (m *Monitor) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.schedules))
	for id, sched := range m.schedules {
		if sched.state == stateMonitoring {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.StopMonitoring(id)
	}
}

// Monitoring reports whether the borrower currently has an armed schedule.
func (m *Monitor) Monitoring(borrowerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	sched, ok := m.schedules[borrowerID]
	return ok && sched.state == stateMonitoring
}

func (m *Monitor) run(ctx context.Context, borrowerID string, loanAmount float64, done chan struct{}) {
	defer close(done)

	for {
		timer := time.NewTimer(m.config.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		m.tick(ctx, borrowerID, loanAmount)
	}
}

// tick runs one scheduled check. The previous observation is read before
// the fetch: retries can eat most of a poll interval, and the baseline must
// not expire while the fetch is still in flight.
func (m *Monitor) tick(ctx context.Context, borrowerID string, loanAmount float64) {
	prev, prevErr := m.cache.GetObservation(ctx, borrowerID)

	newScore, err := m.fetchWithRetry(ctx, borrowerID)
	if err != nil {
		m.logger.ErrorContext(ctx, "credit check failed, skipping cycle",
			slog.String("borrower_id", borrowerID),
			slog.Any("error", err),
		)
		if m.onFailed != nil {
			m.onFailed(borrowerID, fmt.Errorf("%w: %v", domain.ErrCheckFailed, err))
		}
		return
	}

	if newScore < m.config.CreditScoreThreshold {
		if err := m.hedger.EvaluateAndHedge(ctx, borrowerID, newScore, loanAmount); err != nil {
			m.logger.WarnContext(ctx, "hedge evaluation failed",
				slog.String("borrower_id", borrowerID),
				slog.Int64("score", newScore),
				slog.Any("error", err),
			)
		}
	}

	if prevErr == nil && prev.Score != newScore {
		m.fanOut(ctx, domain.CreditAlert{
			BorrowerID: borrowerID,
			OldScore:   prev.Score,
			NewScore:   newScore,
			Risk:       m.classify(newScore),
			ObservedAt: m.now().UTC(),
		})
	}

	if err := m.cache.SetObservation(ctx, domain.CreditObservation{
		BorrowerID: borrowerID,
		Score:      newScore,
		ObservedAt: m.now().UTC(),
	}); err != nil {
		m.logger.WarnContext(ctx, "score cache write failed",
			slog.String("borrower_id", borrowerID), slog.Any("error", err))
	}
}

// fetchWithRetry attempts the score fetch up to 1+MaxRetries times with
// MinCheckInterval between attempts.
func (m *Monitor) fetchWithRetry(ctx context.Context, borrowerID string) (int64, error) {
	var lastErr error
	for attempt := 0; attempt <= m.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := m.sleep(ctx, m.config.MinCheckInterval); err != nil {
				return 0, err
			}
		}
		score, err := m.scores.FetchScore(ctx, borrowerID)
		if err == nil {
			return score, nil
		}
		lastErr = err
	}
	return 0, fmt.Errorf("after %d attempts: %w", m.config.MaxRetries+1, lastErr)
}

// fanOut delivers the alert to every observer. A panicking observer must
// not break delivery to the rest.
func (m *Monitor) fanOut(ctx context.Context, alert domain.CreditAlert) {
	m.obsMu.RLock()
	observers := make([]domain.CreditObserver, len(m.observers))
	copy(observers, m.observers)
	m.obsMu.RUnlock()

	for _, obs := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("credit observer panicked",
						slog.String("borrower_id", alert.BorrowerID),
						slog.Any("panic", r),
					)
				}
			}()
			obs.OnCreditAlert(ctx, alert)
		}()
	}
}

func (m *Monitor) classify(score int64) domain.RiskLevel {
	switch {
	case score < m.config.HighRiskBelow:
		return domain.RiskHigh
	case score < m.config.MediumRiskBelow:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
