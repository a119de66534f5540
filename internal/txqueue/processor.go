package txqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lendguard/hedgebot/internal/domain"
)

// ProcessorConfig tunes the batch drain loop.
type ProcessorConfig struct {
	// MaxBatchSize is the most transactions drained per pass.
	MaxBatchSize int
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int
	// RetryDelay is the base delay; attempt n waits RetryDelay * n.
	RetryDelay time.Duration
	// PollInterval is how long the processor sleeps when the queue is idle.
	PollInterval time.Duration
}

// DefaultProcessorConfig returns the production drain settings.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		MaxBatchSize: 10,
		MaxRetries:   3,
		RetryDelay:   2 * time.Second,
		PollInterval: 250 * time.Millisecond,
	}
}

// Processor drains a Queue in priority order, submitting each batch
// concurrently and retrying transient failures with linearly increasing
// delays. After MaxRetries failed attempts a transaction is recorded as
// permanently failed and dropped.
type Processor struct {
	queue  *Queue
	config ProcessorConfig
	logger *slog.Logger

	// sleep is swapped in tests to avoid real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewProcessor creates a processor over the given queue.
func NewProcessor(queue *Queue, config ProcessorConfig, logger *slog.Logger) *Processor {
	return &Processor{
		queue:  queue,
		config: config,
		logger: logger.With(slog.String("component", "txqueue")),
		sleep:  sleepCtx,
	}
}

// Run drains the queue until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		batch := p.queue.popBatch(p.config.MaxBatchSize)
		if len(batch) == 0 {
			timer := time.NewTimer(p.config.PollInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-p.queue.notify:
				timer.Stop()
			case <-timer.C:
			}
			continue
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, tx := range batch {
			g.Go(func() error {
				p.process(gctx, tx)
				return nil
			})
		}
		_ = g.Wait()

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// process runs one attempt and either finishes the transaction or schedules
// a retry. Retries re-enter the queue after the backoff delay so higher
// priority work is never blocked behind a sleeping transaction.
func (p *Processor) process(ctx context.Context, tx *Transaction) {
	err := tx.Submit(ctx)
	if err == nil {
		p.queue.finish(tx.ID, tx.retryCount, nil)
		return
	}

	if !retryable(err) {
		p.queue.finish(tx.ID, tx.retryCount, err)
		p.logger.WarnContext(ctx, "transaction rejected",
			slog.String("tx_id", tx.ID),
			slog.Any("error", err),
		)
		return
	}

	if tx.retryCount >= p.config.MaxRetries {
		p.queue.finish(tx.ID, tx.retryCount, fmt.Errorf("retries exhausted after %d attempts: %w", tx.retryCount+1, err))
		p.logger.ErrorContext(ctx, "transaction permanently failed",
			slog.String("tx_id", tx.ID),
			slog.Int("attempts", tx.retryCount+1),
			slog.Any("error", err),
		)
		return
	}

	tx.retryCount++
	delay := p.config.RetryDelay * time.Duration(tx.retryCount)
	p.logger.InfoContext(ctx, "transaction retry scheduled",
		slog.String("tx_id", tx.ID),
		slog.Int("retry", tx.retryCount),
		slog.Duration("delay", delay),
	)

	go func() {
		if err := p.sleep(ctx, delay); err != nil {
			p.queue.finish(tx.ID, tx.retryCount, err)
			return
		}
		p.queue.requeue(tx)
	}()
}

// retryable reports whether the error is worth another attempt. Validation
// rejections are final; transient transport failures are not.
func retryable(err error) bool {
	if errors.Is(err, domain.ErrValidation) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
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
