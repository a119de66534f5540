package txqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lendguard/hedgebot/internal/domain"
)

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

// startProcessor runs p until the test ends.
func startProcessor(t *testing.T, p *Processor) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = p.Run(ctx) }()
}

// instantSleep makes retries immediate while recording the requested delays.
func instantSleep(mu *sync.Mutex, delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		mu.Lock()
		*delays = append(*delays, d)
		mu.Unlock()
		return nil
	}
}

func waitForResult(t *testing.T, q *Queue, id string) Result {
	t.Helper()
	var r Result
	require.Eventually(t, func() bool {
		got, err := q.Result(id)
		if err != nil {
			return false
		}
		r = got
		return r.Status == TxStatusSucceeded || r.Status == TxStatusFailed
	}, 5*time.Second, 5*time.Millisecond)
	return r
}

func TestDrainsInPriorityOrder(t *testing.T) {
	t.Parallel()
	q := NewQueue()

	var mu sync.Mutex
	var order []string
	record := func(name string) SubmitFunc {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	// Enqueue before starting the processor so priorities decide the order.
	lowID, err := q.Enqueue(Transaction{Priority: 1, Submit: record("low")})
	require.NoError(t, err)
	highID, err := q.Enqueue(Transaction{Priority: 10, Submit: record("high")})
	require.NoError(t, err)
	midID, err := q.Enqueue(Transaction{Priority: 5, Submit: record("mid")})
	require.NoError(t, err)

	cfg := DefaultProcessorConfig()
	cfg.MaxBatchSize = 1 // serialize to observe ordering
	startProcessor(t, NewProcessor(q, cfg, testLogger()))

	waitForResult(t, q, lowID)
	waitForResult(t, q, highID)
	waitForResult(t, q, midID)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"high", "mid", "low"}, order)
}

func TestEqualPriorityIsFIFO(t *testing.T) {
	t.Parallel()
	q := NewQueue()

	var mu sync.Mutex
	var order []string
	var ids []string
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("tx-%d", i)
		id, err := q.Enqueue(Transaction{Priority: 3, Submit: func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	cfg := DefaultProcessorConfig()
	cfg.MaxBatchSize = 1
	startProcessor(t, NewProcessor(q, cfg, testLogger()))

	for _, id := range ids {
		waitForResult(t, q, id)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"tx-0", "tx-1", "tx-2", "tx-3", "tx-4"}, order)
}

func TestTransientFailureRetriesWithLinearBackoff(t *testing.T) {
	t.Parallel()
	q := NewQueue()

	attempts := 0
	var mu sync.Mutex
	id, err := q.Enqueue(Transaction{Submit: func(context.Context) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return fmt.Errorf("submit: %w", domain.ErrTransient)
	}})
	require.NoError(t, err)

	cfg := DefaultProcessorConfig()
	cfg.MaxRetries = 3
	cfg.RetryDelay = 2 * time.Second
	cfg.PollInterval = 5 * time.Millisecond

	var delayMu sync.Mutex
	var delays []time.Duration
	p := NewProcessor(q, cfg, testLogger())
	p.sleep = instantSleep(&delayMu, &delays)
	startProcessor(t, p)

	result := waitForResult(t, q, id)
	assert.Equal(t, TxStatusFailed, result.Status)
	assert.Equal(t, 3, result.RetryCount)
	assert.ErrorIs(t, result.Err, domain.ErrTransient)

	mu.Lock()
	assert.Equal(t, 4, attempts, "initial attempt plus three retries")
	mu.Unlock()

	// Delays grow linearly with the retry count.
	delayMu.Lock()
	defer delayMu.Unlock()
	require.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second}, delays)
	for i := 1; i < len(delays); i++ {
		assert.Greater(t, delays[i], delays[i-1])
	}
}

func TestRetryEventuallySucceeds(t *testing.T) {
	t.Parallel()
	q := NewQueue()

	var mu sync.Mutex
	attempts := 0
	id, err := q.Enqueue(Transaction{Submit: func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return errors.New("flaky relayer")
		}
		return nil
	}})
	require.NoError(t, err)

	cfg := DefaultProcessorConfig()
	cfg.PollInterval = 5 * time.Millisecond
	var delayMu sync.Mutex
	var delays []time.Duration
	p := NewProcessor(q, cfg, testLogger())
	p.sleep = instantSleep(&delayMu, &delays)
	startProcessor(t, p)

	result := waitForResult(t, q, id)
	assert.Equal(t, TxStatusSucceeded, result.Status)
	assert.Equal(t, 2, result.RetryCount)
}

func TestValidationErrorIsNotRetried(t *testing.T) {
	t.Parallel()
	q := NewQueue()

	var mu sync.Mutex
	attempts := 0
	id, err := q.Enqueue(Transaction{Submit: func(context.Context) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return fmt.Errorf("create position: %w", domain.ErrValidation)
	}})
	require.NoError(t, err)

	cfg := DefaultProcessorConfig()
	cfg.PollInterval = 5 * time.Millisecond
	startProcessor(t, NewProcessor(q, cfg, testLogger()))

	result := waitForResult(t, q, id)
	assert.Equal(t, TxStatusFailed, result.Status)
	assert.ErrorIs(t, result.Err, domain.ErrValidation)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, attempts)
}

func TestDestroyFailsPendingAndRejectsEnqueue(t *testing.T) {
	t.Parallel()
	q := NewQueue()

	id, err := q.Enqueue(Transaction{Submit: func(context.Context) error { return nil }})
	require.NoError(t, err)

	q.Destroy()

	result, err := q.Result(id)
	require.NoError(t, err)
	assert.Equal(t, TxStatusFailed, result.Status)
	assert.ErrorIs(t, result.Err, domain.ErrQueueDestroyed)

	_, err = q.Enqueue(Transaction{Submit: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, domain.ErrQueueDestroyed)

	assert.Zero(t, q.Len())
}

func TestResultUnknownID(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	_, err := q.Result("nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
