// Package txqueue orders and retries ledger writes. Every ledger mutation
// the hedging engine performs is enqueued here and drained in priority
// order by a batch processor, so bursts of credit alerts cannot overrun the
// relayer.
package txqueue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lendguard/hedgebot/internal/domain"
)

// TxStatus tracks a transaction through the queue.
type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusInFlight  TxStatus = "in_flight"
	TxStatusSucceeded TxStatus = "succeeded"
	TxStatusFailed    TxStatus = "failed"
)

// SubmitFunc performs the actual ledger write for a queued transaction.
type SubmitFunc func(ctx context.Context) error

// Transaction is one queued ledger write. Higher Priority drains first;
// equal priorities drain in enqueue order.
type Transaction struct {
	ID       string
	Priority int
	Submit   SubmitFunc

	enqueuedAt time.Time
	seq        uint64
	retryCount int
}

// Result is the terminal or current state of a queued transaction.
type Result struct {
	ID         string
	Status     TxStatus
	RetryCount int
	Err        error
	FinishedAt time.Time
}

// txHeap orders by priority descending, then enqueue sequence ascending.
type txHeap []*Transaction

func (h txHeap) Len() int { return len(h) }

func (h txHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h txHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *txHeap) Push(x any) { *h = append(*h, x.(*Transaction)) }

func (h *txHeap) Pop() any {
	old := *h
	n := len(old)
	tx := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return tx
}

// Queue is a destroyable priority queue of ledger transactions.
type Queue struct {
	mu        sync.Mutex
	heap      txHeap
	results   map[string]*Result
	nextSeq   uint64
	destroyed bool
	notify    chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		results: make(map[string]*Result),
		notify:  make(chan struct{}, 1),
	}
}

// Enqueue adds a transaction and returns its ID. A zero ID is assigned.
func (q *Queue) Enqueue(tx Transaction) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.destroyed {
		return "", domain.ErrQueueDestroyed
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	tx.enqueuedAt = time.Now()
	tx.seq = q.nextSeq
	q.nextSeq++

	heap.Push(&q.heap, &tx)
	q.results[tx.ID] = &Result{ID: tx.ID, Status: TxStatusPending}

	select {
	case q.notify <- struct{}{}:
	default:
	}

	return tx.ID, nil
}

// Result returns the current state of a transaction, or ErrNotFound.
func (q *Queue) Result(id string) (Result, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	r, ok := q.results[id]
	if !ok {
		return Result{}, domain.ErrNotFound
	}
	return *r, nil
}

// Len returns the number of queued (not in-flight) transactions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// Destroy empties the queue and rejects all further enqueues. Pending
// transactions are marked failed with ErrQueueDestroyed.
func (q *Queue) Destroy() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.destroyed {
		return
	}
	q.destroyed = true

	now := time.Now()
	for _, tx := range q.heap {
		if r, ok := q.results[tx.ID]; ok && r.Status == TxStatusPending {
			r.Status = TxStatusFailed
			r.Err = domain.ErrQueueDestroyed
			r.FinishedAt = now
		}
	}
	q.heap = nil
}

// popBatch removes up to max due transactions in priority order.
func (q *Queue) popBatch(max int) []*Transaction {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.destroyed {
		return nil
	}

	batch := make([]*Transaction, 0, max)
	for len(batch) < max && q.heap.Len() > 0 {
		tx := heap.Pop(&q.heap).(*Transaction)
		if r, ok := q.results[tx.ID]; ok {
			r.Status = TxStatusInFlight
		}
		batch = append(batch, tx)
	}
	return batch
}

// requeue puts a transaction back after a failed attempt.
func (q *Queue) requeue(tx *Transaction) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.destroyed {
		if r, ok := q.results[tx.ID]; ok {
			r.Status = TxStatusFailed
			r.Err = domain.ErrQueueDestroyed
			r.FinishedAt = time.Now()
		}
		return false
	}

	tx.seq = q.nextSeq
	q.nextSeq++
	heap.Push(&q.heap, tx)
	if r, ok := q.results[tx.ID]; ok {
		r.Status = TxStatusPending
		r.RetryCount = tx.retryCount
	}

	select {
	case q.notify <- struct{}{}:
	default:
	}

	return true
}

func (q *Queue) finish(id string, retries int, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	r, ok := q.results[id]
	if !ok {
		return
	}
	r.RetryCount = retries
	r.FinishedAt = time.Now()
	if err != nil {
		r.Status = TxStatusFailed
		r.Err = err
	} else {
		r.Status = TxStatusSucceeded
	}
}
