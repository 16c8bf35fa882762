package store

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RetryQueue re-attempts event appends that failed at first write. A
// failed write is reported to the caller as pending, never silently
// dropped; the queue retries with exponential backoff until the record
// lands or attempts are exhausted.
type RetryQueue struct {
	store       *Store
	ch          chan EventRecord
	base        time.Duration
	maxAttempts int
	wg          sync.WaitGroup
	log         zerolog.Logger
}

// NewRetryQueue sizes the queue and configures the backoff schedule.
func NewRetryQueue(s *Store, size int, base time.Duration, maxAttempts int, log zerolog.Logger) *RetryQueue {
	if size <= 0 {
		size = 256
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &RetryQueue{
		store:       s,
		ch:          make(chan EventRecord, size),
		base:        base,
		maxAttempts: maxAttempts,
		log:         log.With().Str("component", "store-retry").Logger(),
	}
}

// Start launches the retry worker; it drains until ctx is cancelled.
func (q *RetryQueue) Start(ctx context.Context) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case rec := <-q.ch:
				q.retry(ctx, rec)
			}
		}
	}()
}

// Enqueue adds a failed record for retry. Returns false when the queue is
// full, which the caller must surface as a hard storage failure.
func (q *RetryQueue) Enqueue(rec EventRecord) bool {
	select {
	case q.ch <- rec:
		return true
	default:
		q.log.Error().Str("trace_id", rec.TraceID).Str("type", rec.Type).Msg("retry queue full, record lost to retry")
		return false
	}
}

// Pending reports the number of records waiting for retry.
func (q *RetryQueue) Pending() int {
	return len(q.ch)
}

// Wait blocks until the worker has exited after context cancellation.
func (q *RetryQueue) Wait() {
	q.wg.Wait()
}

func (q *RetryQueue) retry(ctx context.Context, rec EventRecord) {
	delay := q.base
	for attempt := 1; attempt <= q.maxAttempts; attempt++ {
		if _, _, err := q.store.AppendEvent(ctx, rec); err == nil {
			q.log.Info().
				Str("trace_id", rec.TraceID).
				Str("type", rec.Type).
				Int("attempt", attempt).
				Msg("queued write persisted")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
	}
	q.log.Error().
		Str("trace_id", rec.TraceID).
		Str("type", rec.Type).
		Int("attempts", q.maxAttempts).
		Msg("record not persisted after retries")
}
