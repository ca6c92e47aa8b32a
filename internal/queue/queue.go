// Package queue implements the Visit Queue (spec.md §4.3): a single-consumer
// FIFO that batches incoming visits (batch_size, batch_timeout) and hands
// each one, in order, to a Handler — serialising tree analysis so sibling
// pages never race on TreeIntentions. Grounded on the teacher pack's queue
// worker (codeready-toolchain-tarsy's pkg/queue/worker.go: a stoppable run
// loop with a stop channel and sync.WaitGroup) and on the teacher's own use
// of golang.org/x/sync/errgroup (internal/agent/app/subagent.go) to
// supervise the consumer loop and the orphan retry ticker as one cancellable
// group.
package queue

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pkm-assistant/internal/config"
	"pkm-assistant/internal/domain"
	"pkm-assistant/internal/logging"
)

// Handler processes one visit to completion. Returning an error marks the
// visit as failed for this attempt; the queue logs it and moves on — the
// visit remains "unanalysed" in the relational store rather than being
// retried automatically.
type Handler interface {
	Handle(ctx context.Context, visit domain.Visit) error
}

// OrphanRetrier is the subset of the Orphan Manager the queue drives on its
// retry ticker.
type OrphanRetrier interface {
	Retryable(now time.Time) []domain.Orphan
}

// OrphanResolver re-attempts enqueuing a retried orphan once its referrer
// might be resolvable; it is the bridge back into intake's resolution logic.
type OrphanResolver interface {
	Resolve(ctx context.Context, orphan domain.Orphan) (domain.Visit, bool)
}

// MetricsSink is the narrow metrics contract the queue reports depth
// through; satisfied structurally by *observability.Metrics without the
// queue package depending on it directly.
type MetricsSink interface {
	SetQueueDepth(n int)
}

// Queue is the single-consumer FIFO described by spec.md §4.3.
type Queue struct {
	cfg     config.QueueConfig
	handler Handler
	orphans OrphanRetrier
	resolve OrphanResolver
	logger  logging.Logger

	mu       sync.Mutex
	items    []domain.Visit
	notifyCh chan struct{}

	position uint64

	// retryInterval is the orphan retry ticker period (spec.md §4.3: 5s by
	// default via New). Exposed so tests can shrink it.
	retryInterval time.Duration

	metrics MetricsSink
}

// SetMetrics attaches a metrics sink the queue reports its depth to after
// every enqueue and drain.
func (q *Queue) SetMetrics(m MetricsSink) {
	q.metrics = m
}

func (q *Queue) reportDepth() {
	if q.metrics == nil {
		return
	}
	q.metrics.SetQueueDepth(q.Len())
}

// New constructs a Queue. orphans/resolve may be nil to disable the retry
// ticker (used in tests that only exercise batching).
func New(cfg config.QueueConfig, handler Handler, orphans OrphanRetrier, resolve OrphanResolver, logger logging.Logger) *Queue {
	return &Queue{
		cfg:           cfg,
		handler:       handler,
		orphans:       orphans,
		resolve:       resolve,
		logger:        logging.OrNop(logger),
		notifyCh:      make(chan struct{}, 1),
		retryInterval: 5 * time.Second,
	}
}

// Enqueue appends visit to the tail of the queue and returns its 1-based
// position at the moment of insertion.
func (q *Queue) Enqueue(visit domain.Visit) uint64 {
	q.mu.Lock()
	q.items = append(q.items, visit)
	pos := uint64(len(q.items))
	q.mu.Unlock()

	select {
	case q.notifyCh <- struct{}{}:
	default:
	}
	q.reportDepth()
	return pos
}

// drainBatch removes and returns up to batch_size items, waiting up to
// batch_timeout for the first item to appear if the queue is empty.
func (q *Queue) drainBatch(ctx context.Context) []domain.Visit {
	batch := q.takeUpTo(q.cfg.BatchSize)
	if len(batch) > 0 {
		return batch
	}

	timer := time.NewTimer(q.cfg.BatchTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil
	case <-q.notifyCh:
		return q.takeUpTo(q.cfg.BatchSize)
	case <-timer.C:
		return q.takeUpTo(q.cfg.BatchSize)
	}
}

func (q *Queue) takeUpTo(n int) []domain.Visit {
	batch := func() []domain.Visit {
		q.mu.Lock()
		defer q.mu.Unlock()

		if len(q.items) == 0 {
			return nil
		}
		if n > len(q.items) {
			n = len(q.items)
		}
		batch := make([]domain.Visit, n)
		copy(batch, q.items[:n])
		q.items = q.items[n:]
		return batch
	}()

	if len(batch) > 0 {
		q.reportDepth()
	}
	return batch
}

// Run drives the consumer loop and the orphan retry ticker under one
// errgroup, returning when ctx is cancelled. Per spec.md §4.3, cancellation
// drains in-flight items (the current batch finishes) and stops accepting
// new batches.
func (q *Queue) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return q.consume(ctx)
	})

	if q.orphans != nil && q.resolve != nil {
		g.Go(func() error {
			return q.retryOrphans(ctx)
		})
	}

	return g.Wait()
}

func (q *Queue) consume(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		batch := q.drainBatch(ctx)
		if batch == nil {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		for _, visit := range batch {
			if err := q.handler.Handle(ctx, visit); err != nil {
				q.logger.Error("visit %s failed analysis: %v", visit.ID, err)
			}
		}
	}
}

func (q *Queue) retryOrphans(ctx context.Context) error {
	ticker := time.NewTicker(q.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			for _, o := range q.orphans.Retryable(now) {
				if visit, ok := q.resolve.Resolve(ctx, o); ok {
					q.Enqueue(visit)
				}
			}
		}
	}
}

// Len reports the number of visits currently waiting (not yet handed to a
// handler), used for diagnostics and the status endpoint.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
