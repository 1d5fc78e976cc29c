package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coachflow/coachsync/internal/calsync/application/jobs"
)

// InMemoryJobQueue runs jobs on timers inside the current process. Local
// mode only; nothing survives a restart.
type InMemoryJobQueue struct {
	mu      sync.Mutex
	handler HandleFunc
	pending []pendingJob
	timers  map[*time.Timer]struct{}
	closed  bool
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// pendingJob buffers an envelope enqueued before Start, keeping its
// delay so scheduling can honor whatever remains of it.
type pendingJob struct {
	env        *jobs.Envelope
	delay      time.Duration
	enqueuedAt time.Time
}

// NewInMemoryJobQueue creates an in-process job queue.
func NewInMemoryJobQueue(logger *slog.Logger) *InMemoryJobQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryJobQueue{
		timers: make(map[*time.Timer]struct{}),
		logger: logger,
	}
}

// Enqueue schedules an envelope on a timer. Envelopes enqueued before
// Start are buffered and scheduled once a handler is attached.
func (q *InMemoryJobQueue) Enqueue(_ context.Context, env *jobs.Envelope, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	if q.handler == nil {
		q.pending = append(q.pending, pendingJob{env: env, delay: delay, enqueuedAt: time.Now()})
		return nil
	}
	q.schedule(env, delay)
	return nil
}

// schedule must be called with the mutex held.
func (q *InMemoryJobQueue) schedule(env *jobs.Envelope, delay time.Duration) {
	q.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		defer q.wg.Done()
		q.mu.Lock()
		delete(q.timers, timer)
		handler := q.handler
		closed := q.closed
		q.mu.Unlock()
		if closed || handler == nil {
			return
		}
		if err := handler(context.Background(), env); err != nil {
			q.logger.Error("in-memory job failed",
				"job", env.Name,
				"job_id", env.JobID,
				"error", err,
			)
		}
	})
	q.timers[timer] = struct{}{}
}

// Start attaches the handler, schedules buffered envelopes, and blocks
// until the context is cancelled.
func (q *InMemoryJobQueue) Start(ctx context.Context, handle HandleFunc) error {
	q.mu.Lock()
	q.handler = handle
	for _, p := range q.pending {
		remaining := p.delay - time.Since(p.enqueuedAt)
		if remaining < 0 {
			remaining = 0
		}
		q.schedule(p.env, remaining)
	}
	q.pending = nil
	q.mu.Unlock()

	q.logger.Info("in-memory job queue started")
	<-ctx.Done()
	return ctx.Err()
}

// Close stops pending timers and waits for in-flight jobs.
func (q *InMemoryJobQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	for timer := range q.timers {
		if timer.Stop() {
			q.wg.Done()
		}
		delete(q.timers, timer)
	}
	q.mu.Unlock()
	q.wg.Wait()
	return nil
}
