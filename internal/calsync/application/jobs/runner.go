package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coachflow/coachsync/pkg/observability"
)

// HandlerFunc executes one job attempt. A nil return means the job is
// done (including clean aborts); an error means the attempt failed and
// the runner decides whether to retry.
type HandlerFunc func(ctx context.Context, env *Envelope) error

// ExhaustedFunc runs once when a job has used its final attempt.
type ExhaustedFunc func(ctx context.Context, env *Envelope, err error)

// JobSpec binds a handler to its retry policy.
type JobSpec struct {
	Handle      HandlerFunc
	MaxAttempts int
	// Backoff holds the delay before each retry: Backoff[0] after the
	// first failed attempt, and so on. Must have MaxAttempts-1 entries.
	Backoff     []time.Duration
	OnExhausted ExhaustedFunc
}

// Runner dispatches queued envelopes to registered handlers and
// re-enqueues failed attempts with the job's backoff schedule.
type Runner struct {
	queue  Queue
	specs  map[string]JobSpec
	logger *slog.Logger
}

// NewRunner creates a job runner that re-enqueues retries on the queue.
func NewRunner(queue Queue, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		queue:  queue,
		specs:  make(map[string]JobSpec),
		logger: logger,
	}
}

// Register binds a job name to its spec, replacing any existing binding.
func (r *Runner) Register(name string, spec JobSpec) {
	r.specs[name] = spec
}

// Handle executes one delivered envelope. Failed attempts are retried by
// re-enqueueing; the returned error is reserved for infrastructure
// problems (unknown job, retry enqueue failure) that warrant redelivery.
func (r *Runner) Handle(ctx context.Context, env *Envelope) error {
	spec, ok := r.specs[env.Name]
	if !ok {
		return fmt.Errorf("no handler registered for job %q", env.Name)
	}

	ctx = observability.WithTenantID(ctx, env.TenantID)
	ctx = observability.WithCorrelationID(ctx, env.JobID.String())

	start := time.Now()
	err := spec.Handle(ctx, env)
	if err == nil {
		r.logger.Debug("job completed",
			"job", env.Name,
			"job_id", env.JobID,
			"attempt", env.Attempt,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil
	}

	if env.Attempt >= spec.MaxAttempts {
		r.logger.Error("job exhausted all attempts",
			"job", env.Name,
			"job_id", env.JobID,
			"attempts", env.Attempt,
			"error", err,
		)
		if spec.OnExhausted != nil {
			spec.OnExhausted(ctx, env, err)
		}
		return nil
	}

	delay := spec.retryDelay(env.Attempt)
	retry := *env
	retry.Attempt++
	if qErr := r.queue.Enqueue(ctx, &retry, delay); qErr != nil {
		return fmt.Errorf("enqueue retry for job %q: %w", env.Name, qErr)
	}

	r.logger.Warn("job attempt failed, retry scheduled",
		"job", env.Name,
		"job_id", env.JobID,
		"attempt", env.Attempt,
		"retry_in", delay,
		"error", err,
	)
	return nil
}

// retryDelay returns the backoff before the retry following the given
// failed attempt. The last entry repeats if the schedule is short.
func (s JobSpec) retryDelay(failedAttempt int) time.Duration {
	if len(s.Backoff) == 0 {
		return 0
	}
	idx := failedAttempt - 1
	if idx >= len(s.Backoff) {
		idx = len(s.Backoff) - 1
	}
	return s.Backoff[idx]
}
