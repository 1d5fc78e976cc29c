package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/coachflow/coachsync/internal/calsync/application"
	calsyncDomain "github.com/coachflow/coachsync/internal/calsync/domain"
	sessionDomain "github.com/coachflow/coachsync/internal/session/domain"
	"github.com/coachflow/coachsync/internal/shared/infrastructure/eventbus"
)

// SessionSyncBackoff is the retry schedule for session sync jobs.
var SessionSyncBackoff = []time.Duration{60 * time.Second, 300 * time.Second, 900 * time.Second}

// SessionSyncHandler executes session sync jobs: it re-checks
// eligibility, runs the orchestrator, and classifies the aggregate
// outcome (total failure retries, partial failure does not).
type SessionSyncHandler struct {
	sessions     sessionDomain.SessionRepository
	orchestrator *application.Orchestrator
	links        calsyncDomain.EventLinkRepository
	publisher    eventbus.DomainPublisher
	logger       *slog.Logger
}

// NewSessionSyncHandler creates a session sync job handler.
func NewSessionSyncHandler(
	sessions sessionDomain.SessionRepository,
	orchestrator *application.Orchestrator,
	links calsyncDomain.EventLinkRepository,
	publisher eventbus.DomainPublisher,
	logger *slog.Logger,
) *SessionSyncHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionSyncHandler{
		sessions:     sessions,
		orchestrator: orchestrator,
		links:        links,
		publisher:    publisher,
		logger:       logger,
	}
}

// Spec returns the handler's job spec with its retry policy.
func (h *SessionSyncHandler) Spec(maxAttempts int) JobSpec {
	return JobSpec{
		Handle:      h.Handle,
		MaxAttempts: maxAttempts,
		Backoff:     SessionSyncBackoff,
		OnExhausted: h.OnExhausted,
	}
}

// Handle runs one sync attempt. A session that vanished or opted out
// between enqueue and execution aborts cleanly, not as a failure.
func (h *SessionSyncHandler) Handle(ctx context.Context, env *Envelope) error {
	var job SessionSyncJob
	if err := json.Unmarshal(env.Payload, &job); err != nil {
		h.logger.Error("discarding malformed session sync job",
			"job_id", env.JobID,
			"error", err,
		)
		return nil
	}
	action := application.SyncAction(job.Action)
	if !action.IsValid() {
		h.logger.Error("discarding session sync job with unknown action",
			"job_id", env.JobID,
			"action", job.Action,
		)
		return nil
	}

	session, err := h.sessions.FindByID(ctx, job.SessionID)
	if err != nil {
		return fmt.Errorf("load session %s: %w", job.SessionID, err)
	}
	if session == nil {
		h.logger.Info("session gone, skipping sync",
			"session_id", job.SessionID,
			"action", action,
		)
		return nil
	}

	if !h.eligible(session, action) {
		h.logger.Info("session no longer sync-eligible, skipping",
			"session_id", session.ID,
			"action", action,
		)
		return nil
	}

	results, err := h.orchestrator.SyncSession(ctx, session, action)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return nil
	}
	if application.AllFailed(results) {
		return fmt.Errorf("%w: session %s action %s", calsyncDomain.ErrAllSyncsFailed, session.ID, action)
	}

	synced := application.SucceededCount(results)
	event := calsyncDomain.NewSessionSyncedEvent(session.ID, string(action), synced, len(results)-synced)
	if err := h.publisher.PublishDomainEvent(ctx, event); err != nil {
		h.logger.Warn("failed to publish sync outcome event",
			"session_id", session.ID,
			"error", err,
		)
	}
	return nil
}

// eligible re-checks the session's sync eligibility at execution time.
// Deletes are always eligible: a previously synced event must stay
// retractable even after the session opts out.
func (h *SessionSyncHandler) eligible(session *sessionDomain.Session, action application.SyncAction) bool {
	if action == application.ActionDelete {
		return true
	}
	return session.SyncToCalendar && !session.IsDeleted()
}

// OnExhausted marks every link of the session failed and emits the
// terminal failure event.
func (h *SessionSyncHandler) OnExhausted(ctx context.Context, env *Envelope, cause error) {
	var job SessionSyncJob
	if err := json.Unmarshal(env.Payload, &job); err != nil {
		return
	}

	if err := h.links.MarkAllFailedForSession(ctx, job.SessionID, cause.Error()); err != nil {
		h.logger.Error("failed to mark session links failed",
			"session_id", job.SessionID,
			"error", err,
		)
	}

	event := calsyncDomain.NewSyncFailedEvent(job.SessionID, job.Action, env.Attempt, cause.Error())
	if err := h.publisher.PublishDomainEvent(ctx, event); err != nil {
		h.logger.Warn("failed to publish sync failure event",
			"session_id", job.SessionID,
			"error", err,
		)
	}

	h.logger.Error("calendar sync permanently failed, manual intervention needed",
		"session_id", job.SessionID,
		"action", job.Action,
		"attempts", env.Attempt,
		"error", cause,
	)
}
