// Package subscribers contains the change-trigger layer: event bus
// consumers that translate session lifecycle events into queued sync
// work.
package subscribers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/coachflow/coachsync/internal/calsync/application"
	"github.com/coachflow/coachsync/internal/calsync/application/jobs"
	calsyncDomain "github.com/coachflow/coachsync/internal/calsync/domain"
	integrationDomain "github.com/coachflow/coachsync/internal/integration/domain"
	sessionDomain "github.com/coachflow/coachsync/internal/session/domain"
	"github.com/coachflow/coachsync/internal/shared/infrastructure/eventbus"
)

// Debouncer suppresses duplicate triggers for the same work within a
// short window. Allow reports whether this occurrence should proceed.
type Debouncer interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// sessionEventPayload is the subset of the session service's event
// payload this engine reads. Unknown fields are ignored.
type sessionEventPayload struct {
	SessionID      uuid.UUID `json:"session_id"`
	CoachID        uuid.UUID `json:"coach_id"`
	ClientID       uuid.UUID `json:"client_id"`
	SyncToCalendar bool      `json:"sync_to_calendar"`
	ChangedFields  []string  `json:"changed_fields,omitempty"`
}

// SessionSyncSubscriber observes session lifecycle events and schedules
// sync jobs with a short delay, giving the originating transaction time
// to commit before the worker reads the session row.
type SessionSyncSubscriber struct {
	integrations integrationDomain.IntegrationRepository
	links        calsyncDomain.EventLinkRepository
	queue        jobs.Queue
	debouncer    Debouncer
	createDelay  time.Duration
	updateDelay  time.Duration
	logger       *slog.Logger
}

// NewSessionSyncSubscriber creates the session event subscriber.
func NewSessionSyncSubscriber(
	integrations integrationDomain.IntegrationRepository,
	links calsyncDomain.EventLinkRepository,
	queue jobs.Queue,
	debouncer Debouncer,
	createDelay, updateDelay time.Duration,
	logger *slog.Logger,
) *SessionSyncSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionSyncSubscriber{
		integrations: integrations,
		links:        links,
		queue:        queue,
		debouncer:    debouncer,
		createDelay:  createDelay,
		updateDelay:  updateDelay,
		logger:       logger,
	}
}

// EventTypes returns the routing keys this subscriber handles.
func (s *SessionSyncSubscriber) EventTypes() []string {
	return []string{
		sessionDomain.RoutingKeySessionCreated,
		sessionDomain.RoutingKeySessionUpdated,
		sessionDomain.RoutingKeySessionDeleted,
		sessionDomain.RoutingKeySessionForceDeleted,
		sessionDomain.RoutingKeySessionRestored,
	}
}

// Handle evaluates one session lifecycle event and enqueues sync work
// when warranted. Ineligible events are consumed silently.
func (s *SessionSyncSubscriber) Handle(ctx context.Context, event *eventbus.ConsumedEvent) error {
	var payload sessionEventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		s.logger.Error("discarding unparseable session event",
			"routing_key", event.RoutingKey,
			"event_id", event.EventID,
			"error", err,
		)
		return nil
	}
	if payload.SessionID == uuid.Nil {
		payload.SessionID = event.AggregateID
	}

	switch event.RoutingKey {
	case sessionDomain.RoutingKeySessionCreated, sessionDomain.RoutingKeySessionRestored:
		return s.onCreate(ctx, event, payload)
	case sessionDomain.RoutingKeySessionUpdated:
		return s.onUpdate(ctx, event, payload)
	case sessionDomain.RoutingKeySessionDeleted, sessionDomain.RoutingKeySessionForceDeleted:
		return s.onDelete(ctx, event, payload)
	default:
		return nil
	}
}

// onCreate schedules a create sync when the session opts in and at
// least one participant has an integration. A restored session is
// treated the same as a new one.
func (s *SessionSyncSubscriber) onCreate(ctx context.Context, event *eventbus.ConsumedEvent, payload sessionEventPayload) error {
	if !payload.SyncToCalendar {
		return nil
	}
	connected, err := s.anyParticipantConnected(ctx, payload)
	if err != nil {
		return err
	}
	if !connected {
		s.logger.Debug("no participant has a calendar integration, skipping",
			"session_id", payload.SessionID,
		)
		return nil
	}
	return s.enqueue(ctx, event, payload.SessionID, application.ActionCreate, s.createDelay)
}

// onUpdate additionally requires that a sync-relevant field changed;
// edits to notes or other incidental fields never reach the providers.
func (s *SessionSyncSubscriber) onUpdate(ctx context.Context, event *eventbus.ConsumedEvent, payload sessionEventPayload) error {
	if !sessionDomain.HasSyncRelevantChange(payload.ChangedFields) {
		return nil
	}
	if !payload.SyncToCalendar {
		// The session may have just opted out; retract the event if one
		// was ever synced.
		return s.onDelete(ctx, event, payload)
	}
	connected, err := s.anyParticipantConnected(ctx, payload)
	if err != nil {
		return err
	}
	if !connected {
		return nil
	}
	return s.enqueue(ctx, event, payload.SessionID, application.ActionUpdate, s.updateDelay)
}

// onDelete schedules a delete sync whenever link records exist,
// regardless of the opt-in flag: a previously synced event must always
// be retractable.
func (s *SessionSyncSubscriber) onDelete(ctx context.Context, event *eventbus.ConsumedEvent, payload sessionEventPayload) error {
	exists, err := s.links.ExistsForSession(ctx, payload.SessionID)
	if err != nil {
		return fmt.Errorf("check event links for session %s: %w", payload.SessionID, err)
	}
	if !exists {
		return nil
	}
	return s.enqueue(ctx, event, payload.SessionID, application.ActionDelete, 0)
}

func (s *SessionSyncSubscriber) anyParticipantConnected(ctx context.Context, payload sessionEventPayload) (bool, error) {
	users := make([]uuid.UUID, 0, 2)
	if payload.CoachID != uuid.Nil {
		users = append(users, payload.CoachID)
	}
	if payload.ClientID != uuid.Nil {
		users = append(users, payload.ClientID)
	}
	if len(users) == 0 {
		return false, nil
	}
	connected, err := s.integrations.ExistsForAnyUser(ctx, users)
	if err != nil {
		return false, fmt.Errorf("check integrations: %w", err)
	}
	return connected, nil
}

// enqueue schedules a sync job, debounced per (tenant, session, action).
// The tenant is bound into the envelope at enqueue time.
func (s *SessionSyncSubscriber) enqueue(
	ctx context.Context,
	event *eventbus.ConsumedEvent,
	sessionID uuid.UUID,
	action application.SyncAction,
	delay time.Duration,
) error {
	tenantID := event.Metadata.TenantID
	key := fmt.Sprintf("calsync:debounce:%s:%s:%s", tenantID, sessionID, action)
	allowed, err := s.debouncer.Allow(ctx, key)
	if err != nil {
		s.logger.Warn("debounce check failed, proceeding without it",
			"session_id", sessionID,
			"error", err,
		)
	} else if !allowed {
		s.logger.Debug("duplicate sync trigger suppressed",
			"session_id", sessionID,
			"action", action,
		)
		return nil
	}

	env, err := jobs.NewEnvelope(jobs.JobSessionSync, tenantID, jobs.SessionSyncJob{
		SessionID: sessionID,
		Action:    string(action),
	})
	if err != nil {
		return fmt.Errorf("build sync job: %w", err)
	}
	if err := s.queue.Enqueue(ctx, env, delay); err != nil {
		return fmt.Errorf("enqueue sync job: %w", err)
	}

	s.logger.Info("sync job scheduled",
		"session_id", sessionID,
		"action", action,
		"delay", delay,
		"job_id", env.JobID,
	)
	return nil
}
