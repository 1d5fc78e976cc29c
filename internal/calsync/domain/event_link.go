package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	integrationDomain "github.com/coachflow/coachsync/internal/integration/domain"
	sharedDomain "github.com/coachflow/coachsync/internal/shared/domain"
)

// SyncStatus records the outcome of the most recent sync attempt for a link.
type SyncStatus string

const (
	// StatusCreated means the remote event exists and was created.
	StatusCreated SyncStatus = "created"
	// StatusUpdated means the remote event exists and was last updated.
	StatusUpdated SyncStatus = "updated"
	// StatusDeleted means the remote event was removed.
	StatusDeleted SyncStatus = "deleted"
	// StatusFailed means the last sync attempt exhausted its retries.
	StatusFailed SyncStatus = "failed"
)

// IsValid returns true if the status is recognized.
func (s SyncStatus) IsValid() bool {
	switch s {
	case StatusCreated, StatusUpdated, StatusDeleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Live reports whether the link points at a remote event believed to exist.
func (s SyncStatus) Live() bool {
	return s == StatusCreated || s == StatusUpdated
}

var (
	ErrEmptySessionID = errors.New("session ID cannot be empty")
	ErrEmptyEventID   = errors.New("remote event ID cannot be empty")
	ErrInvalidStatus  = errors.New("invalid sync status")
)

// EventLink maps one coaching session to one remote calendar event for
// one (user, provider) pair. At most one link exists per
// (session, user, provider); repositories upsert on that key.
type EventLink struct {
	sharedDomain.BaseEntity
	sessionID  uuid.UUID
	userID     uuid.UUID
	provider   integrationDomain.ProviderType
	eventID    string
	meetingURL string
	status     SyncStatus
	syncError  string
	syncedAt   time.Time
}

// NewEventLink records a freshly created remote event.
func NewEventLink(
	sessionID, userID uuid.UUID,
	provider integrationDomain.ProviderType,
	eventID, meetingURL string,
) (*EventLink, error) {
	if sessionID == uuid.Nil {
		return nil, ErrEmptySessionID
	}
	if userID == uuid.Nil {
		return nil, integrationDomain.ErrEmptyUserID
	}
	if !provider.IsValid() {
		return nil, integrationDomain.ErrInvalidProvider
	}
	if eventID == "" {
		return nil, ErrEmptyEventID
	}

	return &EventLink{
		BaseEntity: sharedDomain.NewBaseEntity(),
		sessionID:  sessionID,
		userID:     userID,
		provider:   provider,
		eventID:    eventID,
		meetingURL: meetingURL,
		status:     StatusCreated,
		syncedAt:   time.Now(),
	}, nil
}

// Getters
func (l *EventLink) SessionID() uuid.UUID                     { return l.sessionID }
func (l *EventLink) UserID() uuid.UUID                        { return l.userID }
func (l *EventLink) Provider() integrationDomain.ProviderType { return l.provider }
func (l *EventLink) EventID() string                          { return l.eventID }
func (l *EventLink) MeetingURL() string                       { return l.meetingURL }
func (l *EventLink) Status() SyncStatus                       { return l.status }
func (l *EventLink) SyncError() string                        { return l.syncError }
func (l *EventLink) SyncedAt() time.Time                      { return l.syncedAt }

// MarkUpdated records a successful update of the remote event.
func (l *EventLink) MarkUpdated(meetingURL string) {
	if meetingURL != "" {
		l.meetingURL = meetingURL
	}
	l.status = StatusUpdated
	l.syncError = ""
	l.syncedAt = time.Now()
	l.Touch()
}

// MarkDeleted records that the remote event is gone.
func (l *EventLink) MarkDeleted() {
	l.status = StatusDeleted
	l.syncError = ""
	l.syncedAt = time.Now()
	l.Touch()
}

// MarkFailed records a terminally failed sync attempt with its cause.
func (l *EventLink) MarkFailed(cause string) {
	l.status = StatusFailed
	l.syncError = cause
	l.Touch()
}

// Recreate points the link at a newly created remote event. Used when a
// restored session gets its calendar event re-provisioned.
func (l *EventLink) Recreate(eventID, meetingURL string) error {
	if eventID == "" {
		return ErrEmptyEventID
	}
	l.eventID = eventID
	l.meetingURL = meetingURL
	l.status = StatusCreated
	l.syncError = ""
	l.syncedAt = time.Now()
	l.Touch()
	return nil
}

// RehydrateEventLink recreates an event link from persisted data.
func RehydrateEventLink(
	id uuid.UUID,
	sessionID, userID uuid.UUID,
	provider integrationDomain.ProviderType,
	eventID, meetingURL string,
	status SyncStatus,
	syncError string,
	syncedAt time.Time,
	createdAt, updatedAt time.Time,
) *EventLink {
	return &EventLink{
		BaseEntity: sharedDomain.RehydrateBaseEntity(id, createdAt, updatedAt),
		sessionID:  sessionID,
		userID:     userID,
		provider:   provider,
		eventID:    eventID,
		meetingURL: meetingURL,
		status:     status,
		syncError:  syncError,
		syncedAt:   syncedAt,
	}
}

// EventLinkRepository defines the interface for event link persistence.
type EventLinkRepository interface {
	// Save persists an event link (create or update). Upserts on
	// (session_id, user_id, provider).
	Save(ctx context.Context, link *EventLink) error

	// FindBySessionUserProvider finds the link for one
	// (session, user, provider) tuple. Returns nil without error when
	// none exists.
	FindBySessionUserProvider(ctx context.Context, sessionID, userID uuid.UUID, provider integrationDomain.ProviderType) (*EventLink, error)

	// FindBySession finds all links for a session, across users and
	// providers.
	FindBySession(ctx context.Context, sessionID uuid.UUID) ([]*EventLink, error)

	// ExistsForSession reports whether any link exists for the session.
	ExistsForSession(ctx context.Context, sessionID uuid.UUID) (bool, error)

	// MarkAllFailedForSession sets every live link of the session to
	// failed, recording the cause. Used when a sync job exhausts its
	// retries.
	MarkAllFailedForSession(ctx context.Context, sessionID uuid.UUID, cause string) error
}
