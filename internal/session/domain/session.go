package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SessionType classifies how a coaching session is held.
type SessionType string

const (
	// TypeInPerson is a face-to-face session; no meeting room is provisioned.
	TypeInPerson SessionType = "in_person"
	// TypeOnline is a remote session; a provider meeting room is requested.
	TypeOnline SessionType = "online"
	// TypeHybrid mixes both; a provider meeting room is requested.
	TypeHybrid SessionType = "hybrid"
)

// IsValid returns true if the session type is recognized.
func (t SessionType) IsValid() bool {
	switch t {
	case TypeInPerson, TypeOnline, TypeHybrid:
		return true
	default:
		return false
	}
}

// NeedsMeetingRoom returns true if sessions of this type get a
// provider-native meeting room (Google Meet / Microsoft Teams).
func (t SessionType) NeedsMeetingRoom() bool {
	return t == TypeOnline || t == TypeHybrid
}

// Session is the engine's read-only view of a coaching session. The
// surrounding platform owns the entity; this engine never creates,
// mutates, or deletes sessions.
type Session struct {
	ID              uuid.UUID
	TenantID        string
	Title           string
	Notes           string
	CoachID         uuid.UUID
	ClientID        uuid.UUID
	ClientName      string
	ClientEmail     string
	Location        string
	ScheduledAt     time.Time
	DurationMinutes int
	Type            SessionType
	Timezone        string
	SyncToCalendar  bool
	DeletedAt       *time.Time
}

// EndTime returns the computed end of the session window.
func (s *Session) EndTime() time.Time {
	return s.ScheduledAt.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

// IsDeleted returns true if the session has been soft-deleted.
func (s *Session) IsDeleted() bool {
	return s.DeletedAt != nil
}

// SessionRepository reads coaching sessions from the tenant's data store.
// Soft-deleted sessions are returned; callers inspect DeletedAt.
type SessionRepository interface {
	// FindByID finds a session by ID, including soft-deleted rows.
	// Returns nil without error when the session does not exist.
	FindByID(ctx context.Context, id uuid.UUID) (*Session, error)
}
