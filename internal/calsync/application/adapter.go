// Package application orchestrates calendar synchronization: it fans a
// session change out to every connected (user, provider) pair, isolating
// failures so one broken integration never blocks another.
package application

import (
	"context"
	"time"

	calsyncDomain "github.com/coachflow/coachsync/internal/calsync/domain"
)

// SyncAction names what a sync run should do with the remote event.
type SyncAction string

const (
	ActionCreate SyncAction = "create"
	ActionUpdate SyncAction = "update"
	ActionDelete SyncAction = "delete"
)

// IsValid returns true if the action is recognized.
func (a SyncAction) IsValid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	default:
		return false
	}
}

// CreatedEvent is what an adapter reports after creating a remote event.
type CreatedEvent struct {
	EventID    string
	MeetingURL string
}

// Adapter translates provider-neutral event data into one provider's
// calendar API. Implementations receive an authenticated client scoped
// to the owning user; they never touch token storage.
type Adapter interface {
	// CreateEvent creates a calendar event and returns its remote ID and
	// meeting URL (empty when no meeting room was provisioned).
	CreateEvent(ctx context.Context, data calsyncDomain.EventData) (*CreatedEvent, error)

	// UpdateEvent rewrites an existing calendar event in place.
	UpdateEvent(ctx context.Context, eventID string, data calsyncDomain.EventData) (*CreatedEvent, error)

	// DeleteEvent removes a calendar event. An event already deleted
	// remotely is success, not an error.
	DeleteEvent(ctx context.Context, eventID string) error

	// FetchEvents lists the user's calendar events inside [start, end).
	// Items the provider returns in a shape we cannot read are skipped,
	// not errors.
	FetchEvents(ctx context.Context, start, end time.Time) ([]calsyncDomain.RemoteEvent, error)
}
