package domain

import (
	"github.com/google/uuid"

	sharedDomain "github.com/coachflow/coachsync/internal/shared/domain"
)

const (
	// AggregateTypeCalendarSync is the aggregate type for sync outcomes.
	AggregateTypeCalendarSync = "calendar_sync"

	// RoutingKeySessionSynced is published after a sync run with at
	// least one successful (user, provider) pair.
	RoutingKeySessionSynced = "calsync.synced"

	// RoutingKeySyncFailed is published when a sync job exhausts its
	// retries.
	RoutingKeySyncFailed = "calsync.sync_failed"
)

// SessionSyncedEvent reports the outcome of a sync run. SyncedPairs and
// FailedPairs count (user, provider) pairs, not events.
type SessionSyncedEvent struct {
	sharedDomain.BaseEvent
	SessionID   uuid.UUID `json:"session_id"`
	Action      string    `json:"action"`
	SyncedPairs int       `json:"synced_pairs"`
	FailedPairs int       `json:"failed_pairs"`
}

// NewSessionSyncedEvent creates a session synced event.
func NewSessionSyncedEvent(sessionID uuid.UUID, action string, synced, failed int) *SessionSyncedEvent {
	return &SessionSyncedEvent{
		BaseEvent:   sharedDomain.NewBaseEvent(sessionID, AggregateTypeCalendarSync, RoutingKeySessionSynced),
		SessionID:   sessionID,
		Action:      action,
		SyncedPairs: synced,
		FailedPairs: failed,
	}
}

// SyncFailedEvent reports a terminally failed sync job.
type SyncFailedEvent struct {
	sharedDomain.BaseEvent
	SessionID uuid.UUID `json:"session_id"`
	Action    string    `json:"action"`
	Attempts  int       `json:"attempts"`
	Reason    string    `json:"reason"`
}

// NewSyncFailedEvent creates a sync failed event.
func NewSyncFailedEvent(sessionID uuid.UUID, action string, attempts int, reason string) *SyncFailedEvent {
	return &SyncFailedEvent{
		BaseEvent: sharedDomain.NewBaseEvent(sessionID, AggregateTypeCalendarSync, RoutingKeySyncFailed),
		SessionID: sessionID,
		Action:    action,
		Attempts:  attempts,
		Reason:    reason,
	}
}
