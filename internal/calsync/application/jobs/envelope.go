// Package jobs defines the engine's asynchronous work units and the
// runner that executes them with bounded retries.
package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job names carried in envelopes and used as queue routing keys.
const (
	JobSessionSync = "session_sync"
	JobPurgeEvents = "purge_events"
)

// Envelope wraps one unit of queued work. The attempt counter travels
// with the message so retries survive worker restarts.
type Envelope struct {
	JobID      uuid.UUID       `json:"job_id"`
	Name       string          `json:"name"`
	TenantID   string          `json:"tenant_id"`
	Attempt    int             `json:"attempt"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// NewEnvelope wraps a payload as a first-attempt envelope.
func NewEnvelope(name, tenantID string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		JobID:      uuid.New(),
		Name:       name,
		TenantID:   tenantID,
		Attempt:    1,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Queue delivers envelopes to the job runner after an optional delay.
type Queue interface {
	// Enqueue schedules an envelope for execution after the delay.
	// A zero delay means as soon as possible.
	Enqueue(ctx context.Context, env *Envelope, delay time.Duration) error
}

// SessionSyncJob is the payload of a session sync job. The tenant is
// bound at enqueue time via the envelope.
type SessionSyncJob struct {
	SessionID uuid.UUID `json:"session_id"`
	Action    string    `json:"action"`
}

// OrphanedEvent identifies one remote event whose owning session no
// longer exists.
type OrphanedEvent struct {
	EventID    string    `json:"event_id"`
	CalendarID string    `json:"calendar_id"`
	Provider   string    `json:"provider"`
	UserID     uuid.UUID `json:"user_id"`
}

// PurgeEventsJob is the payload of a bulk deletion job. Each event is
// deleted independently of the others.
type PurgeEventsJob struct {
	Events []OrphanedEvent `json:"events"`
}
