package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachflow/coachsync/internal/calsync/application"
	calsyncDomain "github.com/coachflow/coachsync/internal/calsync/domain"
	integrationDomain "github.com/coachflow/coachsync/internal/integration/domain"
)

type stubDeleteAdapter struct {
	deleted []string
	err     error
}

func (a *stubDeleteAdapter) CreateEvent(context.Context, calsyncDomain.EventData) (*application.CreatedEvent, error) {
	return nil, errors.New("not used")
}

func (a *stubDeleteAdapter) UpdateEvent(context.Context, string, calsyncDomain.EventData) (*application.CreatedEvent, error) {
	return nil, errors.New("not used")
}

func (a *stubDeleteAdapter) DeleteEvent(_ context.Context, eventID string) error {
	if a.err != nil {
		return a.err
	}
	a.deleted = append(a.deleted, eventID)
	return nil
}

func (a *stubDeleteAdapter) FetchEvents(context.Context, time.Time, time.Time) ([]calsyncDomain.RemoteEvent, error) {
	return nil, errors.New("not used")
}

func purgeEnvelope(t *testing.T, events []OrphanedEvent) *Envelope {
	t.Helper()
	env, err := NewEnvelope(JobPurgeEvents, "tenant-a", PurgeEventsJob{Events: events})
	require.NoError(t, err)
	return env
}

func TestPurgeEventsHandler_Handle_DeletesEachEvent(t *testing.T) {
	adapter := &stubDeleteAdapter{}
	registry := application.NewAdapterRegistry()
	registry.Register(integrationDomain.ProviderGoogle, func(context.Context, uuid.UUID) (application.Adapter, error) {
		return adapter, nil
	})
	handler := NewPurgeEventsHandler(registry, nil)

	env := purgeEnvelope(t, []OrphanedEvent{
		{EventID: "evt-1", CalendarID: "primary", Provider: "google", UserID: uuid.New()},
		{EventID: "evt-2", CalendarID: "primary", Provider: "google", UserID: uuid.New()},
	})
	require.NoError(t, handler.Handle(context.Background(), env))
	assert.Equal(t, []string{"evt-1", "evt-2"}, adapter.deleted)
}

func TestPurgeEventsHandler_Handle_PartialFailureSucceeds(t *testing.T) {
	googleAdapter := &stubDeleteAdapter{err: errors.New("google down")}
	microsoftAdapter := &stubDeleteAdapter{}
	registry := application.NewAdapterRegistry()
	registry.Register(integrationDomain.ProviderGoogle, func(context.Context, uuid.UUID) (application.Adapter, error) {
		return googleAdapter, nil
	})
	registry.Register(integrationDomain.ProviderMicrosoft, func(context.Context, uuid.UUID) (application.Adapter, error) {
		return microsoftAdapter, nil
	})
	handler := NewPurgeEventsHandler(registry, nil)

	env := purgeEnvelope(t, []OrphanedEvent{
		{EventID: "evt-1", Provider: "google", UserID: uuid.New()},
		{EventID: "evt-2", Provider: "microsoft", UserID: uuid.New()},
	})
	assert.NoError(t, handler.Handle(context.Background(), env), "one surviving deletion is enough")
	assert.Equal(t, []string{"evt-2"}, microsoftAdapter.deleted)
}

func TestPurgeEventsHandler_Handle_AllFailedRetries(t *testing.T) {
	registry := application.NewAdapterRegistry()
	registry.Register(integrationDomain.ProviderGoogle, func(context.Context, uuid.UUID) (application.Adapter, error) {
		return &stubDeleteAdapter{err: errors.New("google down")}, nil
	})
	handler := NewPurgeEventsHandler(registry, nil)

	env := purgeEnvelope(t, []OrphanedEvent{
		{EventID: "evt-1", Provider: "google", UserID: uuid.New()},
	})
	assert.Error(t, handler.Handle(context.Background(), env))
}

func TestPurgeEventsHandler_Handle_UnknownProviderCountsAsFailure(t *testing.T) {
	handler := NewPurgeEventsHandler(application.NewAdapterRegistry(), nil)

	env := purgeEnvelope(t, []OrphanedEvent{
		{EventID: "evt-1", Provider: "caldav", UserID: uuid.New()},
	})
	assert.Error(t, handler.Handle(context.Background(), env))
}

func TestPurgeEventsHandler_Handle_EmptyBatchIsNoop(t *testing.T) {
	handler := NewPurgeEventsHandler(application.NewAdapterRegistry(), nil)

	env := purgeEnvelope(t, nil)
	assert.NoError(t, handler.Handle(context.Background(), env))
}
