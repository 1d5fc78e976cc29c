package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachflow/coachsync/internal/calsync/application"
	calsyncDomain "github.com/coachflow/coachsync/internal/calsync/domain"
	integrationDomain "github.com/coachflow/coachsync/internal/integration/domain"
	sessionDomain "github.com/coachflow/coachsync/internal/session/domain"
	sharedDomain "github.com/coachflow/coachsync/internal/shared/domain"
)

type stubSessionRepo struct {
	sessions map[uuid.UUID]*sessionDomain.Session
	err      error
}

func (r *stubSessionRepo) FindByID(_ context.Context, id uuid.UUID) (*sessionDomain.Session, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.sessions[id], nil
}

type capturingPublisher struct {
	events []sharedDomain.DomainEvent
	err    error
}

func (p *capturingPublisher) PublishDomainEvent(_ context.Context, event sharedDomain.DomainEvent) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

type stubIntegrationRepo struct {
	providers map[uuid.UUID][]integrationDomain.ProviderType
}

func (r *stubIntegrationRepo) Save(context.Context, *integrationDomain.Integration) error {
	return nil
}

func (r *stubIntegrationRepo) FindByUserAndProvider(context.Context, uuid.UUID, integrationDomain.ProviderType) (*integrationDomain.Integration, error) {
	return nil, nil
}

func (r *stubIntegrationRepo) FindByUser(_ context.Context, userID uuid.UUID) ([]*integrationDomain.Integration, error) {
	var result []*integrationDomain.Integration
	for _, provider := range r.providers[userID] {
		integration, err := integrationDomain.NewIntegration(
			userID, provider, []byte("token"), nil, "Bearer", time.Time{}, nil,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, integration)
	}
	return result, nil
}

func (r *stubIntegrationRepo) ExistsForAnyUser(_ context.Context, userIDs []uuid.UUID) (bool, error) {
	for _, id := range userIDs {
		if len(r.providers[id]) > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (r *stubIntegrationRepo) DeleteByUserAndProvider(context.Context, uuid.UUID, integrationDomain.ProviderType) error {
	return nil
}

type stubLinkRepo struct {
	links        map[uuid.UUID][]*calsyncDomain.EventLink
	markedFailed []uuid.UUID
	failCauses   []string
}

func newStubLinkRepo() *stubLinkRepo {
	return &stubLinkRepo{links: make(map[uuid.UUID][]*calsyncDomain.EventLink)}
}

func (r *stubLinkRepo) Save(_ context.Context, link *calsyncDomain.EventLink) error {
	for i, existing := range r.links[link.SessionID()] {
		if existing.UserID() == link.UserID() && existing.Provider() == link.Provider() {
			r.links[link.SessionID()][i] = link
			return nil
		}
	}
	r.links[link.SessionID()] = append(r.links[link.SessionID()], link)
	return nil
}

func (r *stubLinkRepo) FindBySessionUserProvider(_ context.Context, sessionID, userID uuid.UUID, provider integrationDomain.ProviderType) (*calsyncDomain.EventLink, error) {
	for _, link := range r.links[sessionID] {
		if link.UserID() == userID && link.Provider() == provider {
			return link, nil
		}
	}
	return nil, nil
}

func (r *stubLinkRepo) FindBySession(_ context.Context, sessionID uuid.UUID) ([]*calsyncDomain.EventLink, error) {
	return r.links[sessionID], nil
}

func (r *stubLinkRepo) ExistsForSession(_ context.Context, sessionID uuid.UUID) (bool, error) {
	return len(r.links[sessionID]) > 0, nil
}

func (r *stubLinkRepo) MarkAllFailedForSession(_ context.Context, sessionID uuid.UUID, cause string) error {
	r.markedFailed = append(r.markedFailed, sessionID)
	r.failCauses = append(r.failCauses, cause)
	return nil
}

type stubAdapter struct {
	err error
}

func (a *stubAdapter) CreateEvent(context.Context, calsyncDomain.EventData) (*application.CreatedEvent, error) {
	if a.err != nil {
		return nil, a.err
	}
	return &application.CreatedEvent{EventID: "evt-1"}, nil
}

func (a *stubAdapter) UpdateEvent(context.Context, string, calsyncDomain.EventData) (*application.CreatedEvent, error) {
	if a.err != nil {
		return nil, a.err
	}
	return &application.CreatedEvent{EventID: "evt-1"}, nil
}

func (a *stubAdapter) DeleteEvent(context.Context, string) error {
	return a.err
}

func (a *stubAdapter) FetchEvents(context.Context, time.Time, time.Time) ([]calsyncDomain.RemoteEvent, error) {
	return nil, a.err
}

type syncFixture struct {
	handler   *SessionSyncHandler
	sessions  *stubSessionRepo
	links     *stubLinkRepo
	publisher *capturingPublisher
}

func newSyncFixture(t *testing.T, session *sessionDomain.Session, adapterErr error) *syncFixture {
	t.Helper()

	integrations := &stubIntegrationRepo{providers: map[uuid.UUID][]integrationDomain.ProviderType{}}
	if session != nil {
		integrations.providers[session.CoachID] = []integrationDomain.ProviderType{integrationDomain.ProviderGoogle}
	}

	registry := application.NewAdapterRegistry()
	registry.Register(integrationDomain.ProviderGoogle, func(context.Context, uuid.UUID) (application.Adapter, error) {
		return &stubAdapter{err: adapterErr}, nil
	})

	links := newStubLinkRepo()
	orchestrator := application.NewOrchestrator(integrations, links, registry, nil)
	publisher := &capturingPublisher{}
	sessions := &stubSessionRepo{sessions: map[uuid.UUID]*sessionDomain.Session{}}
	if session != nil {
		sessions.sessions[session.ID] = session
	}

	return &syncFixture{
		handler:   NewSessionSyncHandler(sessions, orchestrator, links, publisher, nil),
		sessions:  sessions,
		links:     links,
		publisher: publisher,
	}
}

func syncEnvelope(t *testing.T, sessionID uuid.UUID, action string) *Envelope {
	t.Helper()
	env, err := NewEnvelope(JobSessionSync, "tenant-a", SessionSyncJob{SessionID: sessionID, Action: action})
	require.NoError(t, err)
	return env
}

func eligibleSession() *sessionDomain.Session {
	return &sessionDomain.Session{
		ID:              uuid.New(),
		Title:           "Career coaching",
		CoachID:         uuid.New(),
		ClientID:        uuid.New(),
		ClientEmail:     "client@example.com",
		ScheduledAt:     time.Now().Add(24 * time.Hour),
		DurationMinutes: 45,
		Type:            sessionDomain.TypeOnline,
		SyncToCalendar:  true,
	}
}

func TestSessionSyncHandler_Handle_PublishesOutcome(t *testing.T) {
	session := eligibleSession()
	f := newSyncFixture(t, session, nil)

	err := f.handler.Handle(context.Background(), syncEnvelope(t, session.ID, "create"))
	require.NoError(t, err)

	require.Len(t, f.publisher.events, 1)
	synced, ok := f.publisher.events[0].(*calsyncDomain.SessionSyncedEvent)
	require.True(t, ok)
	assert.Equal(t, session.ID, synced.SessionID)
	assert.Equal(t, "create", synced.Action)
	assert.Equal(t, 1, synced.SyncedPairs)
	assert.Equal(t, 0, synced.FailedPairs)
}

func TestSessionSyncHandler_Handle_MalformedPayloadIsDiscarded(t *testing.T) {
	f := newSyncFixture(t, nil, nil)

	env := &Envelope{JobID: uuid.New(), Name: JobSessionSync, Attempt: 1, Payload: json.RawMessage(`{broken`)}
	assert.NoError(t, f.handler.Handle(context.Background(), env), "garbage payloads are not worth retrying")
}

func TestSessionSyncHandler_Handle_UnknownActionIsDiscarded(t *testing.T) {
	session := eligibleSession()
	f := newSyncFixture(t, session, nil)

	err := f.handler.Handle(context.Background(), syncEnvelope(t, session.ID, "archive"))
	assert.NoError(t, err)
	assert.Empty(t, f.publisher.events)
}

func TestSessionSyncHandler_Handle_SessionGoneAbortsCleanly(t *testing.T) {
	f := newSyncFixture(t, nil, nil)

	err := f.handler.Handle(context.Background(), syncEnvelope(t, uuid.New(), "create"))
	assert.NoError(t, err)
	assert.Empty(t, f.publisher.events)
}

func TestSessionSyncHandler_Handle_OptedOutSessionSkipsCreate(t *testing.T) {
	session := eligibleSession()
	session.SyncToCalendar = false
	f := newSyncFixture(t, session, nil)

	err := f.handler.Handle(context.Background(), syncEnvelope(t, session.ID, "create"))
	assert.NoError(t, err)
	assert.Empty(t, f.links.links[session.ID], "nothing is synced for an opted-out session")
}

func TestSessionSyncHandler_Handle_DeleteIgnoresEligibility(t *testing.T) {
	session := eligibleSession()
	session.SyncToCalendar = false
	deleted := time.Now()
	session.DeletedAt = &deleted
	f := newSyncFixture(t, session, nil)

	err := f.handler.Handle(context.Background(), syncEnvelope(t, session.ID, "delete"))
	require.NoError(t, err)
	require.Len(t, f.publisher.events, 1, "delete runs even when the session opted out")
}

func TestSessionSyncHandler_Handle_AllFailedReturnsError(t *testing.T) {
	session := eligibleSession()
	f := newSyncFixture(t, session, errors.New("provider down"))

	err := f.handler.Handle(context.Background(), syncEnvelope(t, session.ID, "create"))
	assert.ErrorIs(t, err, calsyncDomain.ErrAllSyncsFailed)
	assert.Empty(t, f.publisher.events)
}

func TestSessionSyncHandler_Handle_PublishFailureDoesNotFailJob(t *testing.T) {
	session := eligibleSession()
	f := newSyncFixture(t, session, nil)
	f.publisher.err = errors.New("broker gone")

	err := f.handler.Handle(context.Background(), syncEnvelope(t, session.ID, "create"))
	assert.NoError(t, err, "a lost outcome event must not trigger a re-sync")
}

func TestSessionSyncHandler_OnExhausted(t *testing.T) {
	session := eligibleSession()
	f := newSyncFixture(t, session, nil)

	env := syncEnvelope(t, session.ID, "create")
	env.Attempt = 3
	f.handler.OnExhausted(context.Background(), env, errors.New("provider down"))

	assert.Equal(t, []uuid.UUID{session.ID}, f.links.markedFailed)
	assert.Equal(t, []string{"provider down"}, f.links.failCauses,
		"the terminal cause is recorded on the links")

	require.Len(t, f.publisher.events, 1)
	failed, ok := f.publisher.events[0].(*calsyncDomain.SyncFailedEvent)
	require.True(t, ok)
	assert.Equal(t, session.ID, failed.SessionID)
	assert.Equal(t, 3, failed.Attempts)
	assert.Equal(t, "provider down", failed.Reason)
}

func TestSessionSyncHandler_Spec(t *testing.T) {
	f := newSyncFixture(t, nil, nil)
	spec := f.handler.Spec(3)

	assert.Equal(t, 3, spec.MaxAttempts)
	assert.Equal(t, SessionSyncBackoff, spec.Backoff)
	assert.NotNil(t, spec.OnExhausted)
}
