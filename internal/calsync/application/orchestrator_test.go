package application

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	calsyncDomain "github.com/coachflow/coachsync/internal/calsync/domain"
	integrationDomain "github.com/coachflow/coachsync/internal/integration/domain"
	sessionDomain "github.com/coachflow/coachsync/internal/session/domain"
)

type mockIntegrationRepo struct {
	byUser map[uuid.UUID][]integrationDomain.ProviderType
	err    error
}

func (m *mockIntegrationRepo) Save(context.Context, *integrationDomain.Integration) error {
	return nil
}

func (m *mockIntegrationRepo) FindByUserAndProvider(context.Context, uuid.UUID, integrationDomain.ProviderType) (*integrationDomain.Integration, error) {
	return nil, nil
}

func (m *mockIntegrationRepo) FindByUser(_ context.Context, userID uuid.UUID) ([]*integrationDomain.Integration, error) {
	if m.err != nil {
		return nil, m.err
	}
	var result []*integrationDomain.Integration
	for _, provider := range m.byUser[userID] {
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

func (m *mockIntegrationRepo) ExistsForAnyUser(_ context.Context, userIDs []uuid.UUID) (bool, error) {
	for _, id := range userIDs {
		if len(m.byUser[id]) > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockIntegrationRepo) DeleteByUserAndProvider(context.Context, uuid.UUID, integrationDomain.ProviderType) error {
	return nil
}

type mockLinkRepo struct {
	links   map[string]*calsyncDomain.EventLink
	saveErr error
}

func newMockLinkRepo() *mockLinkRepo {
	return &mockLinkRepo{links: make(map[string]*calsyncDomain.EventLink)}
}

func linkKey(sessionID, userID uuid.UUID, provider integrationDomain.ProviderType) string {
	return fmt.Sprintf("%s|%s|%s", sessionID, userID, provider)
}

func (m *mockLinkRepo) Save(_ context.Context, link *calsyncDomain.EventLink) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.links[linkKey(link.SessionID(), link.UserID(), link.Provider())] = link
	return nil
}

func (m *mockLinkRepo) FindBySessionUserProvider(_ context.Context, sessionID, userID uuid.UUID, provider integrationDomain.ProviderType) (*calsyncDomain.EventLink, error) {
	return m.links[linkKey(sessionID, userID, provider)], nil
}

func (m *mockLinkRepo) FindBySession(_ context.Context, sessionID uuid.UUID) ([]*calsyncDomain.EventLink, error) {
	var result []*calsyncDomain.EventLink
	for _, link := range m.links {
		if link.SessionID() == sessionID {
			result = append(result, link)
		}
	}
	return result, nil
}

func (m *mockLinkRepo) ExistsForSession(_ context.Context, sessionID uuid.UUID) (bool, error) {
	for _, link := range m.links {
		if link.SessionID() == sessionID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockLinkRepo) MarkAllFailedForSession(_ context.Context, sessionID uuid.UUID, cause string) error {
	for _, link := range m.links {
		if link.SessionID() == sessionID && link.Status().Live() {
			link.MarkFailed(cause)
		}
	}
	return nil
}

type mockAdapter struct {
	createCalls int
	updateCalls int
	deleteCalls int
	eventID     string
	meetingURL  string
	err         error
}

func (m *mockAdapter) CreateEvent(context.Context, calsyncDomain.EventData) (*CreatedEvent, error) {
	m.createCalls++
	if m.err != nil {
		return nil, m.err
	}
	return &CreatedEvent{EventID: m.eventID, MeetingURL: m.meetingURL}, nil
}

func (m *mockAdapter) UpdateEvent(context.Context, string, calsyncDomain.EventData) (*CreatedEvent, error) {
	m.updateCalls++
	if m.err != nil {
		return nil, m.err
	}
	return &CreatedEvent{EventID: m.eventID, MeetingURL: m.meetingURL}, nil
}

func (m *mockAdapter) DeleteEvent(context.Context, string) error {
	m.deleteCalls++
	return m.err
}

func (m *mockAdapter) FetchEvents(context.Context, time.Time, time.Time) ([]calsyncDomain.RemoteEvent, error) {
	return nil, m.err
}

func registryWith(adapters map[integrationDomain.ProviderType]*mockAdapter) *AdapterRegistry {
	registry := NewAdapterRegistry()
	for provider, adapter := range adapters {
		a := adapter
		registry.Register(provider, func(context.Context, uuid.UUID) (Adapter, error) {
			return a, nil
		})
	}
	return registry
}

func testSession(coachID, clientID uuid.UUID) *sessionDomain.Session {
	return &sessionDomain.Session{
		ID:              uuid.New(),
		Title:           "Weekly check-in",
		CoachID:         coachID,
		ClientID:        clientID,
		ClientName:      "Jordan Lee",
		ClientEmail:     "jordan@example.com",
		ScheduledAt:     time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
		DurationMinutes: 60,
		Type:            sessionDomain.TypeOnline,
		Timezone:        "Europe/Berlin",
		SyncToCalendar:  true,
	}
}

func TestOrchestrator_Create_PersistsLink(t *testing.T) {
	coach := uuid.New()
	client := uuid.New()
	integrations := &mockIntegrationRepo{byUser: map[uuid.UUID][]integrationDomain.ProviderType{
		coach: {integrationDomain.ProviderGoogle},
	}}
	links := newMockLinkRepo()
	adapter := &mockAdapter{eventID: "evt-1", meetingURL: "https://meet.example.com/abc"}
	orchestrator := NewOrchestrator(integrations, links, registryWith(map[integrationDomain.ProviderType]*mockAdapter{
		integrationDomain.ProviderGoogle: adapter,
	}), nil)

	session := testSession(coach, client)
	results, err := orchestrator.SyncSession(context.Background(), session, ActionCreate)
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.True(t, results[0].Success)
	assert.Equal(t, coach, results[0].UserID)
	assert.Equal(t, integrationDomain.ProviderGoogle, results[0].Provider)
	assert.Equal(t, "evt-1", results[0].EventID)
	assert.Equal(t, 1, adapter.createCalls)

	link, err := links.FindBySessionUserProvider(context.Background(), session.ID, coach, integrationDomain.ProviderGoogle)
	require.NoError(t, err)
	require.NotNil(t, link)
	assert.Equal(t, calsyncDomain.StatusCreated, link.Status())
	assert.Equal(t, "https://meet.example.com/abc", link.MeetingURL())
}

func TestOrchestrator_Create_IsIdempotent(t *testing.T) {
	coach := uuid.New()
	integrations := &mockIntegrationRepo{byUser: map[uuid.UUID][]integrationDomain.ProviderType{
		coach: {integrationDomain.ProviderGoogle},
	}}
	links := newMockLinkRepo()
	adapter := &mockAdapter{eventID: "evt-1"}
	orchestrator := NewOrchestrator(integrations, links, registryWith(map[integrationDomain.ProviderType]*mockAdapter{
		integrationDomain.ProviderGoogle: adapter,
	}), nil)

	session := testSession(coach, uuid.New())
	_, err := orchestrator.SyncSession(context.Background(), session, ActionCreate)
	require.NoError(t, err)
	results, err := orchestrator.SyncSession(context.Background(), session, ActionCreate)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, "evt-1", results[0].EventID)
	assert.Equal(t, 1, adapter.createCalls, "second create must not call the provider")
	assert.Len(t, links.links, 1)
}

func TestOrchestrator_Update_FallsBackToCreate(t *testing.T) {
	coach := uuid.New()
	integrations := &mockIntegrationRepo{byUser: map[uuid.UUID][]integrationDomain.ProviderType{
		coach: {integrationDomain.ProviderMicrosoft},
	}}
	links := newMockLinkRepo()
	adapter := &mockAdapter{eventID: "evt-ms"}
	orchestrator := NewOrchestrator(integrations, links, registryWith(map[integrationDomain.ProviderType]*mockAdapter{
		integrationDomain.ProviderMicrosoft: adapter,
	}), nil)

	session := testSession(coach, uuid.New())
	results, err := orchestrator.SyncSession(context.Background(), session, ActionUpdate)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, 1, adapter.createCalls)
	assert.Equal(t, 0, adapter.updateCalls)

	link, _ := links.FindBySessionUserProvider(context.Background(), session.ID, coach, integrationDomain.ProviderMicrosoft)
	require.NotNil(t, link)
	assert.Equal(t, calsyncDomain.StatusCreated, link.Status())
}

func TestOrchestrator_Update_RewritesExistingLink(t *testing.T) {
	coach := uuid.New()
	integrations := &mockIntegrationRepo{byUser: map[uuid.UUID][]integrationDomain.ProviderType{
		coach: {integrationDomain.ProviderGoogle},
	}}
	links := newMockLinkRepo()
	adapter := &mockAdapter{eventID: "evt-1", meetingURL: "https://meet.example.com/new"}
	orchestrator := NewOrchestrator(integrations, links, registryWith(map[integrationDomain.ProviderType]*mockAdapter{
		integrationDomain.ProviderGoogle: adapter,
	}), nil)

	session := testSession(coach, uuid.New())
	_, err := orchestrator.SyncSession(context.Background(), session, ActionCreate)
	require.NoError(t, err)
	results, err := orchestrator.SyncSession(context.Background(), session, ActionUpdate)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, 1, adapter.updateCalls)

	link, _ := links.FindBySessionUserProvider(context.Background(), session.ID, coach, integrationDomain.ProviderGoogle)
	assert.Equal(t, calsyncDomain.StatusUpdated, link.Status())
	assert.Equal(t, "https://meet.example.com/new", link.MeetingURL())
}

func TestOrchestrator_Delete_WithoutLinkIsNoop(t *testing.T) {
	coach := uuid.New()
	integrations := &mockIntegrationRepo{byUser: map[uuid.UUID][]integrationDomain.ProviderType{
		coach: {integrationDomain.ProviderGoogle},
	}}
	links := newMockLinkRepo()
	adapter := &mockAdapter{}
	orchestrator := NewOrchestrator(integrations, links, registryWith(map[integrationDomain.ProviderType]*mockAdapter{
		integrationDomain.ProviderGoogle: adapter,
	}), nil)

	results, err := orchestrator.SyncSession(context.Background(), testSession(coach, uuid.New()), ActionDelete)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, 0, adapter.deleteCalls, "no outbound call without a link")
}

func TestOrchestrator_Delete_MarksLinkDeleted(t *testing.T) {
	coach := uuid.New()
	integrations := &mockIntegrationRepo{byUser: map[uuid.UUID][]integrationDomain.ProviderType{
		coach: {integrationDomain.ProviderGoogle},
	}}
	links := newMockLinkRepo()
	adapter := &mockAdapter{eventID: "evt-1"}
	orchestrator := NewOrchestrator(integrations, links, registryWith(map[integrationDomain.ProviderType]*mockAdapter{
		integrationDomain.ProviderGoogle: adapter,
	}), nil)

	session := testSession(coach, uuid.New())
	_, err := orchestrator.SyncSession(context.Background(), session, ActionCreate)
	require.NoError(t, err)
	results, err := orchestrator.SyncSession(context.Background(), session, ActionDelete)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, 1, adapter.deleteCalls)

	link, _ := links.FindBySessionUserProvider(context.Background(), session.ID, coach, integrationDomain.ProviderGoogle)
	require.NotNil(t, link, "link record is retained for audit")
	assert.Equal(t, calsyncDomain.StatusDeleted, link.Status())
}

func TestOrchestrator_Create_AfterDeleteRecreatesRemoteEvent(t *testing.T) {
	coach := uuid.New()
	integrations := &mockIntegrationRepo{byUser: map[uuid.UUID][]integrationDomain.ProviderType{
		coach: {integrationDomain.ProviderGoogle},
	}}
	links := newMockLinkRepo()
	adapter := &mockAdapter{eventID: "evt-1"}
	orchestrator := NewOrchestrator(integrations, links, registryWith(map[integrationDomain.ProviderType]*mockAdapter{
		integrationDomain.ProviderGoogle: adapter,
	}), nil)

	session := testSession(coach, uuid.New())
	_, err := orchestrator.SyncSession(context.Background(), session, ActionCreate)
	require.NoError(t, err)
	_, err = orchestrator.SyncSession(context.Background(), session, ActionDelete)
	require.NoError(t, err)

	adapter.eventID = "evt-2"
	results, err := orchestrator.SyncSession(context.Background(), session, ActionCreate)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, "evt-2", results[0].EventID)
	assert.Equal(t, 2, adapter.createCalls)

	link, _ := links.FindBySessionUserProvider(context.Background(), session.ID, coach, integrationDomain.ProviderGoogle)
	assert.Equal(t, calsyncDomain.StatusCreated, link.Status())
	assert.Equal(t, "evt-2", link.EventID())
	assert.Len(t, links.links, 1, "the row is reused, not duplicated")
}

func TestOrchestrator_FailureIsolation(t *testing.T) {
	coach := uuid.New()
	integrations := &mockIntegrationRepo{byUser: map[uuid.UUID][]integrationDomain.ProviderType{
		coach: {integrationDomain.ProviderGoogle, integrationDomain.ProviderMicrosoft},
	}}
	links := newMockLinkRepo()
	googleAdapter := &mockAdapter{err: errors.New("google is down")}
	microsoftAdapter := &mockAdapter{eventID: "evt-ms"}
	orchestrator := NewOrchestrator(integrations, links, registryWith(map[integrationDomain.ProviderType]*mockAdapter{
		integrationDomain.ProviderGoogle:    googleAdapter,
		integrationDomain.ProviderMicrosoft: microsoftAdapter,
	}), nil)

	results, err := orchestrator.SyncSession(context.Background(), testSession(coach, uuid.New()), ActionCreate)
	require.NoError(t, err, "pair failures never escape the orchestrator")
	require.Len(t, results, 2)

	byProvider := map[integrationDomain.ProviderType]PairResult{}
	for _, r := range results {
		byProvider[r.Provider] = r
	}
	assert.False(t, byProvider[integrationDomain.ProviderGoogle].Success)
	assert.Error(t, byProvider[integrationDomain.ProviderGoogle].Err)
	assert.True(t, byProvider[integrationDomain.ProviderMicrosoft].Success)
	assert.False(t, AllFailed(results))
}

func TestOrchestrator_NoIntegrations_EmptyResult(t *testing.T) {
	integrations := &mockIntegrationRepo{byUser: map[uuid.UUID][]integrationDomain.ProviderType{}}
	orchestrator := NewOrchestrator(integrations, newMockLinkRepo(), NewAdapterRegistry(), nil)

	results, err := orchestrator.SyncSession(context.Background(), testSession(uuid.New(), uuid.New()), ActionCreate)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.False(t, AllFailed(results), "an empty result set is not a failure")
}

func TestOrchestrator_UnknownAction(t *testing.T) {
	integrations := &mockIntegrationRepo{byUser: map[uuid.UUID][]integrationDomain.ProviderType{}}
	orchestrator := NewOrchestrator(integrations, newMockLinkRepo(), NewAdapterRegistry(), nil)

	_, err := orchestrator.SyncSession(context.Background(), testSession(uuid.New(), uuid.New()), SyncAction("archive"))
	assert.ErrorIs(t, err, calsyncDomain.ErrUnsupportedAction)
}

func TestOrchestrator_MissingAdapter_IsPairFailure(t *testing.T) {
	coach := uuid.New()
	integrations := &mockIntegrationRepo{byUser: map[uuid.UUID][]integrationDomain.ProviderType{
		coach: {integrationDomain.ProviderGoogle},
	}}
	orchestrator := NewOrchestrator(integrations, newMockLinkRepo(), NewAdapterRegistry(), nil)

	results, err := orchestrator.SyncSession(context.Background(), testSession(coach, uuid.New()), ActionCreate)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.True(t, AllFailed(results))
}

func TestAllFailed(t *testing.T) {
	assert.False(t, AllFailed(nil))
	assert.False(t, AllFailed([]PairResult{{Success: true}, {Success: false}}))
	assert.True(t, AllFailed([]PairResult{{Success: false}, {Success: false}}))
}
