package tokens

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachflow/coachsync/internal/integration/domain"
	"github.com/coachflow/coachsync/internal/shared/infrastructure/crypto"
	"github.com/coachflow/coachsync/pkg/config"
)

type memoryIntegrationRepo struct {
	items map[string]*domain.Integration
}

func newMemoryIntegrationRepo() *memoryIntegrationRepo {
	return &memoryIntegrationRepo{items: make(map[string]*domain.Integration)}
}

func repoKey(userID uuid.UUID, provider domain.ProviderType) string {
	return userID.String() + "|" + provider.String()
}

func (r *memoryIntegrationRepo) Save(_ context.Context, integration *domain.Integration) error {
	r.items[repoKey(integration.UserID(), integration.Provider())] = integration
	return nil
}

func (r *memoryIntegrationRepo) FindByUserAndProvider(_ context.Context, userID uuid.UUID, provider domain.ProviderType) (*domain.Integration, error) {
	return r.items[repoKey(userID, provider)], nil
}

func (r *memoryIntegrationRepo) FindByUser(_ context.Context, userID uuid.UUID) ([]*domain.Integration, error) {
	var result []*domain.Integration
	for _, integration := range r.items {
		if integration.UserID() == userID {
			result = append(result, integration)
		}
	}
	return result, nil
}

func (r *memoryIntegrationRepo) ExistsForAnyUser(_ context.Context, userIDs []uuid.UUID) (bool, error) {
	for _, integration := range r.items {
		for _, id := range userIDs {
			if integration.UserID() == id {
				return true, nil
			}
		}
	}
	return false, nil
}

func (r *memoryIntegrationRepo) DeleteByUserAndProvider(_ context.Context, userID uuid.UUID, provider domain.ProviderType) error {
	delete(r.items, repoKey(userID, provider))
	return nil
}

func testConfig(tokenURL string) *config.Config {
	return &config.Config{
		Google: config.ProviderCredentials{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			AuthURL:      "https://accounts.example.com/auth",
			TokenURL:     tokenURL,
			RedirectURL:  "https://app.example.com/oauth/callback",
			Scopes:       []string{"https://www.googleapis.com/auth/calendar"},
		},
	}
}

func newTestService(t *testing.T, tokenURL string) (*Service, *memoryIntegrationRepo) {
	t.Helper()
	repo := newMemoryIntegrationRepo()
	service := NewService(testConfig(tokenURL), repo, crypto.PlaintextEncrypter{}, nil)
	return service, repo
}

// tokenEndpoint serves a canned OAuth token response.
func tokenEndpoint(t *testing.T, response map[string]any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))
	t.Cleanup(server.Close)
	return server
}

func storedIntegration(t *testing.T, repo *memoryIntegrationRepo, userID uuid.UUID, refreshToken string, expiresAt time.Time) *domain.Integration {
	t.Helper()
	var refresh []byte
	if refreshToken != "" {
		refresh = []byte(refreshToken)
	}
	integration, err := domain.NewIntegration(
		userID, domain.ProviderGoogle,
		[]byte("stored-access"), refresh,
		"Bearer", expiresAt, nil,
	)
	require.NoError(t, err)
	require.NoError(t, repo.Save(context.Background(), integration))
	return integration
}

func TestAuthURL(t *testing.T) {
	service, _ := newTestService(t, "https://oauth.example.com/token")

	url, err := service.AuthURL(domain.ProviderGoogle, "csrf-state")
	require.NoError(t, err)
	assert.Contains(t, url, "https://accounts.example.com/auth")
	assert.Contains(t, url, "access_type=offline")
	assert.Contains(t, url, "prompt=consent")
	assert.Contains(t, url, "state=csrf-state")
}

func TestAuthURL_UnconfiguredProvider(t *testing.T) {
	service, _ := newTestService(t, "https://oauth.example.com/token")

	_, err := service.AuthURL(domain.ProviderMicrosoft, "state")
	assert.ErrorIs(t, err, ErrProviderNotConfigured)
}

func TestExchangeAndStore(t *testing.T) {
	server := tokenEndpoint(t, map[string]any{
		"access_token":  "fresh-access",
		"refresh_token": "fresh-refresh",
		"token_type":    "Bearer",
		"expires_in":    3600,
	})
	service, repo := newTestService(t, server.URL)
	userID := uuid.New()

	integration, err := service.ExchangeAndStore(context.Background(), userID, domain.ProviderGoogle, "auth-code")
	require.NoError(t, err)

	assert.Equal(t, []byte("fresh-access"), integration.AccessToken())
	assert.True(t, integration.HasRefreshToken())
	assert.False(t, integration.ExpiresAt().IsZero())

	stored, err := repo.FindByUserAndProvider(context.Background(), userID, domain.ProviderGoogle)
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestExchangeAndStore_ReconnectReplacesTokens(t *testing.T) {
	server := tokenEndpoint(t, map[string]any{
		"access_token": "second-access",
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
	service, repo := newTestService(t, server.URL)
	userID := uuid.New()
	storedIntegration(t, repo, userID, "old-refresh", time.Now().Add(time.Hour))

	integration, err := service.ExchangeAndStore(context.Background(), userID, domain.ProviderGoogle, "auth-code")
	require.NoError(t, err)

	assert.Equal(t, []byte("second-access"), integration.AccessToken())
	assert.Equal(t, []byte("old-refresh"), integration.RefreshToken(),
		"refresh token survives when the provider does not reissue one")
	assert.Len(t, repo.items, 1, "reconnect must not create a second row")
}

func TestToken_ValidPassesThrough(t *testing.T) {
	service, repo := newTestService(t, "https://unreachable.invalid/token")
	integration := storedIntegration(t, repo, uuid.New(), "refresh", time.Now().Add(time.Hour))

	token, err := service.Token(context.Background(), integration)
	require.NoError(t, err)
	assert.Equal(t, "stored-access", token.AccessToken)
}

func TestToken_ZeroExpiryNeverExpires(t *testing.T) {
	service, repo := newTestService(t, "https://unreachable.invalid/token")
	integration := storedIntegration(t, repo, uuid.New(), "", time.Time{})

	token, err := service.Token(context.Background(), integration)
	require.NoError(t, err)
	assert.Equal(t, "stored-access", token.AccessToken)
}

func TestToken_ExpiredWithoutRefreshToken(t *testing.T) {
	service, repo := newTestService(t, "https://unreachable.invalid/token")
	integration := storedIntegration(t, repo, uuid.New(), "", time.Now().Add(-time.Hour))

	_, err := service.Token(context.Background(), integration)
	assert.ErrorIs(t, err, ErrMissingRefreshToken)
}

func TestToken_ExpiredRefreshesAndPersists(t *testing.T) {
	server := tokenEndpoint(t, map[string]any{
		"access_token": "refreshed-access",
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
	service, repo := newTestService(t, server.URL)
	userID := uuid.New()
	integration := storedIntegration(t, repo, userID, "stored-refresh", time.Now().Add(-time.Hour))

	token, err := service.Token(context.Background(), integration)
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access", token.AccessToken)

	stored, err := repo.FindByUserAndProvider(context.Background(), userID, domain.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, []byte("refreshed-access"), stored.AccessToken())
	assert.Equal(t, []byte("stored-refresh"), stored.RefreshToken(),
		"an unrotated refresh token is never overwritten")
	assert.False(t, stored.IsExpired(time.Now()))
}

func TestToken_RefreshRotationPersistsNewRefreshToken(t *testing.T) {
	server := tokenEndpoint(t, map[string]any{
		"access_token":  "refreshed-access",
		"refresh_token": "rotated-refresh",
		"token_type":    "Bearer",
		"expires_in":    3600,
	})
	service, repo := newTestService(t, server.URL)
	userID := uuid.New()
	integration := storedIntegration(t, repo, userID, "stored-refresh", time.Now().Add(-time.Hour))

	_, err := service.Token(context.Background(), integration)
	require.NoError(t, err)

	stored, err := repo.FindByUserAndProvider(context.Background(), userID, domain.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, []byte("rotated-refresh"), stored.RefreshToken())
}

func TestToken_RefreshFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
	}))
	t.Cleanup(server.Close)

	service, repo := newTestService(t, server.URL)
	integration := storedIntegration(t, repo, uuid.New(), "revoked-refresh", time.Now().Add(-time.Hour))

	_, err := service.Token(context.Background(), integration)
	assert.ErrorIs(t, err, ErrInvalidTokens)
}

func TestSource(t *testing.T) {
	service, repo := newTestService(t, "https://unreachable.invalid/token")
	userID := uuid.New()
	storedIntegration(t, repo, userID, "refresh", time.Now().Add(time.Hour))

	source, err := service.Source(context.Background(), userID, domain.ProviderGoogle)
	require.NoError(t, err)

	token, err := source.Token()
	require.NoError(t, err)
	assert.Equal(t, "stored-access", token.AccessToken)
}

func TestSource_NoIntegration(t *testing.T) {
	service, _ := newTestService(t, "https://unreachable.invalid/token")

	_, err := service.Source(context.Background(), uuid.New(), domain.ProviderGoogle)
	assert.ErrorIs(t, err, ErrIntegrationNotFound)
}

func TestDisconnect(t *testing.T) {
	service, repo := newTestService(t, "https://unreachable.invalid/token")
	userID := uuid.New()
	storedIntegration(t, repo, userID, "refresh", time.Now().Add(time.Hour))

	require.NoError(t, service.Disconnect(context.Background(), userID, domain.ProviderGoogle))
	assert.Empty(t, repo.items)

	assert.ErrorIs(t, service.Disconnect(context.Background(), userID, domain.ProviderGoogle), ErrIntegrationNotFound)
}
