// Package tokens manages the OAuth token lifecycle for calendar
// integrations: authorization, exchange, transparent refresh, and
// encrypted persistence of refreshed state.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/coachflow/coachsync/internal/integration/domain"
	"github.com/coachflow/coachsync/internal/shared/infrastructure/crypto"
	"github.com/coachflow/coachsync/pkg/config"
)

var (
	// ErrIntegrationNotFound is returned when a user has no integration
	// for the requested provider.
	ErrIntegrationNotFound = errors.New("calendar integration not found")

	// ErrInvalidTokens is returned when stored credentials cannot produce
	// a usable access token. The user must re-authorize.
	ErrInvalidTokens = errors.New("stored tokens are invalid, re-authorization required")

	// ErrMissingRefreshToken is returned when the access token expired
	// and no refresh token was ever stored.
	ErrMissingRefreshToken = errors.New("access token expired and no refresh token available")

	// ErrProviderNotConfigured is returned when no OAuth client
	// credentials exist for the provider.
	ErrProviderNotConfigured = errors.New("provider credentials not configured")
)

// Service manages OAuth tokens for calendar integrations. All token
// material crosses the repository boundary encrypted; decryption happens
// only inside this service.
type Service struct {
	repo      domain.IntegrationRepository
	encrypter crypto.Encrypter
	configs   map[domain.ProviderType]*oauth2.Config
	logger    *slog.Logger
}

// NewService creates a token service from the loaded provider credentials.
func NewService(
	cfg *config.Config,
	repo domain.IntegrationRepository,
	encrypter crypto.Encrypter,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	configs := make(map[domain.ProviderType]*oauth2.Config)
	if cfg.Google.Configured() {
		configs[domain.ProviderGoogle] = oauthConfig(cfg.Google)
	}
	if cfg.Microsoft.Configured() {
		configs[domain.ProviderMicrosoft] = oauthConfig(cfg.Microsoft)
	}

	return &Service{
		repo:      repo,
		encrypter: encrypter,
		configs:   configs,
		logger:    logger,
	}
}

func oauthConfig(creds config.ProviderCredentials) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  creds.RedirectURL,
		Scopes:       creds.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  creds.AuthURL,
			TokenURL: creds.TokenURL,
		},
	}
}

// AuthURL returns the provider's consent page URL for the given CSRF state.
func (s *Service) AuthURL(provider domain.ProviderType, state string) (string, error) {
	cfg, ok := s.configs[provider]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrProviderNotConfigured, provider)
	}
	return cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	), nil
}

// ExchangeAndStore exchanges an authorization code for tokens and stores
// them encrypted. Re-connecting an already connected provider replaces
// the stored credential set.
func (s *Service) ExchangeAndStore(
	ctx context.Context,
	userID uuid.UUID,
	provider domain.ProviderType,
	code string,
) (*domain.Integration, error) {
	cfg, ok := s.configs[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, provider)
	}

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}

	encAccess, err := s.encrypter.Encrypt([]byte(token.AccessToken))
	if err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}
	var encRefresh []byte
	if token.RefreshToken != "" {
		encRefresh, err = s.encrypter.Encrypt([]byte(token.RefreshToken))
		if err != nil {
			return nil, fmt.Errorf("encrypt refresh token: %w", err)
		}
	}

	existing, err := s.repo.FindByUserAndProvider(ctx, userID, provider)
	if err != nil {
		return nil, fmt.Errorf("find integration: %w", err)
	}

	var integration *domain.Integration
	if existing != nil {
		existing.UpdateTokens(encAccess, encRefresh, token.TokenType, token.Expiry)
		integration = existing
	} else {
		integration, err = domain.NewIntegration(
			userID, provider,
			encAccess, encRefresh,
			token.TokenType, token.Expiry,
			cfg.Scopes,
		)
		if err != nil {
			return nil, err
		}
	}

	if err := s.repo.Save(ctx, integration); err != nil {
		return nil, fmt.Errorf("save integration: %w", err)
	}

	s.logger.Info("calendar integration connected",
		"user_id", userID,
		"provider", provider,
		"has_refresh_token", integration.HasRefreshToken(),
	)

	return integration, nil
}

// Disconnect removes a user's integration for a provider. Remote events
// created through the integration are left in place.
func (s *Service) Disconnect(ctx context.Context, userID uuid.UUID, provider domain.ProviderType) error {
	integration, err := s.repo.FindByUserAndProvider(ctx, userID, provider)
	if err != nil {
		return fmt.Errorf("find integration: %w", err)
	}
	if integration == nil {
		return ErrIntegrationNotFound
	}
	if err := s.repo.DeleteByUserAndProvider(ctx, userID, provider); err != nil {
		return fmt.Errorf("delete integration: %w", err)
	}

	s.logger.Info("calendar integration disconnected",
		"user_id", userID,
		"provider", provider,
	)
	return nil
}

// Token returns a valid access token for the integration, refreshing and
// persisting if the stored one is expired. Callers receive a decrypted
// token; the stored copy stays encrypted.
func (s *Service) Token(ctx context.Context, integration *domain.Integration) (*oauth2.Token, error) {
	cfg, ok := s.configs[integration.Provider()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, integration.Provider())
	}

	current, err := s.decryptToken(integration)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTokens, err)
	}

	if !integration.IsExpired(time.Now()) {
		return current, nil
	}
	if !integration.HasRefreshToken() {
		return nil, ErrMissingRefreshToken
	}

	refreshed, err := cfg.TokenSource(ctx, current).Token()
	if err != nil {
		s.logger.Warn("token refresh failed",
			"user_id", integration.UserID(),
			"provider", integration.Provider(),
			"error", err,
		)
		return nil, fmt.Errorf("%w: %v", ErrInvalidTokens, err)
	}

	if err := s.persistRefreshed(ctx, integration, current, refreshed); err != nil {
		return nil, err
	}

	return refreshed, nil
}

// Source returns an oauth2.TokenSource for a (user, provider) pair.
// Tokens refreshed by the source are written back to the repository so
// rotated refresh tokens are never lost.
func (s *Service) Source(ctx context.Context, userID uuid.UUID, provider domain.ProviderType) (oauth2.TokenSource, error) {
	cfg, ok := s.configs[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, provider)
	}

	integration, err := s.repo.FindByUserAndProvider(ctx, userID, provider)
	if err != nil {
		return nil, fmt.Errorf("find integration: %w", err)
	}
	if integration == nil {
		return nil, ErrIntegrationNotFound
	}

	initial, err := s.Token(ctx, integration)
	if err != nil {
		return nil, err
	}

	return &persistingTokenSource{
		service:     s,
		ctx:         ctx,
		integration: integration,
		last:        initial,
		inner:       cfg.TokenSource(ctx, initial),
	}, nil
}

// Integration returns the stored integration for a (user, provider) pair.
func (s *Service) Integration(ctx context.Context, userID uuid.UUID, provider domain.ProviderType) (*domain.Integration, error) {
	integration, err := s.repo.FindByUserAndProvider(ctx, userID, provider)
	if err != nil {
		return nil, fmt.Errorf("find integration: %w", err)
	}
	if integration == nil {
		return nil, ErrIntegrationNotFound
	}
	return integration, nil
}

// Integrations returns all of a user's stored integrations.
func (s *Service) Integrations(ctx context.Context, userID uuid.UUID) ([]*domain.Integration, error) {
	return s.repo.FindByUser(ctx, userID)
}

func (s *Service) decryptToken(integration *domain.Integration) (*oauth2.Token, error) {
	access, err := s.encrypter.Decrypt(integration.AccessToken())
	if err != nil {
		return nil, fmt.Errorf("decrypt access token: %w", err)
	}
	token := &oauth2.Token{
		AccessToken: string(access),
		TokenType:   integration.TokenType(),
		Expiry:      integration.ExpiresAt(),
	}
	if integration.HasRefreshToken() {
		refresh, err := s.encrypter.Decrypt(integration.RefreshToken())
		if err != nil {
			return nil, fmt.Errorf("decrypt refresh token: %w", err)
		}
		token.RefreshToken = string(refresh)
	}
	return token, nil
}

// persistRefreshed stores the refreshed token state. The refresh token is
// only replaced when the provider rotated it.
func (s *Service) persistRefreshed(ctx context.Context, integration *domain.Integration, old, refreshed *oauth2.Token) error {
	encAccess, err := s.encrypter.Encrypt([]byte(refreshed.AccessToken))
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	var encRefresh []byte
	if refreshed.RefreshToken != "" && refreshed.RefreshToken != old.RefreshToken {
		encRefresh, err = s.encrypter.Encrypt([]byte(refreshed.RefreshToken))
		if err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
	}

	integration.UpdateTokens(encAccess, encRefresh, refreshed.TokenType, refreshed.Expiry)
	if err := s.repo.Save(ctx, integration); err != nil {
		return fmt.Errorf("save refreshed tokens: %w", err)
	}

	s.logger.Debug("access token refreshed",
		"user_id", integration.UserID(),
		"provider", integration.Provider(),
		"expires_at", refreshed.Expiry,
		"refresh_token_rotated", len(encRefresh) > 0,
	)
	return nil
}

// persistingTokenSource wraps an oauth2.TokenSource and writes refreshed
// tokens back through the service whenever the access token changes.
type persistingTokenSource struct {
	service     *Service
	ctx         context.Context
	integration *domain.Integration
	last        *oauth2.Token
	inner       oauth2.TokenSource
}

func (ts *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := ts.inner.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTokens, err)
	}
	if token.AccessToken != ts.last.AccessToken {
		if err := ts.service.persistRefreshed(ts.ctx, ts.integration, ts.last, token); err != nil {
			return nil, err
		}
		ts.last = token
	}
	return token, nil
}
