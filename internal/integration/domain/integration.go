package domain

import (
	"context"
	"errors"
	"time"

	sharedDomain "github.com/coachflow/coachsync/internal/shared/domain"
	"github.com/google/uuid"
)

// Domain errors for Integration validation.
var (
	ErrEmptyUserID     = errors.New("user ID cannot be empty")
	ErrInvalidProvider = errors.New("invalid provider type")
	ErrEmptyToken      = errors.New("access token cannot be empty")
)

// Integration links one user to one calendar provider via a stored OAuth
// credential set. At most one integration exists per (user, provider);
// the repositories enforce the uniqueness with an upsert.
// Token fields hold ciphertext; encryption happens in the token service.
type Integration struct {
	sharedDomain.BaseEntity
	userID       uuid.UUID
	provider     ProviderType
	accessToken  []byte
	refreshToken []byte
	tokenType    string
	expiresAt    time.Time
	scopes       []string
}

// NewIntegration creates a new integration after an OAuth authorization flow.
func NewIntegration(
	userID uuid.UUID,
	provider ProviderType,
	accessToken, refreshToken []byte,
	tokenType string,
	expiresAt time.Time,
	scopes []string,
) (*Integration, error) {
	if userID == uuid.Nil {
		return nil, ErrEmptyUserID
	}
	if !provider.IsValid() {
		return nil, ErrInvalidProvider
	}
	if len(accessToken) == 0 {
		return nil, ErrEmptyToken
	}

	return &Integration{
		BaseEntity:   sharedDomain.NewBaseEntity(),
		userID:       userID,
		provider:     provider,
		accessToken:  accessToken,
		refreshToken: refreshToken,
		tokenType:    tokenType,
		expiresAt:    expiresAt,
		scopes:       scopes,
	}, nil
}

// Getters
func (i *Integration) UserID() uuid.UUID      { return i.userID }
func (i *Integration) Provider() ProviderType { return i.provider }
func (i *Integration) AccessToken() []byte    { return i.accessToken }
func (i *Integration) RefreshToken() []byte   { return i.refreshToken }
func (i *Integration) TokenType() string      { return i.tokenType }
func (i *Integration) ExpiresAt() time.Time   { return i.expiresAt }
func (i *Integration) Scopes() []string       { return i.scopes }

// HasRefreshToken returns true if a refresh token was ever issued.
// Some providers only issue one on the first consent.
func (i *Integration) HasRefreshToken() bool {
	return len(i.refreshToken) > 0
}

// IsExpired returns true if the recorded expiry is in the past. A zero
// expiry means no expiry was ever recorded and the token never expires.
func (i *Integration) IsExpired(now time.Time) bool {
	if i.expiresAt.IsZero() {
		return false
	}
	return !i.expiresAt.After(now)
}

// UpdateTokens overwrites the stored token state after a refresh. The
// refresh token is replaced only when the provider issued a new one.
func (i *Integration) UpdateTokens(accessToken, refreshToken []byte, tokenType string, expiresAt time.Time) {
	i.accessToken = accessToken
	if len(refreshToken) > 0 {
		i.refreshToken = refreshToken
	}
	if tokenType != "" {
		i.tokenType = tokenType
	}
	i.expiresAt = expiresAt
	i.Touch()
}

// RehydrateIntegration recreates an integration from persisted data.
func RehydrateIntegration(
	id uuid.UUID,
	userID uuid.UUID,
	provider ProviderType,
	accessToken, refreshToken []byte,
	tokenType string,
	expiresAt time.Time,
	scopes []string,
	createdAt, updatedAt time.Time,
) *Integration {
	return &Integration{
		BaseEntity:   sharedDomain.RehydrateBaseEntity(id, createdAt, updatedAt),
		userID:       userID,
		provider:     provider,
		accessToken:  accessToken,
		refreshToken: refreshToken,
		tokenType:    tokenType,
		expiresAt:    expiresAt,
		scopes:       scopes,
	}
}

// IntegrationRepository defines the interface for integration persistence.
type IntegrationRepository interface {
	// Save persists an integration (create or update). Upserts on
	// (user_id, provider).
	Save(ctx context.Context, integration *Integration) error

	// FindByUserAndProvider finds the integration for a (user, provider)
	// pair. Returns nil without error when none exists.
	FindByUserAndProvider(ctx context.Context, userID uuid.UUID, provider ProviderType) (*Integration, error)

	// FindByUser finds all integrations for a user.
	FindByUser(ctx context.Context, userID uuid.UUID) ([]*Integration, error)

	// ExistsForAnyUser reports whether at least one of the given users
	// has at least one integration.
	ExistsForAnyUser(ctx context.Context, userIDs []uuid.UUID) (bool, error)

	// DeleteByUserAndProvider removes a user's integration for a provider.
	DeleteByUserAndProvider(ctx context.Context, userID uuid.UUID, provider ProviderType) error
}
