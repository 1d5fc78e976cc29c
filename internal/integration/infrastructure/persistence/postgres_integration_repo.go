package persistence

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachflow/coachsync/internal/integration/domain"
)

// PostgresIntegrationRepository implements IntegrationRepository using PostgreSQL.
type PostgresIntegrationRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresIntegrationRepository creates a new PostgreSQL integration repository.
func NewPostgresIntegrationRepository(pool *pgxpool.Pool) *PostgresIntegrationRepository {
	return &PostgresIntegrationRepository{pool: pool}
}

// Save persists an integration (create or update), upserting on (user_id, provider).
func (r *PostgresIntegrationRepository) Save(ctx context.Context, integration *domain.Integration) error {
	query := `
		INSERT INTO calendar_integrations (
			id, user_id, provider, access_token, refresh_token,
			token_type, expires_at, scopes, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_type = EXCLUDED.token_type,
			expires_at = EXCLUDED.expires_at,
			scopes = EXCLUDED.scopes,
			updated_at = EXCLUDED.updated_at
	`

	var expiresAt *time.Time
	if !integration.ExpiresAt().IsZero() {
		t := integration.ExpiresAt()
		expiresAt = &t
	}

	_, err := r.pool.Exec(ctx, query,
		integration.ID(),
		integration.UserID(),
		integration.Provider().String(),
		integration.AccessToken(),
		integration.RefreshToken(),
		integration.TokenType(),
		expiresAt,
		strings.Join(integration.Scopes(), " "),
		integration.CreatedAt(),
		integration.UpdatedAt(),
	)
	return err
}

// FindByUserAndProvider finds the integration for a (user, provider) pair.
func (r *PostgresIntegrationRepository) FindByUserAndProvider(ctx context.Context, userID uuid.UUID, provider domain.ProviderType) (*domain.Integration, error) {
	query := `
		SELECT id, user_id, provider, access_token, refresh_token,
		       token_type, expires_at, scopes, created_at, updated_at
		FROM calendar_integrations
		WHERE user_id = $1 AND provider = $2
	`

	row := r.pool.QueryRow(ctx, query, userID, provider.String())
	return r.scanIntegration(row)
}

// FindByUser finds all integrations for a user.
func (r *PostgresIntegrationRepository) FindByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Integration, error) {
	query := `
		SELECT id, user_id, provider, access_token, refresh_token,
		       token_type, expires_at, scopes, created_at, updated_at
		FROM calendar_integrations
		WHERE user_id = $1
		ORDER BY provider
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var integrations []*domain.Integration
	for rows.Next() {
		integration, err := r.scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		integrations = append(integrations, integration)
	}
	return integrations, rows.Err()
}

// ExistsForAnyUser reports whether any of the users has an integration.
func (r *PostgresIntegrationRepository) ExistsForAnyUser(ctx context.Context, userIDs []uuid.UUID) (bool, error) {
	if len(userIDs) == 0 {
		return false, nil
	}
	query := `SELECT EXISTS (SELECT 1 FROM calendar_integrations WHERE user_id = ANY($1))`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, userIDs).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// DeleteByUserAndProvider removes a user's integration for a provider.
func (r *PostgresIntegrationRepository) DeleteByUserAndProvider(ctx context.Context, userID uuid.UUID, provider domain.ProviderType) error {
	query := `DELETE FROM calendar_integrations WHERE user_id = $1 AND provider = $2`
	_, err := r.pool.Exec(ctx, query, userID, provider.String())
	return err
}

func (r *PostgresIntegrationRepository) scanIntegration(row pgx.Row) (*domain.Integration, error) {
	var (
		id           uuid.UUID
		userID       uuid.UUID
		provider     string
		accessToken  []byte
		refreshToken []byte
		tokenType    string
		expiresAt    sql.NullTime
		scopes       string
		createdAt    time.Time
		updatedAt    time.Time
	)

	err := row.Scan(
		&id, &userID, &provider, &accessToken, &refreshToken,
		&tokenType, &expiresAt, &scopes, &createdAt, &updatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return domain.RehydrateIntegration(
		id, userID,
		domain.ProviderType(provider),
		accessToken, refreshToken,
		tokenType,
		expiresAt.Time,
		splitScopes(scopes),
		createdAt, updatedAt,
	), nil
}

func splitScopes(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Fields(raw)
}
