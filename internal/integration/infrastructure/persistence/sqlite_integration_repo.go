package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coachflow/coachsync/internal/integration/domain"
)

// SQLiteIntegrationRepository implements IntegrationRepository using SQLite.
type SQLiteIntegrationRepository struct {
	db *sql.DB
}

// NewSQLiteIntegrationRepository creates a new SQLite integration repository.
func NewSQLiteIntegrationRepository(db *sql.DB) *SQLiteIntegrationRepository {
	return &SQLiteIntegrationRepository{db: db}
}

// Save persists an integration (create or update), upserting on (user_id, provider).
func (r *SQLiteIntegrationRepository) Save(ctx context.Context, integration *domain.Integration) error {
	query := `
		INSERT INTO calendar_integrations (
			id, user_id, provider, access_token, refresh_token,
			token_type, expires_at, scopes, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			expires_at = excluded.expires_at,
			scopes = excluded.scopes,
			updated_at = excluded.updated_at
	`

	var expiresAt *string
	if !integration.ExpiresAt().IsZero() {
		t := integration.ExpiresAt().UTC().Format(time.RFC3339)
		expiresAt = &t
	}

	_, err := r.db.ExecContext(ctx, query,
		integration.ID().String(),
		integration.UserID().String(),
		integration.Provider().String(),
		integration.AccessToken(),
		integration.RefreshToken(),
		integration.TokenType(),
		expiresAt,
		strings.Join(integration.Scopes(), " "),
		integration.CreatedAt().Format(time.RFC3339),
		integration.UpdatedAt().Format(time.RFC3339),
	)
	return err
}

// FindByUserAndProvider finds the integration for a (user, provider) pair.
func (r *SQLiteIntegrationRepository) FindByUserAndProvider(ctx context.Context, userID uuid.UUID, provider domain.ProviderType) (*domain.Integration, error) {
	query := `
		SELECT id, user_id, provider, access_token, refresh_token,
		       token_type, expires_at, scopes, created_at, updated_at
		FROM calendar_integrations
		WHERE user_id = ? AND provider = ?
	`

	row := r.db.QueryRowContext(ctx, query, userID.String(), provider.String())
	integration, err := scanIntegrationRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return integration, err
}

// FindByUser finds all integrations for a user.
func (r *SQLiteIntegrationRepository) FindByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Integration, error) {
	query := `
		SELECT id, user_id, provider, access_token, refresh_token,
		       token_type, expires_at, scopes, created_at, updated_at
		FROM calendar_integrations
		WHERE user_id = ?
		ORDER BY provider
	`

	rows, err := r.db.QueryContext(ctx, query, userID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var integrations []*domain.Integration
	for rows.Next() {
		integration, err := scanIntegrationRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		integrations = append(integrations, integration)
	}
	return integrations, rows.Err()
}

// ExistsForAnyUser reports whether any of the users has an integration.
func (r *SQLiteIntegrationRepository) ExistsForAnyUser(ctx context.Context, userIDs []uuid.UUID) (bool, error) {
	if len(userIDs) == 0 {
		return false, nil
	}

	placeholders := make([]string, len(userIDs))
	args := make([]any, len(userIDs))
	for i, id := range userIDs {
		placeholders[i] = "?"
		args[i] = id.String()
	}
	query := fmt.Sprintf(
		`SELECT EXISTS (SELECT 1 FROM calendar_integrations WHERE user_id IN (%s))`,
		strings.Join(placeholders, ", "),
	)

	var exists int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&exists); err != nil {
		return false, err
	}
	return exists == 1, nil
}

// DeleteByUserAndProvider removes a user's integration for a provider.
func (r *SQLiteIntegrationRepository) DeleteByUserAndProvider(ctx context.Context, userID uuid.UUID, provider domain.ProviderType) error {
	query := `DELETE FROM calendar_integrations WHERE user_id = ? AND provider = ?`
	_, err := r.db.ExecContext(ctx, query, userID.String(), provider.String())
	return err
}

func scanIntegrationRow(scan func(dest ...any) error) (*domain.Integration, error) {
	var (
		idStr        string
		userIDStr    string
		provider     string
		accessToken  []byte
		refreshToken []byte
		tokenType    string
		expiresAt    sql.NullString
		scopes       string
		createdAtStr string
		updatedAtStr string
	)

	err := scan(
		&idStr, &userIDStr, &provider, &accessToken, &refreshToken,
		&tokenType, &expiresAt, &scopes, &createdAtStr, &updatedAtStr,
	)
	if err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse integration id: %w", err)
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}

	var expiry time.Time
	if expiresAt.Valid && expiresAt.String != "" {
		expiry, err = time.Parse(time.RFC3339, expiresAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse expires_at: %w", err)
		}
	}
	createdAt, err := time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return domain.RehydrateIntegration(
		id, userID,
		domain.ProviderType(provider),
		accessToken, refreshToken,
		tokenType, expiry,
		splitScopes(scopes),
		createdAt, updatedAt,
	), nil
}
