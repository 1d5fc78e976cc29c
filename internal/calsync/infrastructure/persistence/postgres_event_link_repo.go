// Package persistence stores calendar event links in the tenant's
// database.
package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachflow/coachsync/internal/calsync/domain"
	integrationDomain "github.com/coachflow/coachsync/internal/integration/domain"
)

// PostgresEventLinkRepository implements EventLinkRepository using PostgreSQL.
type PostgresEventLinkRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresEventLinkRepository creates a new PostgreSQL event link repository.
func NewPostgresEventLinkRepository(pool *pgxpool.Pool) *PostgresEventLinkRepository {
	return &PostgresEventLinkRepository{pool: pool}
}

// Save persists an event link (create or update), upserting on
// (session_id, user_id, provider).
func (r *PostgresEventLinkRepository) Save(ctx context.Context, link *domain.EventLink) error {
	query := `
		INSERT INTO calendar_event_links (
			id, session_id, user_id, provider, event_id, meeting_url,
			status, sync_error, synced_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (session_id, user_id, provider) DO UPDATE SET
			event_id = EXCLUDED.event_id,
			meeting_url = EXCLUDED.meeting_url,
			status = EXCLUDED.status,
			sync_error = EXCLUDED.sync_error,
			synced_at = EXCLUDED.synced_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.pool.Exec(ctx, query,
		link.ID(),
		link.SessionID(),
		link.UserID(),
		link.Provider().String(),
		link.EventID(),
		link.MeetingURL(),
		string(link.Status()),
		link.SyncError(),
		link.SyncedAt(),
		link.CreatedAt(),
		link.UpdatedAt(),
	)
	return err
}

// FindBySessionUserProvider finds the link for one (session, user, provider) tuple.
func (r *PostgresEventLinkRepository) FindBySessionUserProvider(ctx context.Context, sessionID, userID uuid.UUID, provider integrationDomain.ProviderType) (*domain.EventLink, error) {
	query := `
		SELECT id, session_id, user_id, provider, event_id, meeting_url,
		       status, sync_error, synced_at, created_at, updated_at
		FROM calendar_event_links
		WHERE session_id = $1 AND user_id = $2 AND provider = $3
	`

	row := r.pool.QueryRow(ctx, query, sessionID, userID, provider.String())
	link, err := r.scanLink(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return link, err
}

// FindBySession finds all links for a session.
func (r *PostgresEventLinkRepository) FindBySession(ctx context.Context, sessionID uuid.UUID) ([]*domain.EventLink, error) {
	query := `
		SELECT id, session_id, user_id, provider, event_id, meeting_url,
		       status, sync_error, synced_at, created_at, updated_at
		FROM calendar_event_links
		WHERE session_id = $1
		ORDER BY user_id, provider
	`

	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []*domain.EventLink
	for rows.Next() {
		link, err := r.scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

// ExistsForSession reports whether any link exists for the session.
func (r *PostgresEventLinkRepository) ExistsForSession(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM calendar_event_links WHERE session_id = $1)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, sessionID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// MarkAllFailedForSession sets every live link of the session to
// failed, recording the cause.
func (r *PostgresEventLinkRepository) MarkAllFailedForSession(ctx context.Context, sessionID uuid.UUID, cause string) error {
	query := `
		UPDATE calendar_event_links
		SET status = $1, sync_error = $2, updated_at = NOW()
		WHERE session_id = $3 AND status IN ($4, $5)
	`
	_, err := r.pool.Exec(ctx, query,
		string(domain.StatusFailed),
		cause,
		sessionID,
		string(domain.StatusCreated),
		string(domain.StatusUpdated),
	)
	return err
}

func (r *PostgresEventLinkRepository) scanLink(row pgx.Row) (*domain.EventLink, error) {
	var (
		id         uuid.UUID
		sessionID  uuid.UUID
		userID     uuid.UUID
		provider   string
		eventID    string
		meetingURL string
		status     string
		syncError  string
		syncedAt   time.Time
		createdAt  time.Time
		updatedAt  time.Time
	)

	err := row.Scan(
		&id, &sessionID, &userID, &provider, &eventID, &meetingURL,
		&status, &syncError, &syncedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	return domain.RehydrateEventLink(
		id, sessionID, userID,
		integrationDomain.ProviderType(provider),
		eventID, meetingURL,
		domain.SyncStatus(status),
		syncError,
		syncedAt, createdAt, updatedAt,
	), nil
}
