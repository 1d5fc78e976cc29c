package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coachflow/coachsync/internal/calsync/domain"
	integrationDomain "github.com/coachflow/coachsync/internal/integration/domain"
)

// SQLiteEventLinkRepository implements EventLinkRepository using SQLite.
type SQLiteEventLinkRepository struct {
	db *sql.DB
}

// NewSQLiteEventLinkRepository creates a new SQLite event link repository.
func NewSQLiteEventLinkRepository(db *sql.DB) *SQLiteEventLinkRepository {
	return &SQLiteEventLinkRepository{db: db}
}

// Save persists an event link (create or update), upserting on
// (session_id, user_id, provider).
func (r *SQLiteEventLinkRepository) Save(ctx context.Context, link *domain.EventLink) error {
	query := `
		INSERT INTO calendar_event_links (
			id, session_id, user_id, provider, event_id, meeting_url,
			status, sync_error, synced_at, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, user_id, provider) DO UPDATE SET
			event_id = excluded.event_id,
			meeting_url = excluded.meeting_url,
			status = excluded.status,
			sync_error = excluded.sync_error,
			synced_at = excluded.synced_at,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		link.ID().String(),
		link.SessionID().String(),
		link.UserID().String(),
		link.Provider().String(),
		link.EventID(),
		link.MeetingURL(),
		string(link.Status()),
		link.SyncError(),
		link.SyncedAt().UTC().Format(time.RFC3339),
		link.CreatedAt().Format(time.RFC3339),
		link.UpdatedAt().Format(time.RFC3339),
	)
	return err
}

// FindBySessionUserProvider finds the link for one (session, user, provider) tuple.
func (r *SQLiteEventLinkRepository) FindBySessionUserProvider(ctx context.Context, sessionID, userID uuid.UUID, provider integrationDomain.ProviderType) (*domain.EventLink, error) {
	query := `
		SELECT id, session_id, user_id, provider, event_id, meeting_url,
		       status, sync_error, synced_at, created_at, updated_at
		FROM calendar_event_links
		WHERE session_id = ? AND user_id = ? AND provider = ?
	`

	row := r.db.QueryRowContext(ctx, query, sessionID.String(), userID.String(), provider.String())
	link, err := scanEventLinkRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return link, err
}

// FindBySession finds all links for a session.
func (r *SQLiteEventLinkRepository) FindBySession(ctx context.Context, sessionID uuid.UUID) ([]*domain.EventLink, error) {
	query := `
		SELECT id, session_id, user_id, provider, event_id, meeting_url,
		       status, sync_error, synced_at, created_at, updated_at
		FROM calendar_event_links
		WHERE session_id = ?
		ORDER BY user_id, provider
	`

	rows, err := r.db.QueryContext(ctx, query, sessionID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []*domain.EventLink
	for rows.Next() {
		link, err := scanEventLinkRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

// ExistsForSession reports whether any link exists for the session.
func (r *SQLiteEventLinkRepository) ExistsForSession(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM calendar_event_links WHERE session_id = ?)`

	var exists int
	if err := r.db.QueryRowContext(ctx, query, sessionID.String()).Scan(&exists); err != nil {
		return false, err
	}
	return exists == 1, nil
}

// MarkAllFailedForSession sets every live link of the session to
// failed, recording the cause.
func (r *SQLiteEventLinkRepository) MarkAllFailedForSession(ctx context.Context, sessionID uuid.UUID, cause string) error {
	query := `
		UPDATE calendar_event_links
		SET status = ?, sync_error = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		WHERE session_id = ? AND status IN (?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		string(domain.StatusFailed),
		cause,
		sessionID.String(),
		string(domain.StatusCreated),
		string(domain.StatusUpdated),
	)
	return err
}

func scanEventLinkRow(scan func(dest ...any) error) (*domain.EventLink, error) {
	var (
		idStr        string
		sessionIDStr string
		userIDStr    string
		provider     string
		eventID      string
		meetingURL   string
		status       string
		syncError    string
		syncedAtStr  string
		createdAtStr string
		updatedAtStr string
	)

	err := scan(
		&idStr, &sessionIDStr, &userIDStr, &provider, &eventID, &meetingURL,
		&status, &syncError, &syncedAtStr, &createdAtStr, &updatedAtStr,
	)
	if err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse link id: %w", err)
	}
	sessionID, err := uuid.Parse(sessionIDStr)
	if err != nil {
		return nil, fmt.Errorf("parse session id: %w", err)
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}

	syncedAt, err := time.Parse(time.RFC3339, syncedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parse synced_at: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
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
