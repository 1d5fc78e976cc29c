// Package persistence reads coaching sessions from the tenant's
// database. The engine never writes to the sessions table.
package persistence

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachflow/coachsync/internal/session/domain"
)

// PostgresSessionRepository implements SessionRepository using PostgreSQL.
type PostgresSessionRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresSessionRepository creates a new PostgreSQL session repository.
func NewPostgresSessionRepository(pool *pgxpool.Pool) *PostgresSessionRepository {
	return &PostgresSessionRepository{pool: pool}
}

// FindByID finds a session by ID, including soft-deleted rows.
func (r *PostgresSessionRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	query := `
		SELECT id, tenant_id, title, notes, coach_id, client_id,
		       client_name, client_email, location, scheduled_at,
		       duration_minutes, session_type, timezone, sync_to_calendar,
		       deleted_at
		FROM coaching_sessions
		WHERE id = $1
	`

	var (
		session   domain.Session
		notes     sql.NullString
		location  sql.NullString
		timezone  sql.NullString
		deletedAt sql.NullTime
	)
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&session.ID, &session.TenantID, &session.Title, &notes,
		&session.CoachID, &session.ClientID,
		&session.ClientName, &session.ClientEmail, &location,
		&session.ScheduledAt, &session.DurationMinutes,
		&session.Type, &timezone, &session.SyncToCalendar,
		&deletedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	session.Notes = notes.String
	session.Location = location.String
	session.Timezone = timezone.String
	if deletedAt.Valid {
		t := deletedAt.Time
		session.DeletedAt = &t
	}
	return &session, nil
}
