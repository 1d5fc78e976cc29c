package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coachflow/coachsync/internal/session/domain"
)

// SQLiteSessionRepository implements SessionRepository using SQLite.
type SQLiteSessionRepository struct {
	db *sql.DB
}

// NewSQLiteSessionRepository creates a new SQLite session repository.
func NewSQLiteSessionRepository(db *sql.DB) *SQLiteSessionRepository {
	return &SQLiteSessionRepository{db: db}
}

// FindByID finds a session by ID, including soft-deleted rows.
func (r *SQLiteSessionRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	query := `
		SELECT id, tenant_id, title, notes, coach_id, client_id,
		       client_name, client_email, location, scheduled_at,
		       duration_minutes, session_type, timezone, sync_to_calendar,
		       deleted_at
		FROM coaching_sessions
		WHERE id = ?
	`

	var (
		idStr          string
		tenantID       string
		title          string
		notes          sql.NullString
		coachIDStr     string
		clientIDStr    string
		clientName     string
		clientEmail    string
		location       sql.NullString
		scheduledAtStr string
		duration       int
		sessionType    string
		timezone       sql.NullString
		syncToCalendar int
		deletedAt      sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, id.String()).Scan(
		&idStr, &tenantID, &title, &notes, &coachIDStr, &clientIDStr,
		&clientName, &clientEmail, &location, &scheduledAtStr,
		&duration, &sessionType, &timezone, &syncToCalendar,
		&deletedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	sessionID, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse session id: %w", err)
	}
	coachID, err := uuid.Parse(coachIDStr)
	if err != nil {
		return nil, fmt.Errorf("parse coach id: %w", err)
	}
	clientID, err := uuid.Parse(clientIDStr)
	if err != nil {
		return nil, fmt.Errorf("parse client id: %w", err)
	}
	scheduledAt, err := time.Parse(time.RFC3339, scheduledAtStr)
	if err != nil {
		return nil, fmt.Errorf("parse scheduled_at: %w", err)
	}

	session := &domain.Session{
		ID:              sessionID,
		TenantID:        tenantID,
		Title:           title,
		Notes:           notes.String,
		CoachID:         coachID,
		ClientID:        clientID,
		ClientName:      clientName,
		ClientEmail:     clientEmail,
		Location:        location.String,
		ScheduledAt:     scheduledAt,
		DurationMinutes: duration,
		Type:            domain.SessionType(sessionType),
		Timezone:        timezone.String,
		SyncToCalendar:  syncToCalendar == 1,
	}
	if deletedAt.Valid && deletedAt.String != "" {
		t, err := time.Parse(time.RFC3339, deletedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse deleted_at: %w", err)
		}
		session.DeletedAt = &t
	}
	return session, nil
}
