package persistence

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/coachflow/coachsync/internal/calsync/domain"
	integrationDomain "github.com/coachflow/coachsync/internal/integration/domain"
	"github.com/coachflow/coachsync/internal/shared/infrastructure/migrations"
)

func setupLinkTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	db.SetMaxOpenConns(1)
	require.NoError(t, migrations.RunSQLiteMigrations(context.Background(), db))
	return db
}

func newTestLink(t *testing.T, sessionID, userID uuid.UUID, provider integrationDomain.ProviderType) *domain.EventLink {
	t.Helper()
	link, err := domain.NewEventLink(sessionID, userID, provider, "evt-"+uuid.NewString()[:8], "https://meet.example.com/room")
	require.NoError(t, err)
	return link
}

func TestSQLiteEventLinkRepository_SaveAndFind(t *testing.T) {
	repo := NewSQLiteEventLinkRepository(setupLinkTestDB(t))
	ctx := context.Background()
	sessionID, userID := uuid.New(), uuid.New()

	link := newTestLink(t, sessionID, userID, integrationDomain.ProviderGoogle)
	require.NoError(t, repo.Save(ctx, link))

	found, err := repo.FindBySessionUserProvider(ctx, sessionID, userID, integrationDomain.ProviderGoogle)
	require.NoError(t, err)
	require.NotNil(t, found)

	assert.Equal(t, link.ID(), found.ID())
	assert.Equal(t, link.EventID(), found.EventID())
	assert.Equal(t, "https://meet.example.com/room", found.MeetingURL())
	assert.Equal(t, domain.StatusCreated, found.Status())
	assert.False(t, found.SyncedAt().IsZero())
}

func TestSQLiteEventLinkRepository_FindMissing(t *testing.T) {
	repo := NewSQLiteEventLinkRepository(setupLinkTestDB(t))

	found, err := repo.FindBySessionUserProvider(context.Background(), uuid.New(), uuid.New(), integrationDomain.ProviderGoogle)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestSQLiteEventLinkRepository_SaveUpserts(t *testing.T) {
	repo := NewSQLiteEventLinkRepository(setupLinkTestDB(t))
	ctx := context.Background()
	sessionID, userID := uuid.New(), uuid.New()

	link := newTestLink(t, sessionID, userID, integrationDomain.ProviderGoogle)
	require.NoError(t, repo.Save(ctx, link))

	link.MarkUpdated("https://meet.example.com/rescheduled")
	require.NoError(t, repo.Save(ctx, link))

	all, err := repo.FindBySession(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, all, 1, "(session, user, provider) is unique")
	assert.Equal(t, domain.StatusUpdated, all[0].Status())
	assert.Equal(t, "https://meet.example.com/rescheduled", all[0].MeetingURL())
}

func TestSQLiteEventLinkRepository_FindBySession(t *testing.T) {
	repo := NewSQLiteEventLinkRepository(setupLinkTestDB(t))
	ctx := context.Background()
	sessionID := uuid.New()

	require.NoError(t, repo.Save(ctx, newTestLink(t, sessionID, uuid.New(), integrationDomain.ProviderGoogle)))
	require.NoError(t, repo.Save(ctx, newTestLink(t, sessionID, uuid.New(), integrationDomain.ProviderMicrosoft)))
	require.NoError(t, repo.Save(ctx, newTestLink(t, uuid.New(), uuid.New(), integrationDomain.ProviderGoogle)))

	links, err := repo.FindBySession(ctx, sessionID)
	require.NoError(t, err)
	assert.Len(t, links, 2)
}

func TestSQLiteEventLinkRepository_ExistsForSession(t *testing.T) {
	repo := NewSQLiteEventLinkRepository(setupLinkTestDB(t))
	ctx := context.Background()
	sessionID := uuid.New()

	exists, err := repo.ExistsForSession(ctx, sessionID)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, repo.Save(ctx, newTestLink(t, sessionID, uuid.New(), integrationDomain.ProviderGoogle)))

	exists, err = repo.ExistsForSession(ctx, sessionID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSQLiteEventLinkRepository_MarkAllFailedForSession(t *testing.T) {
	repo := NewSQLiteEventLinkRepository(setupLinkTestDB(t))
	ctx := context.Background()
	sessionID := uuid.New()

	created := newTestLink(t, sessionID, uuid.New(), integrationDomain.ProviderGoogle)
	require.NoError(t, repo.Save(ctx, created))

	updated := newTestLink(t, sessionID, uuid.New(), integrationDomain.ProviderMicrosoft)
	updated.MarkUpdated("")
	require.NoError(t, repo.Save(ctx, updated))

	deleted := newTestLink(t, sessionID, uuid.New(), integrationDomain.ProviderGoogle)
	deleted.MarkDeleted()
	require.NoError(t, repo.Save(ctx, deleted))

	other := newTestLink(t, uuid.New(), uuid.New(), integrationDomain.ProviderGoogle)
	require.NoError(t, repo.Save(ctx, other))

	require.NoError(t, repo.MarkAllFailedForSession(ctx, sessionID, "google: 503 backend error"))

	links, err := repo.FindBySession(ctx, sessionID)
	require.NoError(t, err)
	statuses := map[domain.SyncStatus]int{}
	for _, link := range links {
		statuses[link.Status()]++
		if link.Status() == domain.StatusFailed {
			assert.Equal(t, "google: 503 backend error", link.SyncError())
		} else {
			assert.Empty(t, link.SyncError())
		}
	}
	assert.Equal(t, 2, statuses[domain.StatusFailed], "live links become failed")
	assert.Equal(t, 1, statuses[domain.StatusDeleted], "deleted links keep their status")

	untouched, err := repo.FindBySession(ctx, other.SessionID())
	require.NoError(t, err)
	require.Len(t, untouched, 1)
	assert.Equal(t, domain.StatusCreated, untouched[0].Status())
}
