// Package app wires the engine's components for the worker and CLI.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachflow/coachsync/internal/calsync/application"
	"github.com/coachflow/coachsync/internal/calsync/application/jobs"
	"github.com/coachflow/coachsync/internal/calsync/application/subscribers"
	calsyncDomain "github.com/coachflow/coachsync/internal/calsync/domain"
	"github.com/coachflow/coachsync/internal/calsync/infrastructure/debounce"
	"github.com/coachflow/coachsync/internal/calsync/infrastructure/google"
	"github.com/coachflow/coachsync/internal/calsync/infrastructure/microsoft"
	calsyncPersistence "github.com/coachflow/coachsync/internal/calsync/infrastructure/persistence"
	"github.com/coachflow/coachsync/internal/calsync/infrastructure/providerhttp"
	"github.com/coachflow/coachsync/internal/calsync/infrastructure/queue"
	"github.com/coachflow/coachsync/internal/integration/application/tokens"
	integrationDomain "github.com/coachflow/coachsync/internal/integration/domain"
	integrationPersistence "github.com/coachflow/coachsync/internal/integration/infrastructure/persistence"
	sessionDomain "github.com/coachflow/coachsync/internal/session/domain"
	sessionPersistence "github.com/coachflow/coachsync/internal/session/infrastructure/persistence"
	"github.com/coachflow/coachsync/internal/shared/infrastructure/crypto"
	"github.com/coachflow/coachsync/internal/shared/infrastructure/database"
	"github.com/coachflow/coachsync/internal/shared/infrastructure/eventbus"
	"github.com/coachflow/coachsync/internal/shared/infrastructure/migrations"
	"github.com/coachflow/coachsync/pkg/config"
)

// JobQueue is the queue surface the container exposes: enqueue for
// producers, a blocking consume loop for the worker.
type JobQueue interface {
	jobs.Queue
	Start(ctx context.Context, handle queue.HandleFunc) error
	Close() error
}

// Container holds all wired components.
type Container struct {
	Config *config.Config
	Logger *slog.Logger

	IntegrationRepo integrationDomain.IntegrationRepository
	LinkRepo        calsyncDomain.EventLinkRepository
	SessionRepo     sessionDomain.SessionRepository

	TokenService *tokens.Service
	Registry     *application.AdapterRegistry
	Orchestrator *application.Orchestrator

	Publisher eventbus.DomainPublisher
	JobQueue  JobQueue
	Runner    *jobs.Runner

	SessionSubscriber *subscribers.SessionSyncSubscriber
	Consumer          eventbus.Consumer

	pgPool    *pgxpool.Pool
	sqliteDB  *sql.DB
	rawPub    eventbus.Publisher
	debouncer *debounce.RedisDebouncer
}

// NewContainer builds the full dependency graph. In development, missing
// external services (RabbitMQ, Redis) degrade to in-process fallbacks;
// in production they are fatal.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Container{Config: cfg, Logger: logger}

	encrypter, err := newEncrypter(cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := c.initStorage(ctx); err != nil {
		return nil, err
	}

	c.TokenService = tokens.NewService(cfg, c.IntegrationRepo, encrypter, logger)
	c.Registry = newAdapterRegistry(cfg, c.TokenService, logger)
	c.Orchestrator = application.NewOrchestrator(c.IntegrationRepo, c.LinkRepo, c.Registry, logger)

	if err := c.initMessaging(cfg, logger); err != nil {
		c.Close()
		return nil, err
	}

	c.Runner = jobs.NewRunner(c.JobQueue, logger)
	syncHandler := jobs.NewSessionSyncHandler(c.SessionRepo, c.Orchestrator, c.LinkRepo, c.Publisher, logger)
	c.Runner.Register(jobs.JobSessionSync, syncHandler.Spec(cfg.SyncJobMaxAttempts))
	purgeHandler := jobs.NewPurgeEventsHandler(c.Registry, logger)
	c.Runner.Register(jobs.JobPurgeEvents, purgeHandler.Spec(cfg.PurgeJobMaxAttempts))

	debouncer, err := newDebouncer(cfg, logger)
	if err != nil {
		c.Close()
		return nil, err
	}
	if rd, ok := debouncer.(*debounce.RedisDebouncer); ok {
		c.debouncer = rd
	}

	c.SessionSubscriber = subscribers.NewSessionSyncSubscriber(
		c.IntegrationRepo, c.LinkRepo, c.JobQueue, debouncer,
		cfg.CreateSyncDelay, cfg.UpdateSyncDelay, logger,
	)
	c.Consumer.RegisterConsumer(c.SessionSubscriber)

	return c, nil
}

func newEncrypter(cfg *config.Config, logger *slog.Logger) (crypto.Encrypter, error) {
	if cfg.EncryptionKey != "" {
		return crypto.NewAESGCMFromBase64Key(cfg.EncryptionKey)
	}
	if cfg.IsProduction() {
		return nil, fmt.Errorf("COACHSYNC_ENCRYPTION_KEY is required in production")
	}
	logger.Warn("no encryption key configured, storing tokens in plaintext")
	return crypto.PlaintextEncrypter{}, nil
}

func (c *Container) initStorage(ctx context.Context) error {
	if c.Config.UsesPostgres() {
		pool, err := pgxpool.New(ctx, c.Config.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return fmt.Errorf("ping database: %w", err)
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return fmt.Errorf("run migrations: %w", err)
		}
		c.pgPool = pool
		c.IntegrationRepo = integrationPersistence.NewPostgresIntegrationRepository(pool)
		c.LinkRepo = calsyncPersistence.NewPostgresEventLinkRepository(pool)
		c.SessionRepo = sessionPersistence.NewPostgresSessionRepository(pool)
		c.Logger.Info("connected to PostgreSQL")
		return nil
	}

	db, err := database.OpenSQLite(ctx, c.Config.SQLitePath)
	if err != nil {
		return err
	}
	if err := migrations.RunSQLiteMigrations(ctx, db); err != nil {
		_ = db.Close()
		return fmt.Errorf("run migrations: %w", err)
	}
	c.sqliteDB = db
	c.IntegrationRepo = integrationPersistence.NewSQLiteIntegrationRepository(db)
	c.LinkRepo = calsyncPersistence.NewSQLiteEventLinkRepository(db)
	c.SessionRepo = sessionPersistence.NewSQLiteSessionRepository(db)
	c.Logger.Info("using SQLite database", "path", c.Config.SQLitePath)
	return nil
}

func newAdapterRegistry(cfg *config.Config, tokenService *tokens.Service, logger *slog.Logger) *application.AdapterRegistry {
	registry := application.NewAdapterRegistry()

	if cfg.Google.Configured() {
		registry.Register(integrationDomain.ProviderGoogle, func(ctx context.Context, userID uuid.UUID) (application.Adapter, error) {
			source, err := tokenService.Source(ctx, userID, integrationDomain.ProviderGoogle)
			if err != nil {
				return nil, err
			}
			client := providerhttp.NewClient(integrationDomain.ProviderGoogle.String(), source, logger)
			return google.NewAdapter(client, cfg.GoogleCalendarID, logger), nil
		})
	}
	if cfg.Microsoft.Configured() {
		registry.Register(integrationDomain.ProviderMicrosoft, func(ctx context.Context, userID uuid.UUID) (application.Adapter, error) {
			source, err := tokenService.Source(ctx, userID, integrationDomain.ProviderMicrosoft)
			if err != nil {
				return nil, err
			}
			client := providerhttp.NewClient(integrationDomain.ProviderMicrosoft.String(), source, logger)
			return microsoft.NewAdapter(client, logger), nil
		})
	}

	return registry
}

// initMessaging connects the publisher, job queue and event consumer,
// falling back to in-process implementations in development.
func (c *Container) initMessaging(cfg *config.Config, logger *slog.Logger) error {
	rabbitPub, err := eventbus.NewRabbitMQPublisher(cfg.RabbitMQURL, logger)
	if err != nil {
		if cfg.IsProduction() {
			return fmt.Errorf("connect to RabbitMQ: %w", err)
		}
		logger.Warn("RabbitMQ not available, using in-process messaging", "error", err)

		bus := eventbus.NewInProcessEventBus(logger)
		c.rawPub = bus
		c.Publisher = bus
		c.Consumer = bus
		c.JobQueue = queue.NewInMemoryJobQueue(logger)
		return nil
	}

	c.rawPub = rabbitPub
	c.Publisher = eventbus.NewDomainEventPublisher(rabbitPub)

	jobQueue, err := queue.NewRabbitMQJobQueue(cfg.RabbitMQURL, logger)
	if err != nil {
		return fmt.Errorf("connect job queue: %w", err)
	}
	c.JobQueue = jobQueue

	consumer, err := eventbus.NewRabbitMQConsumer(eventbus.RabbitMQConsumerConfig{
		URL:    cfg.RabbitMQURL,
		Logger: logger,
	}, eventbus.NewConsumerRegistry(logger))
	if err != nil {
		return fmt.Errorf("connect event consumer: %w", err)
	}
	c.Consumer = consumer
	return nil
}

func newDebouncer(cfg *config.Config, logger *slog.Logger) (subscribers.Debouncer, error) {
	if cfg.RedisURL == "" {
		logger.Warn("Redis not configured, sync triggers are not debounced")
		return debounce.NoopDebouncer{}, nil
	}
	return debounce.NewRedisDebouncer(cfg.RedisURL, cfg.DebounceTTL, logger)
}

// Ping verifies the data store connection.
func (c *Container) Ping(ctx context.Context) error {
	if c.pgPool != nil {
		return c.pgPool.Ping(ctx)
	}
	if c.sqliteDB != nil {
		return c.sqliteDB.PingContext(ctx)
	}
	return nil
}

// Close releases all held connections.
func (c *Container) Close() {
	if c.Consumer != nil {
		_ = c.Consumer.Close()
	}
	if c.JobQueue != nil {
		_ = c.JobQueue.Close()
	}
	if c.rawPub != nil {
		_ = c.rawPub.Close()
	}
	if c.debouncer != nil {
		_ = c.debouncer.Close()
	}
	if c.pgPool != nil {
		c.pgPool.Close()
	}
	if c.sqliteDB != nil {
		_ = c.sqliteDB.Close()
	}
}
