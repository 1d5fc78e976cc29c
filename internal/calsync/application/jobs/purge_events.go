package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/coachflow/coachsync/internal/calsync/application"
	integrationDomain "github.com/coachflow/coachsync/internal/integration/domain"
)

// PurgeBackoff is the retry schedule for bulk deletion jobs. Shorter
// than the sync schedule since deletions have nothing to coordinate.
var PurgeBackoff = []time.Duration{30 * time.Second, 120 * time.Second, 300 * time.Second}

// PurgeEventsHandler deletes remote calendar events whose owning
// sessions are already gone. Each event is handled independently; one
// broken integration never blocks the rest of the batch.
type PurgeEventsHandler struct {
	registry *application.AdapterRegistry
	logger   *slog.Logger
}

// NewPurgeEventsHandler creates a bulk deletion job handler.
func NewPurgeEventsHandler(registry *application.AdapterRegistry, logger *slog.Logger) *PurgeEventsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PurgeEventsHandler{registry: registry, logger: logger}
}

// Spec returns the handler's job spec with its retry policy.
func (h *PurgeEventsHandler) Spec(maxAttempts int) JobSpec {
	return JobSpec{
		Handle:      h.Handle,
		MaxAttempts: maxAttempts,
		Backoff:     PurgeBackoff,
		OnExhausted: h.OnExhausted,
	}
}

// Handle deletes each orphaned event in turn. The attempt fails (and
// retries) only when every deletion in the batch failed.
func (h *PurgeEventsHandler) Handle(ctx context.Context, env *Envelope) error {
	var job PurgeEventsJob
	if err := json.Unmarshal(env.Payload, &job); err != nil {
		h.logger.Error("discarding malformed purge job",
			"job_id", env.JobID,
			"error", err,
		)
		return nil
	}
	if len(job.Events) == 0 {
		return nil
	}

	failed := 0
	for _, orphan := range job.Events {
		if err := h.deleteOne(ctx, orphan); err != nil {
			failed++
			h.logger.Warn("orphaned event deletion failed",
				"event_id", orphan.EventID,
				"calendar_id", orphan.CalendarID,
				"provider", orphan.Provider,
				"user_id", orphan.UserID,
				"error", err,
			)
		}
	}

	if failed == len(job.Events) {
		return fmt.Errorf("all %d orphaned event deletions failed", failed)
	}
	h.logger.Info("orphaned events purged",
		"total", len(job.Events),
		"failed", failed,
	)
	return nil
}

func (h *PurgeEventsHandler) deleteOne(ctx context.Context, orphan OrphanedEvent) error {
	provider := integrationDomain.ProviderType(orphan.Provider)
	if !provider.IsValid() {
		return fmt.Errorf("unknown provider %q", orphan.Provider)
	}
	adapter, err := h.registry.Adapter(ctx, provider, orphan.UserID)
	if err != nil {
		return fmt.Errorf("integration not found: %w", err)
	}
	return adapter.DeleteEvent(ctx, orphan.EventID)
}

// OnExhausted acknowledges the remaining events as permanently orphaned.
func (h *PurgeEventsHandler) OnExhausted(ctx context.Context, env *Envelope, cause error) {
	h.logger.Error("orphaned event purge permanently failed, events remain on remote calendars",
		"job_id", env.JobID,
		"attempts", env.Attempt,
		"error", cause,
	)
}
