package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	calsyncDomain "github.com/coachflow/coachsync/internal/calsync/domain"
	integrationDomain "github.com/coachflow/coachsync/internal/integration/domain"
	sessionDomain "github.com/coachflow/coachsync/internal/session/domain"
)

// PairResult is the outcome of one (user, provider) pair within a sync run.
type PairResult struct {
	UserID     uuid.UUID
	Provider   integrationDomain.ProviderType
	Success    bool
	EventID    string
	MeetingURL string
	Err        error
}

// AllFailed reports whether every attempted pair failed. An empty result
// set (nobody has an integration) is not a failure.
func AllFailed(results []PairResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if r.Success {
			return false
		}
	}
	return true
}

// SucceededCount returns how many pairs succeeded.
func SucceededCount(results []PairResult) int {
	n := 0
	for _, r := range results {
		if r.Success {
			n++
		}
	}
	return n
}

// Orchestrator fans a session change out to every connected
// (user, provider) pair. Failure isolation is total: a pair's error is
// captured in its result entry and never aborts the other pairs.
type Orchestrator struct {
	integrations integrationDomain.IntegrationRepository
	links        calsyncDomain.EventLinkRepository
	registry     *AdapterRegistry
	logger       *slog.Logger
}

// NewOrchestrator creates a sync orchestrator.
func NewOrchestrator(
	integrations integrationDomain.IntegrationRepository,
	links calsyncDomain.EventLinkRepository,
	registry *AdapterRegistry,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		integrations: integrations,
		links:        links,
		registry:     registry,
		logger:       logger,
	}
}

// SyncSession dispatches the action to every integration of the
// session's coach and client. The returned slice holds one entry per
// attempted (user, provider) pair; a session whose participants have no
// integrations yields an empty slice and no error.
func (o *Orchestrator) SyncSession(ctx context.Context, session *sessionDomain.Session, action SyncAction) ([]PairResult, error) {
	if !action.IsValid() {
		return nil, fmt.Errorf("%w: %q", calsyncDomain.ErrUnsupportedAction, action)
	}

	var results []PairResult
	for _, userID := range candidateUsers(session) {
		integrations, err := o.integrations.FindByUser(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("find integrations for user %s: %w", userID, err)
		}
		for _, integration := range integrations {
			results = append(results, o.syncPair(ctx, session, action, userID, integration.Provider()))
		}
	}

	o.logger.Info("session sync completed",
		"session_id", session.ID,
		"action", action,
		"pairs", len(results),
		"succeeded", SucceededCount(results),
	)
	return results, nil
}

func candidateUsers(session *sessionDomain.Session) []uuid.UUID {
	users := make([]uuid.UUID, 0, 2)
	if session.CoachID != uuid.Nil {
		users = append(users, session.CoachID)
	}
	if session.ClientID != uuid.Nil && session.ClientID != session.CoachID {
		users = append(users, session.ClientID)
	}
	return users
}

// syncPair executes the action for one (user, provider) pair. All errors
// are folded into the result entry.
func (o *Orchestrator) syncPair(
	ctx context.Context,
	session *sessionDomain.Session,
	action SyncAction,
	userID uuid.UUID,
	provider integrationDomain.ProviderType,
) PairResult {
	result := PairResult{UserID: userID, Provider: provider}

	link, err := o.links.FindBySessionUserProvider(ctx, session.ID, userID, provider)
	if err != nil {
		result.Err = fmt.Errorf("find event link: %w", err)
		o.logPairFailure(session, action, result)
		return result
	}

	switch action {
	case ActionCreate:
		result = o.create(ctx, session, userID, provider, link)
	case ActionUpdate:
		result = o.update(ctx, session, userID, provider, link)
	case ActionDelete:
		result = o.delete(ctx, session, userID, provider, link)
	}

	if !result.Success {
		o.logPairFailure(session, action, result)
	}
	return result
}

// create provisions a remote event. A live link means a previously
// dispatched job already created it; its data is returned without
// another provider call. A link in status deleted does not count: a
// restored session gets a fresh remote event on the same row.
func (o *Orchestrator) create(
	ctx context.Context,
	session *sessionDomain.Session,
	userID uuid.UUID,
	provider integrationDomain.ProviderType,
	link *calsyncDomain.EventLink,
) PairResult {
	result := PairResult{UserID: userID, Provider: provider}

	if link != nil && link.Status() != calsyncDomain.StatusDeleted {
		result.Success = true
		result.EventID = link.EventID()
		result.MeetingURL = link.MeetingURL()
		return result
	}

	adapter, err := o.registry.Adapter(ctx, provider, userID)
	if err != nil {
		result.Err = err
		return result
	}

	created, err := adapter.CreateEvent(ctx, o.eventData(session))
	if err != nil {
		result.Err = err
		return result
	}

	if link != nil {
		if err := link.Recreate(created.EventID, created.MeetingURL); err != nil {
			result.Err = err
			return result
		}
	} else {
		link, err = calsyncDomain.NewEventLink(session.ID, userID, provider, created.EventID, created.MeetingURL)
		if err != nil {
			result.Err = err
			return result
		}
	}
	if err := o.links.Save(ctx, link); err != nil {
		result.Err = fmt.Errorf("save event link: %w", err)
		return result
	}

	result.Success = true
	result.EventID = created.EventID
	result.MeetingURL = created.MeetingURL
	return result
}

// update rewrites the remote event. Without a live link the update falls
// back to create so an edit to a never-synced session still produces an
// event.
func (o *Orchestrator) update(
	ctx context.Context,
	session *sessionDomain.Session,
	userID uuid.UUID,
	provider integrationDomain.ProviderType,
	link *calsyncDomain.EventLink,
) PairResult {
	if link == nil || link.Status() == calsyncDomain.StatusDeleted {
		return o.create(ctx, session, userID, provider, link)
	}

	result := PairResult{UserID: userID, Provider: provider}

	adapter, err := o.registry.Adapter(ctx, provider, userID)
	if err != nil {
		result.Err = err
		return result
	}

	updated, err := adapter.UpdateEvent(ctx, link.EventID(), o.eventData(session))
	if err != nil {
		result.Err = err
		return result
	}

	link.MarkUpdated(updated.MeetingURL)
	if err := o.links.Save(ctx, link); err != nil {
		result.Err = fmt.Errorf("save event link: %w", err)
		return result
	}

	result.Success = true
	result.EventID = link.EventID()
	result.MeetingURL = link.MeetingURL()
	return result
}

// delete removes the remote event. No link, or a link already marked
// deleted, is a no-op success; the link row is kept for audit.
func (o *Orchestrator) delete(
	ctx context.Context,
	session *sessionDomain.Session,
	userID uuid.UUID,
	provider integrationDomain.ProviderType,
	link *calsyncDomain.EventLink,
) PairResult {
	result := PairResult{UserID: userID, Provider: provider}

	if link == nil || link.Status() == calsyncDomain.StatusDeleted {
		result.Success = true
		return result
	}

	adapter, err := o.registry.Adapter(ctx, provider, userID)
	if err != nil {
		result.Err = err
		return result
	}

	if err := adapter.DeleteEvent(ctx, link.EventID()); err != nil {
		result.Err = err
		return result
	}

	link.MarkDeleted()
	if err := o.links.Save(ctx, link); err != nil {
		result.Err = fmt.Errorf("save event link: %w", err)
		return result
	}

	result.Success = true
	result.EventID = link.EventID()
	return result
}

// eventData projects the session into the provider-neutral event shape.
// Only the client is invited; the event lives on the owner's calendar.
func (o *Orchestrator) eventData(session *sessionDomain.Session) calsyncDomain.EventData {
	return calsyncDomain.EventData{
		SessionID:     session.ID,
		Title:         session.Title,
		Description:   session.Notes,
		Location:      session.Location,
		Start:         session.ScheduledAt,
		End:           session.EndTime(),
		Timezone:      session.Timezone,
		AttendeeEmail: session.ClientEmail,
		AttendeeName:  session.ClientName,
		WithMeeting:   session.Type.NeedsMeetingRoom(),
	}
}

func (o *Orchestrator) logPairFailure(session *sessionDomain.Session, action SyncAction, result PairResult) {
	o.logger.Warn("calendar sync pair failed",
		"session_id", session.ID,
		"action", action,
		"user_id", result.UserID,
		"provider", result.Provider,
		"error", result.Err,
	)
}
