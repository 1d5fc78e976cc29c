package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coachflow/coachsync/internal/shared/domain"
)

// DomainPublisher publishes domain events in the bus envelope format.
type DomainPublisher interface {
	PublishDomainEvent(ctx context.Context, event domain.DomainEvent) error
}

// EnvelopeFromDomainEvent wraps a domain event in the wire envelope
// consumed by the registry. The event's own fields become the payload.
func EnvelopeFromDomainEvent(event domain.DomainEvent) (*ConsumedEvent, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	meta := event.Metadata()
	return &ConsumedEvent{
		EventID:       event.EventID(),
		AggregateID:   event.AggregateID(),
		AggregateType: event.AggregateType(),
		RoutingKey:    event.RoutingKey(),
		OccurredAt:    event.OccurredAt(),
		Payload:       payload,
		Metadata: EventMetadata{
			TenantID:      meta.TenantID,
			UserID:        meta.UserID,
			CorrelationID: meta.CorrelationID.String(),
		},
	}, nil
}

// DomainEventPublisher adapts a raw Publisher to domain events.
type DomainEventPublisher struct {
	inner Publisher
}

// NewDomainEventPublisher wraps a publisher.
func NewDomainEventPublisher(inner Publisher) *DomainEventPublisher {
	return &DomainEventPublisher{inner: inner}
}

// PublishDomainEvent wraps the event in the wire envelope and publishes
// it under the event's routing key.
func (p *DomainEventPublisher) PublishDomainEvent(ctx context.Context, event domain.DomainEvent) error {
	env, err := EnvelopeFromDomainEvent(event)
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}
	return p.inner.Publish(ctx, event.RoutingKey(), body)
}

// Close closes the underlying publisher.
func (p *DomainEventPublisher) Close() error {
	return p.inner.Close()
}
