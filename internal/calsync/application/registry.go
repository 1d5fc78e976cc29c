package application

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	integrationDomain "github.com/coachflow/coachsync/internal/integration/domain"
)

// AdapterFactory builds a provider adapter authenticated for one user.
// The orchestrator calls it once per (user, provider) pair per sync run;
// token refresh happens inside the returned adapter's HTTP transport.
type AdapterFactory func(ctx context.Context, userID uuid.UUID) (Adapter, error)

// AdapterRegistry maps provider types to adapter factories. A provider
// without a registered factory surfaces as a per-pair failure during
// sync, never as an orchestrator error.
type AdapterRegistry struct {
	factories map[integrationDomain.ProviderType]AdapterFactory
}

// NewAdapterRegistry creates an empty registry.
func NewAdapterRegistry() *AdapterRegistry {
	return &AdapterRegistry{
		factories: make(map[integrationDomain.ProviderType]AdapterFactory),
	}
}

// Register adds a factory for a provider, replacing any existing one.
func (r *AdapterRegistry) Register(provider integrationDomain.ProviderType, factory AdapterFactory) {
	r.factories[provider] = factory
}

// Adapter builds an adapter for the (user, provider) pair.
func (r *AdapterRegistry) Adapter(ctx context.Context, provider integrationDomain.ProviderType, userID uuid.UUID) (Adapter, error) {
	factory, ok := r.factories[provider]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for provider %q", provider)
	}
	return factory(ctx, userID)
}

// Supports reports whether a factory is registered for the provider.
func (r *AdapterRegistry) Supports(provider integrationDomain.ProviderType) bool {
	_, ok := r.factories[provider]
	return ok
}
