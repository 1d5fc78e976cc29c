package observability

import "context"

type contextKey string

const (
	tenantIDContextKey      contextKey = "tenant_id"
	correlationIDContextKey contextKey = "correlation_id"

	// TenantIDKey is the log attribute key for the tenant identifier.
	TenantIDKey = "tenant_id"
	// CorrelationIDKey is the log attribute key for the correlation identifier.
	CorrelationIDKey = "correlation_id"
)

// WithTenantID returns a context carrying the tenant identifier.
// Tenancy isolation is enforced by the surrounding platform; the engine
// only propagates the identifier for logging and job binding.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDContextKey, tenantID)
}

// TenantIDFromContext returns the tenant identifier, or "" when absent.
func TenantIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tenantIDContextKey).(string); ok {
		return v
	}
	return ""
}

// WithCorrelationID returns a context carrying a correlation identifier.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDContextKey, id)
}

// CorrelationIDFromContext returns the correlation identifier, or "" when absent.
func CorrelationIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(correlationIDContextKey).(string); ok {
		return v
	}
	return ""
}
