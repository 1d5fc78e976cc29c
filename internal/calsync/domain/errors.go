package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedAction is returned for a sync action an adapter does
	// not recognize.
	ErrUnsupportedAction = errors.New("unsupported sync action")

	// ErrSessionNotFound is returned when a sync job references a session
	// that no longer exists.
	ErrSessionNotFound = errors.New("session not found")

	// ErrEventLinkNotFound is returned when no remote event link exists
	// for a (session, user, provider) tuple.
	ErrEventLinkNotFound = errors.New("calendar event link not found")

	// ErrAllSyncsFailed is returned when every (user, provider) pair of a
	// sync run failed. Partial failure is not an error.
	ErrAllSyncsFailed = errors.New("all calendar syncs failed")
)

// ProviderRequestError is a non-2xx response from a calendar provider API.
// The body is retained for logging; it is never parsed for control flow
// beyond the status code.
type ProviderRequestError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *ProviderRequestError) Error() string {
	return fmt.Sprintf("%s API request failed with status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// IsNotFound reports whether the provider said the resource is gone.
func (e *ProviderRequestError) IsNotFound() bool {
	return e.StatusCode == 404 || e.StatusCode == 410
}

// IsAuthError reports whether the provider rejected the credentials.
func (e *ProviderRequestError) IsAuthError() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}
