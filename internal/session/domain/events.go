package domain

const (
	// AggregateTypeSession is the aggregate type for coaching sessions.
	AggregateTypeSession = "coaching_session"

	// Lifecycle routing keys published by the session service.
	RoutingKeySessionCreated      = "session.created"
	RoutingKeySessionUpdated      = "session.updated"
	RoutingKeySessionDeleted      = "session.deleted"
	RoutingKeySessionForceDeleted = "session.force_deleted"
	RoutingKeySessionRestored     = "session.restored"
)

// syncRelevantFields are the session attributes whose change warrants a
// calendar re-sync. Edits to anything else (notes, internal references)
// never reach the providers.
var syncRelevantFields = map[string]struct{}{
	"scheduled_at":     {},
	"duration_minutes": {},
	"session_type":     {},
	"sync_to_calendar": {},
}

// HasSyncRelevantChange returns true if any of the changed field names
// affects the synced calendar representation.
func HasSyncRelevantChange(changes []string) bool {
	for _, field := range changes {
		if _, ok := syncRelevantFields[field]; ok {
			return true
		}
	}
	return false
}
