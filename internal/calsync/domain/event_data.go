package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventData is the provider-neutral description of a calendar event.
// Adapters translate it into each provider's wire format; nothing in
// here is specific to Google or Microsoft.
type EventData struct {
	SessionID     uuid.UUID
	Title         string
	Description   string
	Location      string
	Start         time.Time
	End           time.Time
	Timezone      string
	AttendeeEmail string
	AttendeeName  string
	WithMeeting   bool
}

// HasAttendee reports whether a client attendee should be invited.
func (d EventData) HasAttendee() bool {
	return d.AttendeeEmail != ""
}

// RemoteEvent is a calendar event as it exists on the provider side,
// read back during a fetch. Only the fields shared by all providers
// are kept.
type RemoteEvent struct {
	EventID    string
	Title      string
	Location   string
	Start      time.Time
	End        time.Time
	MeetingURL string
}
