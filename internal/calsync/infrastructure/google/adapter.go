// Package google syncs coaching sessions to Google Calendar via the
// Calendar v3 REST API.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/coachflow/coachsync/internal/calsync/application"
	calsyncDomain "github.com/coachflow/coachsync/internal/calsync/domain"
	"github.com/coachflow/coachsync/internal/calsync/infrastructure/providerhttp"
)

const defaultBaseURL = "https://www.googleapis.com/calendar/v3"

// Adapter implements the calendar adapter contract for Google Calendar.
type Adapter struct {
	client     *providerhttp.Client
	baseURL    string
	calendarID string
	logger     *slog.Logger
}

// NewAdapter creates a Google Calendar adapter writing to the given
// calendar ("primary" targets the user's default calendar).
func NewAdapter(client *providerhttp.Client, calendarID string, logger *slog.Logger) *Adapter {
	if calendarID == "" {
		calendarID = "primary"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		client:     client,
		baseURL:    defaultBaseURL,
		calendarID: calendarID,
		logger:     logger,
	}
}

// NewAdapterWithBaseURL creates an adapter against a custom API base URL.
func NewAdapterWithBaseURL(client *providerhttp.Client, calendarID, baseURL string, logger *slog.Logger) *Adapter {
	a := NewAdapter(client, calendarID, logger)
	if baseURL != "" {
		a.baseURL = baseURL
	}
	return a
}

// CreateEvent creates a calendar event, requesting a Meet room for
// online sessions. The conference request ID is derived from the session
// so Google deduplicates re-sent creates.
func (a *Adapter) CreateEvent(ctx context.Context, data calsyncDomain.EventData) (*application.CreatedEvent, error) {
	event := toGoogleEvent(data)
	createURL := fmt.Sprintf("%s/calendars/%s/events?conferenceDataVersion=1", a.baseURL, url.PathEscape(a.calendarID))

	resp, err := a.client.Do(ctx, http.MethodPost, createURL, event, nil)
	if err != nil {
		return nil, err
	}

	var created googleEvent
	if err := resp.Decode(&created); err != nil {
		return nil, fmt.Errorf("decode created event: %w", err)
	}

	a.logger.Debug("google event created",
		"session_id", data.SessionID,
		"event_id", created.ID,
	)
	return &application.CreatedEvent{
		EventID:    created.ID,
		MeetingURL: created.meetingURL(),
	}, nil
}

// UpdateEvent rewrites an existing event in place.
func (a *Adapter) UpdateEvent(ctx context.Context, eventID string, data calsyncDomain.EventData) (*application.CreatedEvent, error) {
	event := toGoogleEvent(data)
	updateURL := fmt.Sprintf("%s/calendars/%s/events/%s?conferenceDataVersion=1",
		a.baseURL, url.PathEscape(a.calendarID), url.PathEscape(eventID))

	resp, err := a.client.Do(ctx, http.MethodPut, updateURL, event, nil)
	if err != nil {
		return nil, err
	}

	var updated googleEvent
	if err := resp.Decode(&updated); err != nil {
		return nil, fmt.Errorf("decode updated event: %w", err)
	}
	return &application.CreatedEvent{
		EventID:    updated.ID,
		MeetingURL: updated.meetingURL(),
	}, nil
}

// DeleteEvent removes an event. Google answers 410 (sometimes 404) for
// an event already gone; both count as success.
func (a *Adapter) DeleteEvent(ctx context.Context, eventID string) error {
	deleteURL := fmt.Sprintf("%s/calendars/%s/events/%s",
		a.baseURL, url.PathEscape(a.calendarID), url.PathEscape(eventID))

	_, err := a.client.Do(ctx, http.MethodDelete, deleteURL, nil, nil)
	if err != nil {
		var reqErr *calsyncDomain.ProviderRequestError
		if errors.As(err, &reqErr) && reqErr.IsNotFound() {
			a.logger.Debug("google event already gone", "event_id", eventID)
			return nil
		}
		return err
	}
	return nil
}

// FetchEvents lists the calendar's timed events inside the window.
// Recurring events are expanded into single instances. All-day events
// and items without an ID are skipped.
func (a *Adapter) FetchEvents(ctx context.Context, start, end time.Time) ([]calsyncDomain.RemoteEvent, error) {
	query := url.Values{}
	query.Set("timeMin", start.Format(time.RFC3339))
	query.Set("timeMax", end.Format(time.RFC3339))
	query.Set("singleEvents", "true")
	query.Set("orderBy", "startTime")
	listURL := fmt.Sprintf("%s/calendars/%s/events?%s", a.baseURL, url.PathEscape(a.calendarID), query.Encode())

	resp, err := a.client.Do(ctx, http.MethodGet, listURL, nil, nil)
	if err != nil {
		return nil, err
	}

	var list struct {
		Items []googleEvent `json:"items"`
	}
	if err := resp.Decode(&list); err != nil {
		return nil, fmt.Errorf("decode event list: %w", err)
	}

	events := make([]calsyncDomain.RemoteEvent, 0, len(list.Items))
	for _, item := range list.Items {
		if item.ID == "" {
			a.logger.Warn("skipping google event without id", "summary", item.Summary)
			continue
		}
		eventStart, startErr := time.Parse(time.RFC3339, item.Start.DateTime)
		eventEnd, endErr := time.Parse(time.RFC3339, item.End.DateTime)
		if startErr != nil || endErr != nil {
			a.logger.Warn("skipping google event without timed start", "event_id", item.ID)
			continue
		}
		events = append(events, calsyncDomain.RemoteEvent{
			EventID:    item.ID,
			Title:      item.Summary,
			Location:   item.Location,
			Start:      eventStart,
			End:        eventEnd,
			MeetingURL: item.meetingURL(),
		})
	}
	return events, nil
}

type googleEvent struct {
	ID          string `json:"id,omitempty"`
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	Start       struct {
		DateTime string `json:"dateTime"`
		TimeZone string `json:"timeZone,omitempty"`
	} `json:"start"`
	End struct {
		DateTime string `json:"dateTime"`
		TimeZone string `json:"timeZone,omitempty"`
	} `json:"end"`
	Attendees []struct {
		Email       string `json:"email"`
		DisplayName string `json:"displayName,omitempty"`
	} `json:"attendees,omitempty"`
	ConferenceData *conferenceData `json:"conferenceData,omitempty"`
	HangoutLink    string          `json:"hangoutLink,omitempty"`
}

type conferenceData struct {
	CreateRequest *struct {
		RequestID string `json:"requestId"`
	} `json:"createRequest,omitempty"`
	EntryPoints []struct {
		EntryPointType string `json:"entryPointType"`
		URI            string `json:"uri"`
	} `json:"entryPoints,omitempty"`
}

// meetingURL prefers the video entry point inside conferenceData and
// falls back to the legacy hangout link. Absence of both is fine.
func (e *googleEvent) meetingURL() string {
	if e.ConferenceData != nil {
		for _, ep := range e.ConferenceData.EntryPoints {
			if ep.EntryPointType == "video" && ep.URI != "" {
				return ep.URI
			}
		}
	}
	return e.HangoutLink
}

func toGoogleEvent(data calsyncDomain.EventData) googleEvent {
	event := googleEvent{
		Summary:     data.Title,
		Description: data.Description,
		Location:    data.Location,
	}
	event.Start.DateTime = data.Start.Format(time.RFC3339)
	event.End.DateTime = data.End.Format(time.RFC3339)
	if data.Timezone != "" {
		event.Start.TimeZone = data.Timezone
		event.End.TimeZone = data.Timezone
	}

	if data.HasAttendee() {
		event.Attendees = append(event.Attendees, struct {
			Email       string `json:"email"`
			DisplayName string `json:"displayName,omitempty"`
		}{
			Email:       data.AttendeeEmail,
			DisplayName: data.AttendeeName,
		})
	}

	if data.WithMeeting {
		event.ConferenceData = &conferenceData{
			CreateRequest: &struct {
				RequestID string `json:"requestId"`
			}{
				RequestID: "coachsync-" + data.SessionID.String(),
			},
		}
	}

	return event
}
