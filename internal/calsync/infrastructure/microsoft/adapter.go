// Package microsoft syncs coaching sessions to Outlook calendars via the
// Microsoft Graph API.
package microsoft

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

const defaultBaseURL = "https://graph.microsoft.com/v1.0"

// graphHeaders pins event times to UTC regardless of the mailbox's
// configured zone.
var graphHeaders = map[string]string{
	"Prefer": `outlook.timezone="UTC"`,
}

// Adapter implements the calendar adapter contract for Microsoft Graph.
type Adapter struct {
	client  *providerhttp.Client
	baseURL string
	logger  *slog.Logger
}

// NewAdapter creates a Microsoft Graph adapter writing to the signed-in
// user's default calendar.
func NewAdapter(client *providerhttp.Client, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		client:  client,
		baseURL: defaultBaseURL,
		logger:  logger,
	}
}

// NewAdapterWithBaseURL creates an adapter against a custom API base URL.
func NewAdapterWithBaseURL(client *providerhttp.Client, baseURL string, logger *slog.Logger) *Adapter {
	a := NewAdapter(client, logger)
	if baseURL != "" {
		a.baseURL = baseURL
	}
	return a
}

// CreateEvent creates a calendar event, provisioning a Teams meeting for
// online sessions.
func (a *Adapter) CreateEvent(ctx context.Context, data calsyncDomain.EventData) (*application.CreatedEvent, error) {
	event := toGraphEvent(data)
	createURL := a.baseURL + "/me/events"

	resp, err := a.client.Do(ctx, http.MethodPost, createURL, event, graphHeaders)
	if err != nil {
		return nil, err
	}

	var created graphEvent
	if err := resp.Decode(&created); err != nil {
		return nil, fmt.Errorf("decode created event: %w", err)
	}

	a.logger.Debug("graph event created",
		"session_id", data.SessionID,
		"event_id", created.ID,
	)
	return &application.CreatedEvent{
		EventID:    created.ID,
		MeetingURL: created.meetingURL(),
	}, nil
}

// UpdateEvent patches an existing event in place.
func (a *Adapter) UpdateEvent(ctx context.Context, eventID string, data calsyncDomain.EventData) (*application.CreatedEvent, error) {
	event := toGraphEvent(data)
	updateURL := fmt.Sprintf("%s/me/events/%s", a.baseURL, url.PathEscape(eventID))

	resp, err := a.client.Do(ctx, http.MethodPatch, updateURL, event, graphHeaders)
	if err != nil {
		return nil, err
	}

	var updated graphEvent
	if err := resp.Decode(&updated); err != nil {
		return nil, fmt.Errorf("decode updated event: %w", err)
	}
	return &application.CreatedEvent{
		EventID:    updated.ID,
		MeetingURL: updated.meetingURL(),
	}, nil
}

// DeleteEvent removes an event. Graph answers 404 for an event already
// gone; that counts as success.
func (a *Adapter) DeleteEvent(ctx context.Context, eventID string) error {
	deleteURL := fmt.Sprintf("%s/me/events/%s", a.baseURL, url.PathEscape(eventID))

	_, err := a.client.Do(ctx, http.MethodDelete, deleteURL, nil, nil)
	if err != nil {
		var reqErr *calsyncDomain.ProviderRequestError
		if errors.As(err, &reqErr) && reqErr.IsNotFound() {
			a.logger.Debug("graph event already gone", "event_id", eventID)
			return nil
		}
		return err
	}
	return nil
}

// FetchEvents lists the user's events inside the window via the Graph
// calendar view, which expands recurring events into instances, ordered
// by start time. Items without an ID or a parseable time are skipped.
func (a *Adapter) FetchEvents(ctx context.Context, start, end time.Time) ([]calsyncDomain.RemoteEvent, error) {
	query := url.Values{}
	query.Set("startDateTime", start.UTC().Format(time.RFC3339))
	query.Set("endDateTime", end.UTC().Format(time.RFC3339))
	query.Set("$orderby", "start/dateTime")
	listURL := a.baseURL + "/me/calendarView?" + query.Encode()

	resp, err := a.client.Do(ctx, http.MethodGet, listURL, nil, graphHeaders)
	if err != nil {
		return nil, err
	}

	var list struct {
		Value []graphEvent `json:"value"`
	}
	if err := resp.Decode(&list); err != nil {
		return nil, fmt.Errorf("decode calendar view: %w", err)
	}

	events := make([]calsyncDomain.RemoteEvent, 0, len(list.Value))
	for _, item := range list.Value {
		if item.ID == "" {
			a.logger.Warn("skipping graph event without id", "subject", item.Subject)
			continue
		}
		eventStart, startErr := item.Start.parse()
		eventEnd, endErr := item.End.parse()
		if startErr != nil || endErr != nil {
			a.logger.Warn("skipping graph event with unreadable time", "event_id", item.ID)
			continue
		}
		event := calsyncDomain.RemoteEvent{
			EventID:    item.ID,
			Title:      item.Subject,
			Start:      eventStart,
			End:        eventEnd,
			MeetingURL: item.meetingURL(),
		}
		if item.Location != nil {
			event.Location = item.Location.DisplayName
		}
		events = append(events, event)
	}
	return events, nil
}

type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

// parse reads a Graph date-time, which carries no zone offset
// ("2026-08-29T10:00:00.0000000") and is qualified by the TimeZone
// field instead. RFC3339 is accepted too for robustness.
func (d graphDateTime) parse() (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, d.DateTime); err == nil {
		return t, nil
	}
	loc := time.UTC
	if d.TimeZone != "" {
		if l, err := time.LoadLocation(d.TimeZone); err == nil {
			loc = l
		}
	}
	return time.ParseInLocation("2006-01-02T15:04:05.9999999", d.DateTime, loc)
}

type graphEvent struct {
	ID      string `json:"id,omitempty"`
	Subject string `json:"subject"`
	Body    *struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body,omitempty"`
	Start    graphDateTime `json:"start"`
	End      graphDateTime `json:"end"`
	Location *struct {
		DisplayName string `json:"displayName"`
	} `json:"location,omitempty"`
	Attendees []graphAttendee `json:"attendees,omitempty"`

	IsOnlineMeeting       bool   `json:"isOnlineMeeting,omitempty"`
	OnlineMeetingProvider string `json:"onlineMeetingProvider,omitempty"`
	OnlineMeeting         *struct {
		JoinURL string `json:"joinUrl"`
	} `json:"onlineMeeting,omitempty"`
}

type graphAttendee struct {
	EmailAddress struct {
		Address string `json:"address"`
		Name    string `json:"name,omitempty"`
	} `json:"emailAddress"`
	Type string `json:"type"`
}

// meetingURL reads the Teams join URL. Absence is not an error.
func (e *graphEvent) meetingURL() string {
	if e.OnlineMeeting == nil {
		return ""
	}
	return e.OnlineMeeting.JoinURL
}

func toGraphEvent(data calsyncDomain.EventData) graphEvent {
	zone := data.Timezone
	if zone == "" {
		zone = "UTC"
	}
	event := graphEvent{
		Subject: data.Title,
		Start: graphDateTime{
			DateTime: data.Start.Format(time.RFC3339),
			TimeZone: zone,
		},
		End: graphDateTime{
			DateTime: data.End.Format(time.RFC3339),
			TimeZone: zone,
		},
	}

	if data.Description != "" {
		event.Body = &struct {
			ContentType string `json:"contentType"`
			Content     string `json:"content"`
		}{
			ContentType: "text",
			Content:     data.Description,
		}
	}
	if data.Location != "" {
		event.Location = &struct {
			DisplayName string `json:"displayName"`
		}{DisplayName: data.Location}
	}

	if data.HasAttendee() {
		attendee := graphAttendee{Type: "required"}
		attendee.EmailAddress.Address = data.AttendeeEmail
		attendee.EmailAddress.Name = data.AttendeeName
		event.Attendees = append(event.Attendees, attendee)
	}

	if data.WithMeeting {
		event.IsOnlineMeeting = true
		event.OnlineMeetingProvider = "teamsForBusiness"
	}

	return event
}
