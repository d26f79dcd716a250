package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"calsync_server/core/port/out"
	"calsync_server/pkg/metrics"
	"calsync_server/pkg/resilience"
)

// GoogleCalendarAdapter implements CalendarEventPort for Google Calendar.
type GoogleCalendarAdapter struct {
	httpClient *http.Client
	endpoint   string
	breaker    *resilience.Breaker
	latency    *metrics.LatencyRegistry
}

// NewGoogleCalendarAdapter creates a new Google Calendar adapter. httpClient
// supplies the transport and timeout; the bearer token is layered per call.
func NewGoogleCalendarAdapter(httpClient *http.Client, breaker *resilience.Breaker, latency *metrics.LatencyRegistry) *GoogleCalendarAdapter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if breaker == nil {
		breaker = resilience.NewBreaker(resilience.DefaultBreakerConfig("google-calendar"), IsExpectedCalendarError)
	}
	if latency == nil {
		latency = metrics.NewLatencyRegistry(1000)
	}
	return &GoogleCalendarAdapter{
		httpClient: httpClient,
		breaker:    breaker,
		latency:    latency,
	}
}

// SetEndpoint points the adapter at another base URL.
func (a *GoogleCalendarAdapter) SetEndpoint(endpoint string) {
	a.endpoint = endpoint
}

// getService creates a Calendar service with token.
func (a *GoogleCalendarAdapter) getService(ctx context.Context, token *oauth2.Token) (*calendar.Service, error) {
	client := &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(token),
			Base:   a.httpClient.Transport,
		},
		Timeout: a.httpClient.Timeout,
	}

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if a.endpoint != "" {
		opts = append(opts, option.WithEndpoint(a.endpoint))
	}
	return calendar.NewService(ctx, opts...)
}

// =============================================================================
// Event Operations
// =============================================================================

// InsertEvent creates a new event and returns its id.
func (a *GoogleCalendarAdapter) InsertEvent(ctx context.Context, token *oauth2.Token, calendarID string, event *out.CalendarEvent) (string, error) {
	defer a.latency.Since("calendar.events.insert", time.Now())

	svc, err := a.getService(ctx, token)
	if err != nil {
		return "", fmt.Errorf("failed to create calendar service: %w", err)
	}

	created, err := resilience.Call(a.breaker, func() (*calendar.Event, error) {
		return svc.Events.Insert(orPrimary(calendarID), toGoogleEvent(event)).
			SendUpdates("none").
			Context(ctx).Do()
	})
	if err != nil {
		return "", wrapCalendarError("create event", err)
	}
	return created.Id, nil
}

// UpdateEvent replaces the event body. Returns ErrEventNotFound when the event is gone.
func (a *GoogleCalendarAdapter) UpdateEvent(ctx context.Context, token *oauth2.Token, calendarID, eventID string, event *out.CalendarEvent) error {
	defer a.latency.Since("calendar.events.update", time.Now())

	svc, err := a.getService(ctx, token)
	if err != nil {
		return fmt.Errorf("failed to create calendar service: %w", err)
	}

	err = a.breaker.Execute(func() error {
		_, err := svc.Events.Update(orPrimary(calendarID), eventID, toGoogleEvent(event)).
			SendUpdates("none").
			Context(ctx).Do()
		return err
	})
	if err != nil {
		return wrapCalendarError("update event", err)
	}
	return nil
}

// DeleteEvent deletes an event. Returns ErrEventNotFound when it is already gone.
func (a *GoogleCalendarAdapter) DeleteEvent(ctx context.Context, token *oauth2.Token, calendarID, eventID string) error {
	defer a.latency.Since("calendar.events.delete", time.Now())

	svc, err := a.getService(ctx, token)
	if err != nil {
		return fmt.Errorf("failed to create calendar service: %w", err)
	}

	err = a.breaker.Execute(func() error {
		return svc.Events.Delete(orPrimary(calendarID), eventID).
			SendUpdates("none").
			Context(ctx).Do()
	})
	if err != nil {
		return wrapCalendarError("delete event", err)
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

func orPrimary(calendarID string) string {
	if calendarID == "" {
		return "primary"
	}
	return calendarID
}

func isGone(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone
	}
	return false
}

// IsExpectedCalendarError marks client-side API responses that should not trip the breaker.
func IsExpectedCalendarError(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	return gerr.Code >= 400 && gerr.Code < 500 && gerr.Code != http.StatusTooManyRequests
}

func wrapCalendarError(op string, err error) error {
	if isGone(err) {
		return fmt.Errorf("%s: %w", op, out.ErrEventNotFound)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func toGoogleEvent(event *out.CalendarEvent) *calendar.Event {
	tz := event.TimeZone
	if tz == "" {
		tz = "UTC"
	}

	gcalEvent := &calendar.Event{
		Summary:     event.Summary,
		Description: event.Description,
		Location:    event.Location,
		Start: &calendar.EventDateTime{
			DateTime: event.Start.Format(time.RFC3339),
			TimeZone: tz,
		},
		End: &calendar.EventDateTime{
			DateTime: event.End.Format(time.RFC3339),
			TimeZone: tz,
		},
	}

	// Reminders
	if len(event.Reminders) > 0 {
		overrides := make([]*calendar.EventReminder, len(event.Reminders))
		for i, r := range event.Reminders {
			overrides[i] = &calendar.EventReminder{
				Method:  r.Method,
				Minutes: r.Minutes,
			}
		}
		gcalEvent.Reminders = &calendar.EventReminders{
			UseDefault:      false,
			Overrides:       overrides,
			ForceSendFields: []string{"UseDefault"},
		}
	}

	if len(event.Properties) > 0 {
		gcalEvent.ExtendedProperties = &calendar.EventExtendedProperties{
			Private: event.Properties,
		}
	}

	return gcalEvent
}

// Ensure interface compliance
var _ out.CalendarEventPort = (*GoogleCalendarAdapter)(nil)
