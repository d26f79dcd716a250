package out

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

// =============================================================================
// Calendar Event Port
// =============================================================================

// CalendarEventPort manages single mapped events on the remote calendar.
type CalendarEventPort interface {
	InsertEvent(ctx context.Context, token *oauth2.Token, calendarID string, event *CalendarEvent) (string, error)
	UpdateEvent(ctx context.Context, token *oauth2.Token, calendarID, eventID string, event *CalendarEvent) error
	// DeleteEvent returns ErrEventNotFound when the event is already gone.
	DeleteEvent(ctx context.Context, token *oauth2.Token, calendarID, eventID string) error
}

// CalendarEvent is the provider-neutral event shape.
type CalendarEvent struct {
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	TimeZone    string
	Reminders   []EventReminder
	// Private extended properties used to trace the event back to its entity.
	Properties map[string]string
}

// EventReminder is a reminder override.
type EventReminder struct {
	Method  string // popup | email
	Minutes int64
}
