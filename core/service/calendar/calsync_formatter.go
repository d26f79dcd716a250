package calendar

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"calsync_server/core/domain"
	"calsync_server/core/port/out"
)

const (
	appointmentPrefix  = "Appointment: "
	videoSessionPrefix = "Video Session: "

	defaultTimeZone = "UTC"

	PropertyKind     = "calsync_kind"
	PropertyEntityID = "calsync_entity_id"
)

// DefaultReminders are attached to every synced event.
var DefaultReminders = []out.EventReminder{
	{Method: "popup", Minutes: 30},
	{Method: "email", Minutes: 60},
}

// EventFormatter maps domain entities to remote calendar events. It has no
// side effects.
type EventFormatter struct {
	joinBaseURL string
}

// NewEventFormatter takes the base URL used to build video session join
// links when the session has no explicit join URL.
func NewEventFormatter(joinBaseURL string) *EventFormatter {
	return &EventFormatter{joinBaseURL: strings.TrimRight(joinBaseURL, "/")}
}

// Format dispatches on the entity type.
func (f *EventFormatter) Format(entity domain.SyncableEntity) *out.CalendarEvent {
	switch e := entity.(type) {
	case *domain.Appointment:
		return f.Appointment(e)
	case *domain.VideoSession:
		return f.VideoSession(e)
	}
	return nil
}

func (f *EventFormatter) Appointment(a *domain.Appointment) *out.CalendarEvent {
	var lines []string
	if a.Notes != nil && strings.TrimSpace(*a.Notes) != "" {
		lines = append(lines, strings.TrimSpace(*a.Notes))
	}

	ev := f.base(a, appointmentPrefix+title(a.Title, a.ID), a.StartTime, a.EndTime, a.TimeZone)
	ev.Description = strings.Join(lines, "\n\n")
	if a.Location != nil {
		ev.Location = *a.Location
	}
	return ev
}

func (f *EventFormatter) VideoSession(v *domain.VideoSession) *out.CalendarEvent {
	var lines []string
	if v.Notes != nil && strings.TrimSpace(*v.Notes) != "" {
		lines = append(lines, strings.TrimSpace(*v.Notes))
	}

	link := f.JoinLink(v)
	if link != "" {
		lines = append(lines, "Join video session: "+link)
	}
	if v.PasswordEnabled {
		lines = append(lines, "This session is password protected. The password is shared separately.")
	}

	ev := f.base(v, videoSessionPrefix+title(v.Title, v.ID), v.StartTime, v.EndTime, v.TimeZone)
	ev.Description = strings.Join(lines, "\n\n")
	ev.Location = link
	return ev
}

// JoinLink prefers the session's own URL, then base URL plus room id.
func (f *EventFormatter) JoinLink(v *domain.VideoSession) string {
	if v.JoinURL != nil && *v.JoinURL != "" {
		return *v.JoinURL
	}
	if f.joinBaseURL == "" || v.MeetingRoomID == nil || *v.MeetingRoomID == "" {
		return ""
	}
	link, err := url.JoinPath(f.joinBaseURL, *v.MeetingRoomID)
	if err != nil {
		return ""
	}
	return link
}

func (f *EventFormatter) base(entity domain.SyncableEntity, summary string, start, end time.Time, tz string) *out.CalendarEvent {
	if tz == "" {
		tz = defaultTimeZone
	}
	reminders := make([]out.EventReminder, len(DefaultReminders))
	copy(reminders, DefaultReminders)

	return &out.CalendarEvent{
		Summary:   summary,
		Start:     start,
		End:       end,
		TimeZone:  tz,
		Reminders: reminders,
		Properties: map[string]string{
			PropertyKind:     string(entity.Kind()),
			PropertyEntityID: strconv.FormatInt(entity.EntityID(), 10),
		},
	}
}

func title(t string, id int64) string {
	if t = strings.TrimSpace(t); t != "" {
		return t
	}
	return fmt.Sprintf("Session #%d", id)
}
