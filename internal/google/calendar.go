package google

import (
	"context"
	"log/slog"
	"time"

	"lifeos/internal/models"

	"google.golang.org/api/calendar/v3"
)

const (
	// PrimaryCalendarID addresses the user's primary calendar.
	PrimaryCalendarID = "primary"
	// MaxEvents caps a single calendar list request.
	MaxEvents = 50
)

// CalendarClient fetches upcoming events from the Google Calendar API.
type CalendarClient struct {
	services *Services
	logger   *slog.Logger
	now      func() time.Time
}

// NewCalendarClient creates a calendar client over services.
func NewCalendarClient(logger *slog.Logger, services *Services) *CalendarClient {
	return &CalendarClient{services: services, logger: logger, now: time.Now}
}

// UpcomingEvents fetches events from the primary calendar starting now, with
// recurring events expanded, ordered by start time.
func (c *CalendarClient) UpcomingEvents(ctx context.Context) ([]models.CalendarEvent, error) {
	svc, err := c.services.Calendar()
	if err != nil {
		return nil, err
	}

	now := c.now()
	c.logger.Debug("Fetching upcoming events", "calendarID", PrimaryCalendarID, "timeMin", now)
	events, err := svc.Events.List(PrimaryCalendarID).
		TimeMin(now.Format(time.RFC3339)).
		ShowDeleted(false).
		SingleEvents(true).
		MaxResults(MaxEvents).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, &FetchError{Op: "calendar.events.list", Err: err}
	}

	out := make([]models.CalendarEvent, 0, len(events.Items))
	for _, item := range events.Items {
		if item == nil {
			continue
		}
		out = append(out, NormalizeEvent(item, now))
	}
	c.logger.Info("Successfully fetched events from Google Calendar", "count", len(out))
	return out, nil
}

// NormalizeEvent converts a provider event into a CalendarEvent. It never
// fails; missing fields fall back to defaults.
func NormalizeEvent(item *calendar.Event, now time.Time) models.CalendarEvent {
	start, allDay := eventTimestamp(item.Start, now)
	end, _ := eventTimestamp(item.End, now)

	title := item.Summary
	if title == "" {
		title = models.DefaultEventTitle
	}

	var attendees []string
	for _, a := range item.Attendees {
		if a != nil && a.Email != "" {
			attendees = append(attendees, a.Email)
		}
	}

	return models.CalendarEvent{
		ID:          item.Id,
		Title:       title,
		Description: item.Description,
		Start:       start,
		End:         end,
		AllDay:      allDay,
		Location:    item.Location,
		Attendees:   attendees,
		Category:    models.CategoryWork,
		UID:         item.ICalUID,
	}
}

// eventTimestamp returns dateTime verbatim when present. An all-day date is
// turned into local midnight of that day rather than converted through UTC,
// which would move it to the previous day west of Greenwich.
func eventTimestamp(dt *calendar.EventDateTime, now time.Time) (string, bool) {
	switch {
	case dt != nil && dt.DateTime != "":
		return dt.DateTime, false
	case dt != nil && dt.Date != "":
		return dt.Date + "T00:00:00", true
	default:
		return now.Format(time.RFC3339), false
	}
}
