package models

import (
	"fmt"
	"time"
)

// DefaultEventTitle is used when the provider sends an event without a summary.
const DefaultEventTitle = "No Title"

// WallClockLayout is the timestamp layout used for all-day events: a local
// wall-clock time with no offset.
const WallClockLayout = "2006-01-02T15:04:05"

// Category tags an event for the dashboard.
type Category string

const (
	CategoryWork     Category = "work"
	CategoryPersonal Category = "personal"
	CategoryHealth   Category = "health"
	CategoryOther    Category = "other"
)

// CalendarEvent is the normalized calendar event.
// Start and End are ISO-8601 strings kept exactly as the provider expressed
// them, so timed events keep their offset and all-day events stay at local
// midnight instead of being shifted to UTC.
type CalendarEvent struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Start       string   `json:"startTime"`
	End         string   `json:"endTime"`
	AllDay      bool     `json:"allDay,omitempty"`
	Location    string   `json:"location,omitempty"`
	Attendees   []string `json:"attendees,omitempty"`
	Category    Category `json:"type"`
	UID         string   `json:"-"` // iCalendar UID, used when exporting
}

// StartTime parses Start, interpreting offset-less values in loc.
func (e CalendarEvent) StartTime(loc *time.Location) (time.Time, error) {
	return ParseTimestamp(e.Start, loc)
}

// EndTime parses End, interpreting offset-less values in loc.
func (e CalendarEvent) EndTime(loc *time.Location) (time.Time, error) {
	return ParseTimestamp(e.End, loc)
}

// ParseTimestamp parses an RFC 3339 timestamp, or a wall-clock timestamp
// without offset in loc.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(WallClockLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}
