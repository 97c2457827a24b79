package caldav

import (
	"fmt"
	"io"
	"time"

	"lifeos/internal/models"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"
)

const productID = "-//lifeos//EN"

// emptyCalendar is written when there are no events, since the encoder
// rejects a VCALENDAR without components.
const emptyCalendar = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:" + productID + "\r\nEND:VCALENDAR\r\n"

// EventUID returns the provider iCalendar UID, or a stable UID derived from
// the event ID when the provider did not send one.
func EventUID(e models.CalendarEvent) string {
	if e.UID != "" {
		return e.UID
	}
	if e.ID != "" {
		return uuid.NewSHA1(uuid.NameSpaceURL, []byte("lifeos:event:"+e.ID)).String()
	}
	return uuid.NewString()
}

// NewCalendar wraps events in a VCALENDAR. Wall-clock timestamps are read in
// loc; timed events are written in UTC, all-day events as plain dates.
func NewCalendar(events []models.CalendarEvent, loc *time.Location, stamp time.Time) (*ical.Calendar, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	for _, e := range events {
		ve, err := toComponent(e, loc, stamp)
		if err != nil {
			return nil, err
		}
		cal.Children = append(cal.Children, ve)
	}
	return cal, nil
}

// EncodeCalendar writes events to w as an iCalendar stream. No events
// produce a calendar with no components.
func EncodeCalendar(w io.Writer, events []models.CalendarEvent, loc *time.Location) error {
	if len(events) == 0 {
		if _, err := io.WriteString(w, emptyCalendar); err != nil {
			return fmt.Errorf("failed to encode calendar: %w", err)
		}
		return nil
	}
	cal, err := NewCalendar(events, loc, time.Now())
	if err != nil {
		return err
	}
	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode calendar: %w", err)
	}
	return nil
}

func toComponent(e models.CalendarEvent, loc *time.Location, stamp time.Time) (*ical.Component, error) {
	start, err := e.StartTime(loc)
	if err != nil {
		return nil, fmt.Errorf("event %q: %w", e.ID, err)
	}
	end, err := e.EndTime(loc)
	if err != nil {
		return nil, fmt.Errorf("event %q: %w", e.ID, err)
	}

	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, EventUID(e))
	ve.Props.SetText(ical.PropSummary, e.Title)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
	if e.AllDay {
		ve.Props.SetDate(ical.PropDateTimeStart, start)
		ve.Props.SetDate(ical.PropDateTimeEnd, end)
	} else {
		ve.Props.SetDateTime(ical.PropDateTimeStart, start.UTC())
		ve.Props.SetDateTime(ical.PropDateTimeEnd, end.UTC())
	}

	if e.Description != "" {
		ve.Props.SetText(ical.PropDescription, e.Description)
	}
	if e.Location != "" {
		ve.Props.SetText(ical.PropLocation, e.Location)
	}
	if e.Category != "" {
		ve.Props.SetText(ical.PropCategories, string(e.Category))
	}
	for _, attendee := range e.Attendees {
		p := ical.NewProp(ical.PropAttendee)
		p.SetText(fmt.Sprintf("mailto:%s", attendee))
		ve.Props.Add(p)
	}
	return ve, nil
}
