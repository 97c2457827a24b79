// Package demo serves a fixed week of sample events and mail threads so the
// dashboard can run without a Google account.
package demo

import (
	"context"
	"fmt"
	"time"

	"lifeos/internal/models"
)

// Source implements the ingest event and thread sources over sample data.
// Times are laid out relative to the current day in the configured location.
type Source struct {
	loc *time.Location
	now func() time.Time
}

// New creates a Source. A nil loc means time.Local.
func New(loc *time.Location) *Source {
	if loc == nil {
		loc = time.Local
	}
	return &Source{loc: loc, now: time.Now}
}

type at struct {
	day          int
	hour, minute int
}

func (s *Source) at(a at) time.Time {
	y, m, d := s.now().In(s.loc).Date()
	return time.Date(y, m, d+a.day, a.hour, a.minute, 0, 0, s.loc)
}

type eventFixture struct {
	id, title, description, location string
	start, end                       at
	attendees                        []string
	category                         models.Category
}

var eventFixtures = []eventFixture{
	{id: "evt_1", title: "Q3 Roadmap Review", description: "Reviewing the engineering roadmap for the next quarter.",
		start: at{0, 9, 0}, end: at{0, 10, 30}, location: "Conference Room A",
		attendees: []string{"alice@company.com", "bob@company.com"}, category: models.CategoryWork},
	{id: "evt_2", title: "Dentist Appointment", start: at{0, 14, 0}, end: at{0, 15, 0}, location: "Downtown Dental", category: models.CategoryHealth},
	{id: "evt_3", title: "Dinner with Sarah", start: at{0, 19, 0}, end: at{0, 21, 0}, location: "Luigi's Italian", category: models.CategoryPersonal},
	{id: "evt_4", title: "Team Standup", start: at{1, 10, 0}, end: at{1, 10, 15}, category: models.CategoryWork},
	{id: "evt_5", title: "Project Omega - Code Freeze", start: at{1, 17, 0}, end: at{1, 17, 30}, category: models.CategoryWork},
	{id: "evt_6", title: "Product Design Sync", start: at{2, 11, 0}, end: at{2, 12, 0}, location: "Google Meet", category: models.CategoryWork},
	{id: "evt_7", title: "Lunch with Investors", start: at{2, 13, 0}, end: at{2, 14, 30}, location: "Blue Hill", category: models.CategoryWork},
	{id: "evt_8", title: "Weekly Gym Session", start: at{5, 18, 0}, end: at{5, 19, 30}, location: "FitLife Gym", category: models.CategoryHealth},
}

type messageFixture struct {
	id, sender, snippet, body string
	sent                      at
}

type threadFixture struct {
	id, subject string
	status      models.MessageStatus
	messages    []messageFixture // ascending
}

var threadFixtures = []threadFixture{
	{id: "em_1", subject: "Urgent: Project Omega Timeline", status: models.StatusNeedsReply, messages: []messageFixture{
		{"msg_1_1", "manager@company.com", "Initial timeline", "Here is the initial timeline we agreed upon last month. Are we still on track?", at{0, 8, 0}},
		{"msg_1_2", "me", "Re: Initial timeline", "We hit a few snags with the database migration. I will need a few more days.", at{0, 8, 15}},
		{"msg_1_3", "manager@company.com", "We need to discuss the delays...", "Hi, we need to discuss the delays on Project Omega. Please send me your updated estimates by EOD.", at{0, 8, 30}},
	}},
	{id: "em_2", subject: "This Week in AI: Gemini Updates", status: models.StatusUnread, messages: []messageFixture{
		{"msg_2_1", "newsletter@techweekly.com", "Check out the latest features in the Gemini API...", "Full newsletter content regarding AI updates...", at{0, 7, 0}},
	}},
	{id: "em_3", subject: "Opportunity at Generic Corp", status: models.StatusRead, messages: []messageFixture{
		{"msg_3_1", "recruiter@competitor.com", "I saw your profile and wanted to reach out...", "Hello, are you open to new opportunities? We have a Senior React role open.", at{0, 11, 15}},
	}},
	{id: "em_4", subject: "Membership Renewal Warning", status: models.StatusUnread, messages: []messageFixture{
		{"msg_4_1", "gym@fitlife.com", "Your membership expires in 3 days.", "Please renew your membership to avoid interruption.", at{0, 12, 0}},
	}},
	{id: "em_5", subject: "Re: Q3 Roadmap", status: models.StatusReplied, messages: []messageFixture{
		{"msg_5_1", "me", "Q3 Roadmap Draft", "Here is the first draft of the Q3 Roadmap. Let me know what you think.", at{0, 13, 0}},
		{"msg_5_2", "alice@company.com", "I think we should deprioritize feature X.", "Agreed on the timeline, but I think we should deprioritize feature X for now.", at{0, 13, 45}},
	}},
	{id: "em_6", subject: "Weekend Plans?", status: models.StatusNeedsReply, messages: []messageFixture{
		{"msg_6_1", "dad@family.com", "Are you coming over for the BBQ?", "Hey! Just checking if you are still free for the BBQ this Saturday. Let me know!", at{0, 16, 20}},
	}},
}

// UpcomingEvents returns the sample events, earliest first.
func (s *Source) UpcomingEvents(ctx context.Context) ([]models.CalendarEvent, error) {
	events := make([]models.CalendarEvent, 0, len(eventFixtures))
	for _, f := range eventFixtures {
		events = append(events, models.CalendarEvent{
			ID:          f.id,
			Title:       f.title,
			Description: f.description,
			Start:       s.at(f.start).Format(time.RFC3339),
			End:         s.at(f.end).Format(time.RFC3339),
			Location:    f.location,
			Attendees:   f.attendees,
			Category:    f.category,
		})
	}
	return events, nil
}

// ListThreadIDs returns the sample thread IDs.
func (s *Source) ListThreadIDs(ctx context.Context) ([]string, error) {
	ids := make([]string, len(threadFixtures))
	for i, f := range threadFixtures {
		ids[i] = f.id
	}
	return ids, nil
}

// Thread returns one sample thread. The thread header mirrors its latest
// message, the same way provider threads are normalized.
func (s *Source) Thread(ctx context.Context, id string) (models.EmailThread, error) {
	for _, f := range threadFixtures {
		if f.id == id {
			return s.thread(f), nil
		}
	}
	return models.EmailThread{}, fmt.Errorf("demo thread %q not found", id)
}

func (s *Source) thread(f threadFixture) models.EmailThread {
	msgs := make([]models.ThreadMessage, len(f.messages))
	for i, m := range f.messages {
		msgs[i] = models.ThreadMessage{ID: m.id, Sender: m.sender, Snippet: m.snippet, Body: m.body, Timestamp: s.at(m.sent)}
	}
	last := msgs[len(msgs)-1]
	return models.EmailThread{
		ID:           f.id,
		Sender:       last.Sender,
		Subject:      f.subject,
		Snippet:      last.Snippet,
		Body:         last.Body,
		Timestamp:    last.Timestamp,
		Status:       f.status,
		IsThread:     len(msgs) > 1,
		MessageCount: len(msgs),
		Messages:     msgs,
	}
}
