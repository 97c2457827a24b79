package caldav

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"lifeos/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const multistatus = `<?xml version="1.0" encoding="utf-8"?>
<d:multistatus xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">%s</d:multistatus>`

const propResponse = `<d:response><d:href>%s</d:href><d:propstat><d:prop>%s</d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat></d:response>`

// fakeServer answers the discovery PROPFINDs and stores PUT bodies.
type fakeServer struct {
	mu      sync.Mutex
	puts    map[string]string
	auth    []string
	failPut string
}

func (s *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	user, pass, _ := r.BasicAuth()
	s.auth = append(s.auth, user+":"+pass)
	s.mu.Unlock()

	switch r.Method {
	case "PROPFIND":
		var body string
		switch r.URL.Path {
		case "/":
			body = fmt.Sprintf(propResponse, "/",
				`<d:current-user-principal><d:href>/principals/alice/</d:href></d:current-user-principal>`)
		case "/principals/alice/":
			body = fmt.Sprintf(propResponse, "/principals/alice/",
				`<c:calendar-home-set><d:href>/calendars/alice/</d:href></c:calendar-home-set>`)
		case "/calendars/alice/":
			body = fmt.Sprintf(propResponse, "/calendars/alice/",
				`<d:resourcetype><d:collection/></d:resourcetype>`) +
				fmt.Sprintf(propResponse, "/calendars/alice/work/",
					`<d:resourcetype><d:collection/><c:calendar/></d:resourcetype><d:displayname>Work</d:displayname>`) +
				fmt.Sprintf(propResponse, "/calendars/alice/life/",
					`<d:resourcetype><d:collection/><c:calendar/></d:resourcetype><d:displayname>Life</d:displayname>`)
		default:
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		w.WriteHeader(http.StatusMultiStatus)
		fmt.Fprintf(w, multistatus, body)
	case http.MethodPut:
		b, _ := io.ReadAll(r.Body)
		if s.failPut != "" && strings.Contains(r.URL.Path, s.failPut) {
			http.Error(w, "quota exceeded", http.StatusInsufficientStorage)
			return
		}
		s.mu.Lock()
		s.puts[r.URL.Path] = string(b)
		s.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func newFakeServer(t *testing.T) (*fakeServer, string) {
	t.Helper()
	fs := &fakeServer{puts: map[string]string{}}
	srv := httptest.NewServer(fs)
	t.Cleanup(srv.Close)
	return fs, srv.URL + "/"
}

func testEvents() []models.CalendarEvent {
	return []models.CalendarEvent{
		{ID: "e1", UID: "e1@google.com", Title: "Standup", Start: "2025-03-10T10:00:00Z", End: "2025-03-10T10:15:00Z"},
		{ID: "e2", UID: "e2@google.com", Title: "Holiday", Start: "2025-03-11T00:00:00", End: "2025-03-12T00:00:00", AllDay: true},
	}
}

func TestPublish(t *testing.T) {
	fs, endpoint := newFakeServer(t)
	p, err := NewPublisher(context.Background(), testLogger(), Config{
		Endpoint:     endpoint,
		Username:     "alice",
		Password:     "app-password",
		CalendarName: "life",
		Location:     time.UTC,
	})
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}
	if p.calendarPath != "/calendars/alice/life/" {
		t.Errorf("calendar path = %q", p.calendarPath)
	}

	if err := p.Publish(context.Background(), testEvents()); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.puts) != 2 {
		t.Fatalf("got %d PUTs, want 2: %v", len(fs.puts), fs.puts)
	}
	body, ok := fs.puts["/calendars/alice/life/e1@google.com.ics"]
	if !ok {
		t.Fatalf("event e1 not stored, got %v", fs.puts)
	}
	if !strings.Contains(body, "SUMMARY:Standup") {
		t.Errorf("stored body:\n%s", body)
	}
	for _, a := range fs.auth {
		if a != "alice:app-password" {
			t.Errorf("request carried credentials %q", a)
		}
	}
}

func TestPublishDryRun(t *testing.T) {
	fs, endpoint := newFakeServer(t)
	p, err := NewPublisher(context.Background(), testLogger(), Config{Endpoint: endpoint, CalendarName: "Life", DryRun: true})
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}
	if err := p.Publish(context.Background(), testEvents()); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(fs.puts) != 0 {
		t.Errorf("dry run stored %d events", len(fs.puts))
	}
}

func TestPublishPartialFailure(t *testing.T) {
	fs, endpoint := newFakeServer(t)
	fs.failPut = "e1@google.com"
	p, err := NewPublisher(context.Background(), testLogger(), Config{Endpoint: endpoint, CalendarName: "Life"})
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}

	events := append(testEvents(), models.CalendarEvent{ID: "e3", Title: "Broken", Start: "soon", End: "later"})
	err = p.Publish(context.Background(), events)
	if err == nil {
		t.Fatal("Publish() error = nil, want joined error")
	}
	if !strings.Contains(err.Error(), "e3") {
		t.Errorf("error %q does not mention the bad event", err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.puts["/calendars/alice/life/e2@google.com.ics"]; !ok || len(fs.puts) != 1 {
		t.Errorf("puts = %v, want only e2", fs.puts)
	}
}

func TestNewPublisherErrors(t *testing.T) {
	_, endpoint := newFakeServer(t)
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no endpoint", Config{CalendarName: "Life"}},
		{"no calendar name", Config{Endpoint: endpoint}},
		{"unknown calendar", Config{Endpoint: endpoint, CalendarName: "Travel"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPublisher(context.Background(), testLogger(), tt.cfg); err == nil {
				t.Fatal("NewPublisher() error = nil, want error")
			}
		})
	}
}
