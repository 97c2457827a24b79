package caldav

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"lifeos/internal/models"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
)

// basicAuthTransport adds Basic Auth and the client's User-Agent to requests.
type basicAuthTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if t.Username != "" {
		req.SetBasicAuth(t.Username, t.Password)
	}
	req.Header.Set("User-Agent", "lifeos/1.0")
	return t.Transport.RoundTrip(req)
}

// Config selects the CalDAV server and target calendar.
type Config struct {
	Endpoint     string
	Username     string
	Password     string
	CalendarName string
	// Location is used to read wall-clock event timestamps. Defaults to time.Local.
	Location *time.Location
	// DryRun logs what would be published without writing anything.
	DryRun bool
	// Transport is the underlying round tripper. Defaults to http.DefaultTransport.
	Transport http.RoundTripper
}

// Publisher writes events into one calendar of a CalDAV server.
type Publisher struct {
	webdavClient *webdav.Client
	logger       *slog.Logger
	calendarPath string
	loc          *time.Location
	dryRun       bool
}

// NewPublisher connects to the server and resolves the calendar by name.
func NewPublisher(ctx context.Context, logger *slog.Logger, cfg Config) (*Publisher, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("caldav endpoint is required")
	}
	if cfg.CalendarName == "" {
		return nil, errors.New("caldav calendar name is required")
	}
	rt := cfg.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	httpClient := &http.Client{Transport: &basicAuthTransport{
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: rt,
	}}

	caldavClient, err := caldav.NewClient(httpClient, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}
	webdavClient, err := webdav.NewClient(httpClient, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create webdav client: %w", err)
	}

	logger.Info("Finding CalDAV calendar", "calendarName", cfg.CalendarName)
	calendarPath, err := findCalendar(ctx, caldavClient, cfg.CalendarName)
	if err != nil {
		return nil, fmt.Errorf("could not find calendar '%s': %w", cfg.CalendarName, err)
	}
	logger.Info("Successfully found CalDAV calendar", "path", calendarPath)

	return newPublisher(logger, webdavClient, calendarPath, cfg), nil
}

func newPublisher(logger *slog.Logger, client *webdav.Client, calendarPath string, cfg Config) *Publisher {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Publisher{
		webdavClient: client,
		logger:       logger,
		calendarPath: calendarPath,
		loc:          loc,
		dryRun:       cfg.DryRun,
	}
}

// Publish writes each event as its own calendar object. Events that fail
// are logged and skipped; their errors are joined into the result.
func (p *Publisher) Publish(ctx context.Context, events []models.CalendarEvent) error {
	var errs []error
	published := 0
	for _, e := range events {
		if err := p.publishEvent(ctx, e); err != nil {
			p.logger.Error("Failed to publish event", "eventID", e.ID, "eventTitle", e.Title, "error", err)
			errs = append(errs, err)
			continue
		}
		published++
	}
	p.logger.Info("Publish finished.", "published", published, "failed", len(errs), "dryRun", p.dryRun)
	return errors.Join(errs...)
}

func (p *Publisher) publishEvent(ctx context.Context, e models.CalendarEvent) error {
	cal, err := NewCalendar([]models.CalendarEvent{e}, p.loc, time.Now())
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode event to iCal format: %w", err)
	}
	eventPath := path.Join(p.calendarPath, EventUID(e)+".ics")

	if p.dryRun {
		p.logger.Info("[DRY RUN] Would publish event", "eventTitle", e.Title, "path", eventPath)
		return nil
	}

	p.logger.Debug("Publishing event", "eventTitle", e.Title, "path", eventPath)
	writer, err := p.webdavClient.Create(ctx, eventPath)
	if err != nil {
		return fmt.Errorf("failed to create event on CalDAV server: %w", err)
	}
	if _, err := writer.Write(buf.Bytes()); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to store event on CalDAV server: %w", err)
	}
	return nil
}

// findCalendar walks principal, home set and calendars and returns the path
// of the calendar named name.
func findCalendar(ctx context.Context, client *caldav.Client, name string) (string, error) {
	principalPath, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := client.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := client.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}

	for _, cal := range calendars {
		if strings.EqualFold(cal.Name, name) {
			return cal.Path, nil
		}
	}
	return "", fmt.Errorf("no calendar found with name '%s'", name)
}
