package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Services is the APIClient implementation: it holds the Calendar and Gmail
// services once the handshake has run.
type Services struct {
	opts []option.ClientOption

	mu       sync.RWMutex
	calendar *calendar.Service
	gmail    *gmail.Service
}

// NewServices returns an unloaded API client. opts are applied after the
// session-bound HTTP client, so tests can redirect endpoints.
func NewServices(opts ...option.ClientOption) *Services {
	return &Services{opts: opts}
}

// Init builds both services over an HTTP client that asks tokens for a
// credential on every request, so a logout takes effect on the next call.
func (s *Services) Init(ctx context.Context, tokens oauth2.TokenSource) error {
	httpClient := &http.Client{Transport: &oauth2.Transport{Source: tokens}}
	opts := append([]option.ClientOption{option.WithHTTPClient(httpClient)}, s.opts...)

	cal, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create calendar service: %w", err)
	}
	gm, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create gmail service: %w", err)
	}

	s.mu.Lock()
	s.calendar, s.gmail = cal, gm
	s.mu.Unlock()
	return nil
}

// Calendar returns the calendar service or a FetchError if it is not loaded.
func (s *Services) Calendar() (*calendar.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.calendar == nil {
		return nil, &FetchError{Op: "calendar", Err: errors.New("calendar API not loaded")}
	}
	return s.calendar, nil
}

// Gmail returns the gmail service or a FetchError if it is not loaded.
func (s *Services) Gmail() (*gmail.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.gmail == nil {
		return nil, &FetchError{Op: "gmail", Err: errors.New("gmail API not loaded")}
	}
	return s.gmail, nil
}
