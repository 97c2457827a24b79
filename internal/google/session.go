package google

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	gax "github.com/googleapis/gax-go/v2"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/gmail/v1"
)

// Scopes are the OAuth scopes requested at login.
var Scopes = []string{calendar.CalendarEventsReadonlyScope, gmail.GmailReadonlyScope}

const defaultInitTimeout = 10 * time.Second

// State is the lifecycle state of a Session.
type State int

const (
	StateUninitialized State = iota
	StateLibrariesLoading
	StateGapiReady // API client ready, identity client not yet
	StateGisReady  // identity client ready, API client not yet
	StateReady
	StateAuthorizationPending
	StateAuthenticated
	StateRevoked
	StateInitFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLibrariesLoading:
		return "libraries-loading"
	case StateGapiReady:
		return "gapi-ready"
	case StateGisReady:
		return "gis-ready"
	case StateReady:
		return "ready"
	case StateAuthorizationPending:
		return "authorization-pending"
	case StateAuthenticated:
		return "authenticated"
	case StateRevoked:
		return "revoked"
	case StateInitFailed:
		return "init-failed"
	}
	return "unknown"
}

// APIClient is the general API client library. Init performs the handshake
// and attaches tokens as the credential source for every later call.
type APIClient interface {
	Init(ctx context.Context, tokens oauth2.TokenSource) error
}

// TokenClient runs one interactive consent flow per call. TokenSource
// returns a source that serves tok and refreshes it once it expires.
type TokenClient interface {
	RequestAccessToken(ctx context.Context) (*oauth2.Token, error)
	TokenSource(ctx context.Context, tok *oauth2.Token) oauth2.TokenSource
}

// Identity is the identity/consent client library.
type Identity interface {
	InitTokenClient(clientID string, scopes []string) (TokenClient, error)
	Revoke(ctx context.Context, accessToken string) error
}

// Loader reports whether each of the two client libraries is available yet.
type Loader interface {
	APIClient() (APIClient, bool)
	Identity() (Identity, bool)
}

// InitOptions bounds the library detection poll. Store, when set, caches
// the credential between runs.
type InitOptions struct {
	Timeout time.Duration
	Backoff gax.Backoff
	Store   TokenStore
}

// Session owns the two-phase bootstrap and the OAuth token. It is the only
// writer of the credential; provider calls read it through Token.
type Session struct {
	logger *slog.Logger
	loader Loader
	opts   InitOptions
	inits  singleflight.Group

	mu          sync.RWMutex
	state       State
	clientID    string
	apiReady    bool
	gisReady    bool
	identity    Identity
	tokenClient TokenClient
	token       *oauth2.Token // latest access token served
	source      oauth2.TokenSource
}

// NewSession creates an uninitialized session.
func NewSession(logger *slog.Logger, loader Loader, opts InitOptions) *Session {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultInitTimeout
	}
	if opts.Backoff.Initial == 0 {
		opts.Backoff = gax.Backoff{Initial: 100 * time.Millisecond, Max: 2 * time.Second, Multiplier: 2}
	}
	return &Session{logger: logger, loader: loader, opts: opts}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// ClientID returns the client identifier the session was initialized with.
func (s *Session) ClientID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientID
}

// Authenticated reports whether a usable credential is held: an unexpired
// access token, or one that can be refreshed.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateAuthenticated && usable(s.token)
}

func usable(tok *oauth2.Token) bool {
	return tok != nil && tok.AccessToken != "" && (tok.Valid() || tok.RefreshToken != "")
}

// Token implements oauth2.TokenSource over the session credential, refreshing
// it when it has expired. The returned token is a copy. A credential that can
// no longer be refreshed is dropped and the session goes back to Ready, so a
// new login is possible.
func (s *Session) Token() (*oauth2.Token, error) {
	s.mu.RLock()
	src, cur := s.source, s.token
	s.mu.RUnlock()
	if src == nil {
		return nil, ErrNoCredential
	}

	tok, err := src.Token()
	if err != nil {
		var rerr *oauth2.RetrieveError
		if cur.RefreshToken == "" || errors.As(err, &rerr) {
			s.dropCredential(src, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrNoCredential, err)
	}
	if tok.AccessToken != cur.AccessToken {
		s.storeRefreshed(src, tok)
	}
	c := *tok
	return &c, nil
}

func (s *Session) storeRefreshed(src oauth2.TokenSource, tok *oauth2.Token) {
	s.mu.Lock()
	if s.source != src {
		s.mu.Unlock()
		return
	}
	s.token = tok
	s.mu.Unlock()
	s.logger.Debug("Google access token refreshed.", "expiry", tok.Expiry)
	s.saveToken(tok)
}

func (s *Session) dropCredential(src oauth2.TokenSource, cause error) {
	s.mu.Lock()
	if s.source != src {
		s.mu.Unlock()
		return
	}
	s.token, s.source = nil, nil
	s.state = StateReady
	s.mu.Unlock()
	s.logger.Warn("Google credential expired, log in again.", "error", cause)
	s.clearToken()
}

// setCredential installs tok. Callers hold s.mu.
func (s *Session) setCredential(tok *oauth2.Token) {
	s.token = tok
	s.source = s.tokenClient.TokenSource(context.Background(), tok)
	s.state = StateAuthenticated
}

func (s *Session) saveToken(tok *oauth2.Token) {
	if s.opts.Store == nil {
		return
	}
	if err := s.opts.Store.Save(tok); err != nil {
		s.logger.Warn("Failed to cache Google token", "error", err)
	}
}

func (s *Session) clearToken() {
	if s.opts.Store == nil {
		return
	}
	if err := s.opts.Store.Clear(); err != nil {
		s.logger.Warn("Failed to remove cached Google token", "error", err)
	}
}

// Restore installs the cached credential, if the session is Ready or Revoked
// and the cache holds a usable token. It reports whether the session is
// authenticated afterwards.
func (s *Session) Restore() bool {
	if s.opts.Store == nil {
		return s.Authenticated()
	}
	tok, err := s.opts.Store.Load()
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("Ignoring cached Google token", "error", err)
		}
		return s.Authenticated()
	}
	if !usable(tok) {
		s.logger.Info("Cached Google token is expired and cannot be refreshed.")
		return s.Authenticated()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateReady, StateRevoked:
		s.setCredential(tok)
		s.logger.Info("Restored cached Google token.")
		return true
	}
	return s.state == StateAuthenticated && usable(s.token)
}

// Initialize bootstraps both client libraries for clientID. It returns
// immediately when the session is already usable. An empty clientID leaves
// the session non-functional without returning an error. Failure of either
// handshake half is logged and leaves that half unready; only a detection
// timeout is reported, as an *InitializationError.
func (s *Session) Initialize(ctx context.Context, clientID string) error {
	switch s.State() {
	case StateReady, StateAuthorizationPending, StateAuthenticated, StateRevoked:
		return nil
	}
	if clientID == "" {
		s.logger.Warn("Google client ID is missing, authentication will not work.")
		return nil
	}
	_, err, _ := s.inits.Do(clientID, func() (any, error) {
		return nil, s.bootstrap(ctx, clientID)
	})
	return err
}

func (s *Session) bootstrap(ctx context.Context, clientID string) error {
	s.mu.Lock()
	s.clientID = clientID
	if !s.apiReady && !s.gisReady {
		s.state = StateLibrariesLoading
	}
	needAPI, needGIS := !s.apiReady, !s.gisReady
	s.mu.Unlock()

	api, identity, err := s.waitForLibraries(ctx)
	if err != nil {
		s.mu.Lock()
		s.state = StateInitFailed
		s.mu.Unlock()
		s.logger.Error("Google client libraries did not load", "error", err)
		return err
	}

	var wg sync.WaitGroup
	if needAPI {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := api.Init(ctx, s); err != nil {
				s.logger.Error("Google API client handshake failed", "error", err)
				return
			}
			s.markReady(func() { s.apiReady = true })
		}()
	}
	if needGIS {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tc, err := identity.InitTokenClient(clientID, Scopes)
			if err != nil {
				s.logger.Error("Google identity client init failed", "error", err)
				return
			}
			s.markReady(func() {
				s.identity = identity
				s.tokenClient = tc
				s.gisReady = true
			})
		}()
	}
	wg.Wait()

	s.logger.Info("Google client initialization finished", "state", s.State())
	return nil
}

// markReady applies set under the lock and recomputes the bootstrap state;
// whichever half finishes last moves the session to Ready.
func (s *Session) markReady(set func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set()
	switch {
	case s.apiReady && s.gisReady:
		s.state = StateReady
	case s.apiReady:
		s.state = StateGapiReady
	case s.gisReady:
		s.state = StateGisReady
	}
}

func (s *Session) waitForLibraries(ctx context.Context) (APIClient, Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	bo := s.opts.Backoff
	for attempt := 1; ; attempt++ {
		api, apiOK := s.loader.APIClient()
		identity, idOK := s.loader.Identity()
		if apiOK && idOK {
			return api, identity, nil
		}

		pause := bo.Pause()
		s.logger.Debug("Waiting for Google client libraries", "attempt", attempt, "api", apiOK, "identity", idOK, "retryIn", pause)

		t := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			t.Stop()
			var missing []string
			if !apiOK {
				missing = append(missing, "api-client")
			}
			if !idOK {
				missing = append(missing, "identity-client")
			}
			return nil, nil, &InitializationError{Missing: missing, Attempts: attempt, Err: ctx.Err()}
		case <-t.C:
		}
	}
}

// RequestLogin runs the interactive consent flow. Only one login may be in
// flight; a concurrent call gets ErrLoginInProgress. A cancelled consent
// returns nil and leaves the state unchanged.
func (s *Session) RequestLogin(ctx context.Context) error {
	s.mu.Lock()
	prev := s.state
	switch prev {
	case StateReady, StateRevoked, StateAuthenticated:
	case StateAuthorizationPending:
		s.mu.Unlock()
		return ErrLoginInProgress
	default:
		s.mu.Unlock()
		return &AuthError{Op: "login", Reason: "not_initialized",
			Err: errors.New("google identity services not initialized, check client ID and network")}
	}
	s.state = StateAuthorizationPending
	tc := s.tokenClient
	s.mu.Unlock()

	tok, err := tc.RequestAccessToken(ctx)

	s.mu.Lock()
	if err != nil {
		s.state = prev
		s.mu.Unlock()
		if errors.Is(err, ErrConsentCancelled) {
			s.logger.Info("Google login cancelled by user.")
			return nil
		}
		return &AuthError{Op: "login", Reason: authReason(err), Err: err}
	}
	if tok == nil || tok.AccessToken == "" {
		s.state = prev
		s.mu.Unlock()
		return &AuthError{Op: "login", Reason: "empty_token"}
	}
	s.setCredential(tok)
	s.mu.Unlock()

	s.logger.Info("Google login succeeded.")
	s.saveToken(tok)
	return nil
}

// Logout revokes and clears the credential, including the cached copy. The
// local credential is cleared even when the revoke call fails.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	tok, identity := s.token, s.identity
	if tok == nil {
		s.mu.Unlock()
		return nil
	}
	s.token, s.source = nil, nil
	s.state = StateRevoked
	s.mu.Unlock()
	s.clearToken()

	if err := identity.Revoke(ctx, tok.AccessToken); err != nil {
		return &AuthError{Op: "logout", Reason: "revoke_failed", Err: err}
	}
	s.logger.Info("Google token revoked.")
	return nil
}
