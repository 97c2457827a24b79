package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	// DefaultCredentialsFile is the OAuth client file downloaded from the Google console.
	DefaultCredentialsFile = "credentials.json"
	revokeURL              = "https://oauth2.googleapis.com/revoke"
)

// Libraries is the production Loader. The API client is always linked in;
// the identity client becomes available once an OAuth client secret can be
// resolved, either directly or from the credentials file.
type Libraries struct {
	Services        *Services
	ClientSecret    string
	CredentialsFile string
	Prompt          func(authURL string)
	Logger          *slog.Logger
}

func (l *Libraries) APIClient() (APIClient, bool) {
	return l.Services, l.Services != nil
}

func (l *Libraries) Identity() (Identity, bool) {
	secret := l.ClientSecret
	if secret == "" {
		cfg, err := configFromFile(l.credentialsFile())
		if err != nil {
			return nil, false
		}
		secret = cfg.ClientSecret
	}
	return &ConsentFlow{ClientSecret: secret, Prompt: l.Prompt, Logger: l.Logger}, true
}

func (l *Libraries) credentialsFile() string {
	if l.CredentialsFile == "" {
		return DefaultCredentialsFile
	}
	return l.CredentialsFile
}

// configFromFile reads an OAuth client config from a credentials.json file.
func configFromFile(path string) (*oauth2.Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s not found, provide GOOGLE_CLIENT_SECRET or download the OAuth client file", path)
		}
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}
	cfg, err := google.ConfigFromJSON(b, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	return cfg, nil
}

// ConsentFlow is the Identity implementation backed by the OAuth 2.0
// authorization-code flow with a loopback redirect.
type ConsentFlow struct {
	ClientSecret string
	Endpoint     oauth2.Endpoint // defaults to google.Endpoint
	RevokeURL    string          // defaults to the Google revoke endpoint
	Prompt       func(authURL string)
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// InitTokenClient registers a token requester for clientID.
func (f *ConsentFlow) InitTokenClient(clientID string, scopes []string) (TokenClient, error) {
	if clientID == "" {
		return nil, errors.New("client ID is required")
	}
	endpoint := f.Endpoint
	if endpoint.AuthURL == "" {
		endpoint = google.Endpoint
	}
	prompt := f.Prompt
	if prompt == nil {
		prompt = func(authURL string) {
			fmt.Fprintf(os.Stderr, "Open the following link in your browser to grant access:\n%v\n", authURL)
		}
	}
	return &loopbackTokenClient{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: f.ClientSecret,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		prompt:     prompt,
		httpClient: f.HTTPClient,
	}, nil
}

// Revoke revokes accessToken with the provider.
func (f *ConsentFlow) Revoke(ctx context.Context, accessToken string) error {
	target := f.RevokeURL
	if target == "" {
		target = revokeURL
	}
	form := url.Values{"token": {accessToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("creating revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := f.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("calling revoke endpoint: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("revoke failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type loopbackTokenClient struct {
	config     *oauth2.Config
	prompt     func(authURL string)
	httpClient *http.Client
}

// TokenSource refreshes tok through the token endpoint of the consent config.
func (c *loopbackTokenClient) TokenSource(ctx context.Context, tok *oauth2.Token) oauth2.TokenSource {
	if c.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	}
	return c.config.TokenSource(ctx, tok)
}

type consentResult struct {
	code   string
	reason string
}

// RequestAccessToken starts a loopback listener, shows the consent URL and
// exchanges the returned code. Cancelling ctx counts as the user closing the
// consent window.
func (c *loopbackTokenClient) RequestAccessToken(ctx context.Context) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("starting loopback listener: %w", err)
	}

	cfg := *c.config
	cfg.RedirectURL = "http://" + ln.Addr().String() + "/callback"
	state := uuid.NewString()

	results := make(chan consentResult, 1)
	srv := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			if q.Get("state") != state {
				http.Error(w, "state mismatch", http.StatusBadRequest)
				return
			}
			select {
			case results <- consentResult{code: q.Get("code"), reason: q.Get("error")}:
			default:
			}
			fmt.Fprintln(w, "Authorization complete. You can close this window.")
		}),
	}
	go srv.Serve(ln)
	defer srv.Close()

	c.prompt(cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent")))

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrConsentCancelled, ctx.Err())
	case res := <-results:
		if res.reason != "" {
			return nil, &AuthError{Op: "consent", Reason: res.reason}
		}
		if res.code == "" {
			return nil, ErrConsentCancelled
		}
		if c.httpClient != nil {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
		}
		tok, err := cfg.Exchange(ctx, res.code)
		if err != nil {
			return nil, fmt.Errorf("unable to retrieve token from web: %w", err)
		}
		return tok, nil
	}
}
