package google

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
)

var (
	// ErrConsentCancelled is returned by a TokenClient when the user dismissed
	// the consent flow. RequestLogin treats it as a silent no-op.
	ErrConsentCancelled = errors.New("consent flow cancelled by user")
	// ErrLoginInProgress is returned when RequestLogin is called while another
	// login is still waiting for consent.
	ErrLoginInProgress = errors.New("a login flow is already in progress")
	// ErrNoCredential is returned by Session.Token when no usable access token is held.
	ErrNoCredential = errors.New("no valid Google credential, log in first")
	// ErrEmptyThread is returned when a thread detail carries no messages.
	ErrEmptyThread = errors.New("thread has no messages")
)

// InitializationError reports that the client libraries never became available.
type InitializationError struct {
	Missing  []string
	Attempts int
	Err      error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("google libraries not available after %d attempts (missing: %s): %v",
		e.Attempts, strings.Join(e.Missing, ", "), e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// AuthError is an authorization failure. Reason carries the provider's raw
// error code when one is available (e.g. "access_denied").
type AuthError struct {
	Op     string
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("google %s failed: %s", e.Op, e.Reason)
	if e.Err != nil && e.Err.Error() != e.Reason {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// FetchError is a failed provider call, either because the API client is not
// loaded or because the request itself failed.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *FetchError) Unwrap() error { return e.Err }

// authReason extracts the most specific reason code from err.
func authReason(err error) string {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) && rerr.ErrorCode != "" {
		return rerr.ErrorCode
	}
	var aerr *AuthError
	if errors.As(err, &aerr) && aerr.Reason != "" {
		return aerr.Reason
	}
	return err.Error()
}
