package google

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/oauth2"
)

// DefaultTokenFile is where the CLI caches the OAuth token between runs.
const DefaultTokenFile = "token.json"

// TokenStore persists the session credential between runs.
type TokenStore interface {
	Load() (*oauth2.Token, error)
	Save(tok *oauth2.Token) error
	Clear() error
}

// TokenCache is a TokenStore backed by a JSON file.
type TokenCache struct {
	Path string
}

// Load reads the cached token. A missing file returns an error wrapping
// fs.ErrNotExist.
func (c TokenCache) Load() (*oauth2.Token, error) {
	f, err := os.Open(c.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("unable to parse token file: %w", err)
	}
	return tok, nil
}

// Save writes tok to the cache file, readable only by the owner.
func (c TokenCache) Save(tok *oauth2.Token) error {
	f, err := os.OpenFile(c.Path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("unable to create token file: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(tok)
}

// Clear removes the cache file.
func (c TokenCache) Clear() error {
	if err := os.Remove(c.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("unable to remove token file: %w", err)
	}
	return nil
}
