// Package credentials handles the two auth artifacts the synchronizer
// depends on: client_secret.json (the OAuth2 client configuration) and
// the google_drive_credentials/ directory (the cached user token). The
// interactive consent exchange itself is represented as an injectable
// callback; this stays a leaf package to avoid an import cycle between
// config loading and the engine.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// TokenFilePerms restricts the cached token to owner-only read/write.
const TokenFilePerms = 0o600

// TokenDirPerms is used when creating google_drive_credentials/.
const TokenDirPerms = 0o700

// TokenFileName is the cached-token filename within the credentials
// directory.
const TokenFileName = "token.json"

// ClientSecretFileName is the fixed filename for the OAuth2 client
// configuration.
const ClientSecretFileName = "client_secret.json"

// ConsentFunc performs the interactive OAuth consent exchange and returns
// a fresh token. The CLI layer supplies a concrete implementation (e.g. a
// local-server redirect flow), tests supply a fake.
type ConsentFunc func(cfg *oauth2.Config) (*oauth2.Token, error)

// LoadClientSecret reads an OAuth2 client configuration from path, in the
// shape produced by Google Cloud Console's "Download JSON" action.
func LoadClientSecret(path string, scopes []string) (*oauth2.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("credentials: reading %s: %w", path, err)
	}

	var wire struct {
		Installed struct {
			ClientID     string   `json:"client_id"`
			ClientSecret string   `json:"client_secret"`
			AuthURI      string   `json:"auth_uri"`
			TokenURI     string   `json:"token_uri"`
			RedirectURIs []string `json:"redirect_uris"`
		} `json:"installed"`
	}

	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("credentials: decoding %s: %w", path, err)
	}

	redirect := "urn:ietf:wg:oauth:2.0:oob"
	if len(wire.Installed.RedirectURIs) > 0 {
		redirect = wire.Installed.RedirectURIs[0]
	}

	return &oauth2.Config{
		ClientID:     wire.Installed.ClientID,
		ClientSecret: wire.Installed.ClientSecret,
		RedirectURL:  redirect,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  wire.Installed.AuthURI,
			TokenURL: wire.Installed.TokenURI,
		},
	}, nil
}

// LoadToken reads the cached token from dir/token.json. Returns (nil, nil)
// if it does not exist yet — a first-run signal, not an error.
func LoadToken(dir string) (*oauth2.Token, error) {
	path := filepath.Join(dir, TokenFileName)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("credentials: reading %s: %w", path, err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("credentials: decoding %s: %w", path, err)
	}

	return &tok, nil
}

// SaveToken writes tok to dir/token.json atomically (write-to-temp +
// rename), creating dir if needed.
func SaveToken(dir string, tok *oauth2.Token) error {
	if err := os.MkdirAll(dir, TokenDirPerms); err != nil {
		return fmt.Errorf("credentials: creating %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("credentials: encoding token: %w", err)
	}

	path := filepath.Join(dir, TokenFileName)

	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("credentials: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, TokenFilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("credentials: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("credentials: writing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("credentials: closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("credentials: renaming into place: %w", err)
	}

	success = true

	return nil
}

// TokenSource resolves a usable token source: the cached token if present
// (auto-refreshed by oauth2.Config.TokenSource), or a freshly acquired one
// via consent, persisted for next run.
func TokenSource(cfg *oauth2.Config, dir string, consent ConsentFunc) (oauth2.TokenSource, error) {
	tok, err := LoadToken(dir)
	if err != nil {
		return nil, err
	}

	if tok == nil {
		tok, err = consent(cfg)
		if err != nil {
			return nil, fmt.Errorf("credentials: acquiring token: %w", err)
		}

		if err := SaveToken(dir, tok); err != nil {
			return nil, err
		}
	}

	return cfg.TokenSource(context.Background(), tok), nil
}
