package gdrive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
)

// ErrNoToken is returned when no Drive login has been stored yet.
var ErrNoToken = errors.New("not signed in to Google Drive (run: tsf drive login)")

// Settings are the Drive credentials from the configuration.
type Settings struct {
	ClientID        string
	ClientSecret    string
	CredentialsFile string
	TokenFile       string
}

// OAuthConfig returns the oauth2.Config for the device code flow.
func OAuthConfig(s Settings) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     s.ClientID,
		ClientSecret: s.ClientSecret,
		Scopes:       []string{drive.DriveScope},
		Endpoint:     google.Endpoint,
	}
}

// TokenCache persists the user's token in a JSON file.
type TokenCache struct {
	Path string
}

// Load returns the stored token, or nil when there is none.
func (c TokenCache) Load() (*oauth2.Token, error) {
	data, err := os.ReadFile(c.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading token file: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("corrupt token file (delete %s to re-authenticate): %w", c.Path, err)
	}
	return &tok, nil
}

// Save persists tok atomically.
func (c TokenCache) Save(tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(c.Path), 0o700); err != nil {
		return fmt.Errorf("creating auth directory: %w", err)
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling token: %w", err)
	}
	tmpPath := c.Path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	if err := os.Rename(tmpPath, c.Path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("saving token file: %w", err)
	}
	return nil
}

// savingTokenSource wraps a TokenSource and persists refreshed tokens.
type savingTokenSource struct {
	ts     oauth2.TokenSource
	cache  TokenCache
	logger *slog.Logger

	mu   sync.Mutex
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.ts.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := s.cache.Save(tok); err != nil {
			s.logger.Warn("could not save refreshed drive token", "err", err)
		}
	}
	return tok, nil
}

// HTTPClient returns an authenticated client. A service account key takes
// precedence over the stored user token.
func HTTPClient(ctx context.Context, s Settings, logger *slog.Logger) (*http.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if s.CredentialsFile != "" {
		data, err := os.ReadFile(s.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("reading drive credentials: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, drive.DriveScope)
		if err != nil {
			return nil, fmt.Errorf("parsing drive credentials %s: %w", s.CredentialsFile, err)
		}
		return oauth2.NewClient(ctx, creds.TokenSource), nil
	}

	cache := TokenCache{Path: s.TokenFile}
	tok, err := cache.Load()
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, ErrNoToken
	}
	ts := &savingTokenSource{
		ts:     OAuthConfig(s).TokenSource(ctx, tok),
		cache:  cache,
		logger: logger,
		last:   tok.AccessToken,
	}
	return oauth2.NewClient(ctx, ts), nil
}

// Login runs the device code flow, printing the verification URL and code
// to out, and stores the resulting token.
func Login(ctx context.Context, s Settings, out io.Writer) (*oauth2.Token, error) {
	if s.ClientID == "" {
		return nil, errors.New("drive.client_id is not configured")
	}
	cfg := OAuthConfig(s)
	resp, err := cfg.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("device auth request failed: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "To sign in, use a web browser to open the page:")
	fmt.Fprintf(out, "  %s\n", resp.VerificationURI)
	fmt.Fprintf(out, "Enter the code: %s\n", resp.UserCode)
	fmt.Fprintln(out)

	tok, err := cfg.DeviceAccessToken(ctx, resp)
	if err != nil {
		return nil, fmt.Errorf("device authentication failed: %w", err)
	}
	if err := (TokenCache{Path: s.TokenFile}).Save(tok); err != nil {
		return nil, err
	}
	return tok, nil
}
