package gdrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestTokenCache(t *testing.T) {
	c := TokenCache{Path: filepath.Join(t.TempDir(), "auth", "drive_token.json")}

	tok, err := c.Load()
	require.NoError(t, err)
	assert.Nil(t, tok)

	want := &oauth2.Token{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer", Expiry: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	require.NoError(t, c.Save(want))
	got, err := c.Load()
	require.NoError(t, err)
	assert.Equal(t, want.AccessToken, got.AccessToken)
	assert.Equal(t, want.RefreshToken, got.RefreshToken)
	assert.True(t, want.Expiry.Equal(got.Expiry))

	require.NoError(t, os.WriteFile(c.Path, []byte("{"), 0o600))
	_, err = c.Load()
	assert.Error(t, err)
}

type seqSource struct {
	tokens []string
	i      int
}

func (s *seqSource) Token() (*oauth2.Token, error) {
	if s.i >= len(s.tokens) {
		return nil, errors.New("exhausted")
	}
	tok := &oauth2.Token{AccessToken: s.tokens[s.i]}
	s.i++
	return tok, nil
}

func TestSavingTokenSourceSavesOnlyChanges(t *testing.T) {
	c := TokenCache{Path: filepath.Join(t.TempDir(), "tok.json")}
	src := &savingTokenSource{
		ts:     &seqSource{tokens: []string{"old", "new", "new"}},
		cache:  c,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		last:   "old",
	}

	_, err := src.Token()
	require.NoError(t, err)
	saved, err := c.Load()
	require.NoError(t, err)
	assert.Nil(t, saved, "unchanged token is not written")

	for i := 0; i < 2; i++ {
		_, err = src.Token()
		require.NoError(t, err)
	}
	saved, err = c.Load()
	require.NoError(t, err)
	assert.Equal(t, "new", saved.AccessToken)

	_, err = src.Token()
	assert.Error(t, err)
}

func TestHTTPClientNeedsLogin(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	_, err := HTTPClient(ctx, Settings{TokenFile: filepath.Join(dir, "none.json")}, nil)
	require.ErrorIs(t, err, ErrNoToken)

	c := TokenCache{Path: filepath.Join(dir, "tok.json")}
	require.NoError(t, c.Save(&oauth2.Token{AccessToken: "a", Expiry: time.Now().Add(time.Hour)}))
	client, err := HTTPClient(ctx, Settings{TokenFile: c.Path}, nil)
	require.NoError(t, err)
	assert.NotNil(t, client)

	bad := filepath.Join(dir, "sa.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"type":"nonsense"}`), 0o600))
	_, err = HTTPClient(ctx, Settings{CredentialsFile: bad}, nil)
	assert.Error(t, err)

	_, err = HTTPClient(ctx, Settings{CredentialsFile: filepath.Join(dir, "missing.json")}, nil)
	assert.Error(t, err)
}

func TestLoginNeedsClientID(t *testing.T) {
	_, err := Login(context.Background(), Settings{}, io.Discard)
	assert.Error(t, err)
	assert.Contains(t, fmt.Sprint(err), "client_id")
}
