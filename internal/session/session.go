// Package session holds the identity of the logged-in user between CLI
// invocations. A session is created by a successful credential check and
// removed on logout; commands that need an identity call Require.
package session

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrNotLoggedIn is returned by Require when there is no session.
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrBadCredentials is returned for an unknown user or a wrong password.
	ErrBadCredentials = errors.New("wrong user or password")
)

// User is a configured account.
type User struct {
	Username    string
	DisplayName string
	password    string
}

// ParseUsers reads accounts in the "Display Name|password" format. Entries
// without a separator are skipped and their names returned as invalid.
func ParseUsers(entries map[string]string) (users map[string]User, invalid []string) {
	users = make(map[string]User, len(entries))
	for name, v := range entries {
		display, password, ok := strings.Cut(v, "|")
		if !ok || name == "" {
			invalid = append(invalid, name)
			continue
		}
		users[name] = User{Username: name, DisplayName: display, password: password}
	}
	sort.Strings(invalid)
	return users, invalid
}

// HashPassword returns a bcrypt hash suitable for the users config.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

func isBcrypt(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

func (u User) check(password string) bool {
	if isBcrypt(u.password) {
		return bcrypt.CompareHashAndPassword([]byte(u.password), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(u.password), []byte(password)) == 1
}

// Session is the logged-in user.
type Session struct {
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// Authenticate checks password for username and returns a new session.
func Authenticate(users map[string]User, username, password string, now time.Time) (*Session, error) {
	u, ok := users[username]
	if !ok || !u.check(password) {
		return nil, ErrBadCredentials
	}
	return &Session{Username: u.Username, DisplayName: u.DisplayName, CreatedAt: now}, nil
}

// Path returns the session file inside the configuration directory.
func Path(dir string) string {
	return filepath.Join(dir, "session.json")
}

// Save writes s to path atomically.
func Save(path string, s *Session) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling session: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("writing session file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("saving session file: %w", err)
	}
	return nil
}

// Require returns the current session, or ErrNotLoggedIn.
func Require(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotLoggedIn
	}
	if err != nil {
		return nil, fmt.Errorf("reading session file: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("corrupt session file (delete %s and log in again): %w", path, err)
	}
	if s.Username == "" {
		return nil, ErrNotLoggedIn
	}
	return &s, nil
}

// Remove ends the session. Removing a missing session is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing session file: %w", err)
	}
	return nil
}

// Valid reports whether the user of s is still configured. Sessions of
// removed accounts are refused.
func (s *Session) Valid(users map[string]User) bool {
	_, ok := users[s.Username]
	return ok
}
