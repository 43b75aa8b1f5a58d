package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

// Config is the root configuration for tsf, stored in ~/.tsf/config.json.
// The file supports single-line // comments for documentation purposes.
type Config struct {
	Store  StoreConfig  `json:"store"`
	Drive  DriveConfig  `json:"drive"`
	Lock   LockConfig   `json:"lock"`
	Report ReportConfig `json:"report"`
	// Users maps a login name to "Display Name|password". The password may
	// be a bcrypt hash.
	Users    map[string]string `json:"users"`
	LogLevel string            `json:"log_level"`
}

// StoreConfig selects where tables live.
type StoreConfig struct {
	// Backend is "local" or "drive".
	Backend string `json:"backend"`
	// RootFolder is the folder holding tables, locks and backups.
	RootFolder string `json:"root_folder"`
	// LocalDir is the directory used by the local backend.
	LocalDir string `json:"local_dir"`
}

// DriveConfig holds Google Drive credentials.
type DriveConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	// CredentialsFile is a service account key. When set it is used instead
	// of the user's OAuth token.
	CredentialsFile string `json:"credentials_file"`
	TokenFile       string `json:"token_file"`
}

// LockConfig holds lock timings as Go duration strings.
type LockConfig struct {
	PollInterval string `json:"poll_interval"`
	Timeout      string `json:"timeout"`
	// MaxAge after which a lock is considered abandoned. "0" disables expiry.
	MaxAge         string `json:"max_age"`
	ReleaseRetries *int   `json:"release_retries"`
}

// ReportConfig configures the report summarizer.
type ReportConfig struct {
	Model       string `json:"model"`
	Instruction string `json:"instruction"`
	// APIKey is read from GEMINI_API_KEY or GOOGLE_API_KEY, never from the file.
	APIKey string `json:"-"`
}

const (
	BackendLocal = "local"
	BackendDrive = "drive"

	DefaultRootFolder     = "ts-fiscal"
	DefaultPollInterval   = "400ms"
	DefaultTimeout        = "15s"
	DefaultMaxAge         = "5m"
	DefaultReleaseRetries = 3
	DefaultModel          = "gemini-2.5-flash"
	DefaultLogLevel       = "info"
)

// HomeEnv overrides the configuration directory.
const HomeEnv = "TSF_HOME"

// defaultConfig returns a Config pre-filled with defaults for dir.
func defaultConfig(dir string) Config {
	cfg := Config{}
	cfg.fill(dir)
	return cfg
}

// configTemplate is the annotated config written on first run.
// Lines whose trimmed content starts with // are stripped before JSON parsing,
// allowing human-readable documentation inside the file.
const configTemplate = `// tsf configuration – ~/.tsf/config.json
//
// All settings are optional. Secrets (Drive client secret, Gemini API key)
// are better kept in ~/.tsf/.env:
//   TSF_DRIVE_CLIENT_SECRET=...
//   GEMINI_API_KEY=...
{
  // ── Table store ──────────────────────────────────────────────────────────
  "store": {
    // "local" keeps tables in local_dir, "drive" in Google Drive.
    "backend": "local",
    // Folder holding the tables, the locks folder and Backup_<table> folders.
    "root_folder": "ts-fiscal",
    // Empty means ~/.tsf/data.
    "local_dir": ""
  },

  // ── Google Drive ─────────────────────────────────────────────────────────
  "drive": {
    // OAuth client of type "TVs and Limited Input devices".
    "client_id": "",
    "client_secret": "",
    // Service account key file. When set, no interactive login is needed.
    "credentials_file": "",
    // Empty means ~/.tsf/auth/drive_token.json.
    "token_file": ""
  },

  // ── Table locks ──────────────────────────────────────────────────────────
  "lock": {
    "poll_interval": "400ms",
    "timeout": "15s",
    // A lock older than this is considered abandoned and cleared. "0" disables.
    "max_age": "5m",
    "release_retries": 3
  },

  // ── Reports ──────────────────────────────────────────────────────────────
  "report": {
    "model": "gemini-2.5-flash",
    // Replaces the built-in report instruction when set.
    "instruction": ""
  },

  // ── Users ────────────────────────────────────────────────────────────────
  // login name -> "Display Name|password". The password may be a bcrypt hash
  // ("$2a$..."); generate one with: tsf hash-password
  "users": {},

  "log_level": "info"
}
`

// Dir returns the configuration directory: $TSF_HOME or ~/.tsf.
func Dir() (string, error) {
	if d := os.Getenv(HomeEnv); d != "" {
		return d, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".tsf"), nil
}

// stripLineComments removes lines whose leading non-whitespace content starts
// with //. Only full-line comments are handled; inline comments are not stripped.
func stripLineComments(data []byte) []byte {
	var out []byte
	for _, line := range bytes.Split(data, []byte("\n")) {
		if bytes.HasPrefix(bytes.TrimLeft(line, " \t"), []byte("//")) {
			continue
		}
		out = append(out, line...)
		out = append(out, '\n')
	}
	return out
}

// Load reads the configuration from Dir().
func Load() (Config, error) {
	dir, err := Dir()
	if err != nil {
		return Config{}, err
	}
	return LoadFrom(dir)
}

// LoadFrom reads dir/config.json, creating it with annotated defaults on
// first run, and then applies secrets from dir/.env, ./.env and the
// environment.
func LoadFrom(dir string) (Config, error) {
	loadDotEnv(filepath.Join(dir, ".env"), ".env")

	path := filepath.Join(dir, "config.json")
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		// First run: write the annotated template so users can discover options.
		if writeErr := writeDefault(path); writeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not create config file %s: %v\n", path, writeErr)
		}
		cfg := defaultConfig(dir)
		cfg.applyEnv()
		return cfg, nil
	}
	if err != nil {
		return defaultConfig(dir), fmt.Errorf("reading config file %s: %w", path, err)
	}

	cleaned := stripLineComments(data)
	var cfg Config
	if err := json.Unmarshal(cleaned, &cfg); err != nil {
		return defaultConfig(dir), fmt.Errorf("parsing config file %s: %w\nTip: delete the file to regenerate defaults", path, err)
	}
	cfg.fill(dir)
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// loadDotEnv loads the existing files among paths. Variables already set in
// the environment win.
func loadDotEnv(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not read %s: %v\n", p, err)
		}
	}
}

// fill sets zero-value fields to their defaults so callers always get a
// usable Config even if the file is only partially filled in.
func (c *Config) fill(dir string) {
	if c.Store.Backend == "" {
		c.Store.Backend = BackendLocal
	}
	if c.Store.RootFolder == "" {
		c.Store.RootFolder = DefaultRootFolder
	}
	if c.Store.LocalDir == "" {
		c.Store.LocalDir = filepath.Join(dir, "data")
	}
	if c.Drive.TokenFile == "" {
		c.Drive.TokenFile = filepath.Join(dir, "auth", "drive_token.json")
	}
	if c.Lock.PollInterval == "" {
		c.Lock.PollInterval = DefaultPollInterval
	}
	if c.Lock.Timeout == "" {
		c.Lock.Timeout = DefaultTimeout
	}
	if c.Lock.MaxAge == "" {
		c.Lock.MaxAge = DefaultMaxAge
	}
	if c.Lock.ReleaseRetries == nil {
		n := DefaultReleaseRetries
		c.Lock.ReleaseRetries = &n
	}
	if c.Report.Model == "" {
		c.Report.Model = DefaultModel
	}
	if c.Users == nil {
		c.Users = map[string]string{}
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

func (c *Config) applyEnv() {
	if c.Drive.ClientSecret == "" {
		c.Drive.ClientSecret = os.Getenv("TSF_DRIVE_CLIENT_SECRET")
	}
	c.Report.APIKey = os.Getenv("GEMINI_API_KEY")
	if c.Report.APIKey == "" {
		c.Report.APIKey = os.Getenv("GOOGLE_API_KEY")
	}
}

// Validate checks values that cannot be defaulted.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case BackendLocal, BackendDrive:
	default:
		return fmt.Errorf("unknown store backend %q (want %q or %q)", c.Store.Backend, BackendLocal, BackendDrive)
	}
	_, err := c.Lock.Settings()
	return err
}

// LockSettings are the parsed lock timings.
type LockSettings struct {
	PollInterval time.Duration
	Timeout      time.Duration
	// MaxAge is negative when expiry is disabled.
	MaxAge         time.Duration
	ReleaseRetries int
}

// Settings parses the lock durations.
func (l LockConfig) Settings() (LockSettings, error) {
	var s LockSettings
	var err error
	if s.PollInterval, err = parsePositive("lock.poll_interval", l.PollInterval, DefaultPollInterval); err != nil {
		return s, err
	}
	if s.Timeout, err = parsePositive("lock.timeout", l.Timeout, DefaultTimeout); err != nil {
		return s, err
	}
	maxAge := l.MaxAge
	if maxAge == "" {
		maxAge = DefaultMaxAge
	}
	if s.MaxAge, err = time.ParseDuration(maxAge); err != nil {
		return s, fmt.Errorf("lock.max_age: %w", err)
	}
	if s.MaxAge <= 0 {
		s.MaxAge = -1
	}
	s.ReleaseRetries = DefaultReleaseRetries
	if l.ReleaseRetries != nil {
		if *l.ReleaseRetries < 0 {
			return s, fmt.Errorf("lock.release_retries must not be negative")
		}
		s.ReleaseRetries = *l.ReleaseRetries
	}
	return s, nil
}

func parsePositive(name, value, def string) (time.Duration, error) {
	if value == "" {
		value = def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", name, value)
	}
	return d, nil
}

// writeDefault creates the config directory and writes the annotated default
// config template.
func writeDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0o600); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}
	return nil
}
