package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/timesheet-fiscal/internal/config"
	"github.com/Tiliavir/timesheet-fiscal/internal/gdrive"
	"github.com/Tiliavir/timesheet-fiscal/internal/lock"
	"github.com/Tiliavir/timesheet-fiscal/internal/logging"
	"github.com/Tiliavir/timesheet-fiscal/internal/session"
	"github.com/Tiliavir/timesheet-fiscal/internal/storage"
	"github.com/Tiliavir/timesheet-fiscal/internal/store"
	"github.com/Tiliavir/timesheet-fiscal/internal/table"
)

var (
	flagLogLevel string
	flagBackend  string
)

var rootCmd = &cobra.Command{
	Use:   "tsf",
	Short: "Timesheet Fiscal – team timesheets kept as CSV tables in a shared folder",
	Long: `tsf records time entries against companies, projects and activities.
Tables are ';'-separated CSV files in a shared folder (Google Drive or a
local directory). Writers take a per-table lock file; every write leaves a
timestamped backup in Backup_<table>.

Configuration lives in ~/.tsf/config.json (override the directory with TSF_HOME).`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// environment is what every command needs after setup.
type environment struct {
	dir    string
	cfg    config.Config
	logger *slog.Logger
	users  map[string]session.User
}

var env environment

// Execute is the entry point called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, describe(err))
		os.Exit(exitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error (default from config)")
	rootCmd.PersistentFlags().StringVar(&flagBackend, "backend", "", "Override the store backend: local or drive")
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(hashPasswordCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(newCatalogCmd(companyCatalog))
	rootCmd.AddCommand(newCatalogCmd(projectCatalog))
	rootCmd.AddCommand(newCatalogCmd(activityCatalog))
	rootCmd.AddCommand(entryCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(driveCmd)
}

func setup(cmd *cobra.Command, _ []string) error {
	dir, err := config.Dir()
	if err != nil {
		return err
	}
	cfg, err := config.LoadFrom(dir)
	if err != nil {
		return err
	}
	if flagBackend != "" {
		cfg.Store.Backend = flagBackend
		if err := cfg.Validate(); err != nil {
			return usageError{err}
		}
	}

	levelName := cfg.LogLevel
	if flagLogLevel != "" {
		levelName = flagLogLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return usageError{err}
	}
	logger, _ := logging.Stderr(level)
	slog.SetDefault(logger)

	users, invalid := session.ParseUsers(cfg.Users)
	for _, name := range invalid {
		logger.Warn("ignoring malformed user entry, expected \"Name|password\"", "user", name)
	}
	env = environment{dir: dir, cfg: cfg, logger: logger, users: users}
	return nil
}

func driveSettings() gdrive.Settings {
	return gdrive.Settings{
		ClientID:        env.cfg.Drive.ClientID,
		ClientSecret:    env.cfg.Drive.ClientSecret,
		CredentialsFile: env.cfg.Drive.CredentialsFile,
		TokenFile:       env.cfg.Drive.TokenFile,
	}
}

func openStore(ctx context.Context) (store.Store, error) {
	if env.cfg.Store.Backend == config.BackendDrive {
		client, err := gdrive.HTTPClient(ctx, driveSettings(), env.logger)
		if err != nil {
			return nil, err
		}
		return gdrive.New(ctx, client)
	}
	return storage.New(env.cfg.Store.LocalDir)
}

// openService connects to the store. user names the lock holder.
func openService(ctx context.Context, user string) (*table.Service, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	ls, err := env.cfg.Lock.Settings()
	if err != nil {
		return nil, err
	}
	retries := ls.ReleaseRetries
	if retries == 0 {
		retries = -1
	}
	return table.New(ctx, st, table.Options{
		RootFolder: env.cfg.Store.RootFolder,
		Logger:     env.logger,
		Lock: lock.Options{
			Holder:         lock.DefaultHolder(user),
			PollInterval:   ls.PollInterval,
			Timeout:        ls.Timeout,
			MaxAge:         ls.MaxAge,
			ReleaseRetries: retries,
			Logger:         env.logger,
		},
	})
}

// currentSession returns the logged-in user, refusing sessions of users
// that have since been removed from the configuration.
func currentSession() (*session.Session, error) {
	s, err := session.Require(session.Path(env.dir))
	if err != nil {
		return nil, err
	}
	if !s.Valid(env.users) {
		return nil, session.ErrNotLoggedIn
	}
	return s, nil
}

// loggedIn returns the session and a service whose locks name the user.
func loggedIn(ctx context.Context) (*session.Session, *table.Service, error) {
	s, err := currentSession()
	if err != nil {
		return nil, nil, err
	}
	svc, err := openService(ctx, s.Username)
	if err != nil {
		return nil, nil, err
	}
	return s, svc, nil
}

// usageError marks errors caused by the user's input.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return usageError{fmt.Errorf(format, args...)}
}

// exactArgs is cobra.ExactArgs reporting a usage error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

func describe(err error) string {
	switch {
	case errors.Is(err, lock.ErrBusy):
		return "System busy, retry. (" + err.Error() + ")"
	case table.IsIntegrity(err):
		return "Cannot safely edit: " + err.Error()
	case errors.Is(err, session.ErrNotLoggedIn):
		return "Not logged in (run: tsf login <user>)."
	}
	return err.Error()
}

// exitCode is 1 for errors the user can correct and 2 for storage or
// internal failures.
func exitCode(err error) int {
	var ue usageError
	switch {
	case errors.As(err, &ue),
		errors.Is(err, lock.ErrBusy),
		errors.Is(err, table.ErrNoIdentifier),
		errors.Is(err, table.ErrNotFound),
		errors.Is(err, table.ErrDuplicateKey),
		errors.Is(err, table.ErrEmptyKey),
		errors.Is(err, table.ErrUnknownTable),
		errors.Is(err, table.ErrUnknownColumn),
		errors.Is(err, session.ErrNotLoggedIn),
		errors.Is(err, session.ErrBadCredentials),
		errors.Is(err, gdrive.ErrNoToken):
		return 1
	}
	return 2
}
