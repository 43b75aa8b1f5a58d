package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/timesheet-fiscal/internal/session"
)

var loginPassword string

var loginCmd = &cobra.Command{
	Use:   "login <user>",
	Short: "Log in as a configured user",
	Long: `Log in as one of the users listed in the "users" section of the config.
Without --password the password is read from the first line of stdin.`,
	Args: exactArgs(1),
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the current session",
	Args:  exactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := session.Remove(session.Path(env.dir)); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged-in user",
	Args:  exactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := currentSession()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%s), logged in since %s\n",
			s.DisplayName, s.Username, s.CreatedAt.Local().Format("2006-01-02 15:04"))
		return nil
	},
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Print a bcrypt hash of a password read from stdin, for the users config",
	Args:  exactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		pw, err := readLine(cmd.InOrStdin())
		if err != nil {
			return err
		}
		if pw == "" {
			return usagef("empty password")
		}
		hash, err := session.HashPassword(pw)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Password (read from stdin when omitted)")
}

func runLogin(cmd *cobra.Command, args []string) error {
	password := loginPassword
	if !cmd.Flags().Changed("password") {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		var err error
		if password, err = readLine(cmd.InOrStdin()); err != nil {
			return err
		}
	}

	s, err := session.Authenticate(env.users, args[0], password, time.Now())
	if err != nil {
		return usageError{err}
	}
	if err := session.Save(session.Path(env.dir), s); err != nil {
		return err
	}
	env.logger.Debug("session created", "user", s.Username)
	fmt.Fprintf(cmd.OutOrStdout(), "Welcome, %s!\n", s.DisplayName)
	return nil
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
