package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/timesheet-fiscal/internal/gdrive"
)

var driveCmd = &cobra.Command{
	Use:   "drive",
	Short: "Google Drive backend",
}

var driveLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authorize tsf to use Google Drive (device code flow)",
	Args:  exactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		s := driveSettings()
		if s.CredentialsFile != "" {
			fmt.Fprintln(cmd.OutOrStdout(), "A service account is configured; no login needed.")
			return nil
		}
		if s.ClientID == "" {
			return usagef("drive.client_id is not configured in %s", env.dir)
		}
		if _, err := gdrive.Login(cmd.Context(), s, cmd.ErrOrStderr()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Signed in. Token saved to %s.\n", s.TokenFile)
		return nil
	},
}

func init() {
	driveCmd.AddCommand(driveLoginCmd)
}
