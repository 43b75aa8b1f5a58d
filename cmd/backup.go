package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/timesheet-fiscal/internal/backup"
	"github.com/Tiliavir/timesheet-fiscal/internal/model"
	"github.com/Tiliavir/timesheet-fiscal/internal/report"
	"github.com/Tiliavir/timesheet-fiscal/internal/store"
	"github.com/Tiliavir/timesheet-fiscal/internal/table"
)

var backupYes bool

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Inspect and restore table backups",
}

var backupListCmd = &cobra.Command{
	Use:   "list <table>",
	Short: "List the backups of a table, newest first",
	Args:  exactArgs(1),
	RunE:  runBackupList,
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <table> <backup>",
	Short: "Replace a table with one of its backups (by file ID or name)",
	Args:  exactArgs(2),
	RunE:  runBackupRestore,
}

func init() {
	backupRestoreCmd.Flags().BoolVar(&backupYes, "yes", false, "Confirm the restore")
	backupCmd.AddCommand(backupListCmd, backupRestoreCmd)
}

// knownTable rejects table names that are not registered.
func knownTable(svc *table.Service, name string) error {
	if _, ok := svc.Registry().Lookup(name); !ok {
		return usagef("unknown table %q (known: %s)", name, strings.Join(svc.Registry().Names(), ", "))
	}
	return nil
}

func runBackupList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	_, svc, err := loggedIn(ctx)
	if err != nil {
		return err
	}
	if err := knownTable(svc, args[0]); err != nil {
		return err
	}
	files, err := svc.Backups().List(ctx, args[0])
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if len(files) == 0 {
		fmt.Fprintln(w, "No backups found.")
		return nil
	}
	rows := make([]model.Row, 0, len(files))
	for _, f := range files {
		r := model.Row{"ID": f.ID, "Name": f.Name}
		if n, ok := backup.ParseName(f.Name); ok {
			r["Taken"] = n.Taken.Local().Format(submittedLayout)
			r["Revision"] = n.Revision
		}
		rows = append(rows, r)
	}
	fmt.Fprint(w, report.MarkdownTable([]string{"Taken", "Revision", "ID", "Name"}, rows))
	return nil
}

func runBackupRestore(cmd *cobra.Command, args []string) error {
	if !backupYes {
		return usagef("restoring replaces the current %s table; confirm with --yes", args[0])
	}
	ctx := cmd.Context()
	_, svc, err := loggedIn(ctx)
	if err != nil {
		return err
	}
	if err := knownTable(svc, args[0]); err != nil {
		return err
	}
	if err := svc.Restore(ctx, args[0], args[1]); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return usagef("no backup %q of table %s", args[1], args[0])
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Restored %s from %s.\n", args[0], args[1])
	return nil
}
