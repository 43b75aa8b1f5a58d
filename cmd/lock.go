package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var lockYes bool

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Inspect and clear table locks",
}

var lockStatusCmd = &cobra.Command{
	Use:   "status [table]",
	Short: "Show who holds the lock of a table (default: all tables)",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) > 1 {
			return usagef("accepts at most 1 arg, received %d", len(args))
		}
		return nil
	},
	RunE: runLockStatus,
}

var lockClearCmd = &cobra.Command{
	Use:   "clear <table>",
	Short: "Delete a table's lock left behind by a crashed process",
	Args:  exactArgs(1),
	RunE:  runLockClear,
}

func init() {
	lockClearCmd.Flags().BoolVar(&lockYes, "yes", false, "Confirm clearing the lock")
	lockCmd.AddCommand(lockStatusCmd, lockClearCmd)
}

func runLockStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	_, svc, err := loggedIn(ctx)
	if err != nil {
		return err
	}
	tables := svc.Registry().Names()
	if len(args) == 1 {
		if err := knownTable(svc, args[0]); err != nil {
			return err
		}
		tables = args
	}

	w := cmd.OutOrStdout()
	t := now()
	for _, name := range tables {
		infos, err := svc.Locks().Inspect(ctx, name)
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Fprintf(w, "%s: free\n", name)
			continue
		}
		for _, in := range infos {
			stale := ""
			if in.Stale {
				stale = " (stale)"
			}
			holder := in.Holder
			if holder == "" {
				holder = "unknown holder"
			}
			if in.AcquiredAt.IsZero() {
				fmt.Fprintf(w, "%s: locked by %s%s\n", name, holder, stale)
				continue
			}
			age := int64(t.Sub(in.AcquiredAt).Seconds())
			if age < 0 {
				age = 0
			}
			fmt.Fprintf(w, "%s: locked by %s since %s (%s ago)%s\n",
				name, holder, in.AcquiredAt.Local().Format("15:04:05"), formatElapsed(age), stale)
		}
	}
	return nil
}

func runLockClear(cmd *cobra.Command, args []string) error {
	if !lockYes {
		return usagef("clearing a lock held by a running writer can corrupt %s; confirm with --yes", args[0])
	}
	ctx := cmd.Context()
	_, svc, err := loggedIn(ctx)
	if err != nil {
		return err
	}
	if err := knownTable(svc, args[0]); err != nil {
		return err
	}
	n, err := svc.Locks().ForceRelease(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d lock file(s) of %s.\n", n, args[0])
	return nil
}

// formatElapsed formats seconds like "1h 2m 3s", dropping leading zero units.
func formatElapsed(seconds int64) string {
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
