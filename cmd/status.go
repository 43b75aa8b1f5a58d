package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/timesheet-fiscal/internal/model"
	"github.com/Tiliavir/timesheet-fiscal/internal/report"
	"github.com/Tiliavir/timesheet-fiscal/internal/timecalc"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show who is logged in and the hours booked today and this week",
	Args:  exactArgs(0),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, svc, err := loggedIn(ctx)
	if err != nil {
		return err
	}
	snap, err := svc.Load(ctx, model.TableTimesheet)
	if err != nil {
		return err
	}

	t := now()
	from, to := timecalc.WeekRange(t)
	week := report.Select(snap.Rows, report.Filter{User: s.Username, From: from, To: to})
	today := report.Select(snap.Rows, report.Filter{User: s.Username, From: timecalc.StartOfDay(t), To: timecalc.StartOfDay(t)})

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "User: %s (%s)\n", s.DisplayName, s.Username)
	fmt.Fprintf(w, "Store: %s, folder %s\n", env.cfg.Store.Backend, env.cfg.Store.RootFolder)
	fmt.Fprintf(w, "Revision: %s\n", revisionOf(snap.File.Version))
	fmt.Fprintf(w, "Today: %s in %d entries\n", timecalc.FormatDuration(report.Sum(today.Entries)), len(today.Entries))
	fmt.Fprintf(w, "Week %s: %s in %d entries\n", timecalc.ISOWeekLabel(t),
		timecalc.FormatDuration(report.Sum(week.Entries)), len(week.Entries))
	return nil
}

func revisionOf(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
