package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/timesheet-fiscal/internal/model"
	"github.com/Tiliavir/timesheet-fiscal/internal/report"
	"github.com/Tiliavir/timesheet-fiscal/internal/session"
	"github.com/Tiliavir/timesheet-fiscal/internal/table"
	"github.com/Tiliavir/timesheet-fiscal/internal/timecalc"
)

// submittedLayout is the format of the registration timestamp column.
const submittedLayout = "2006-01-02 15:04:05"

// now is replaced in tests.
var now = time.Now

var (
	entryDate     string
	entryCompany  string
	entryProject  string
	entryActivity string
	entryTasks    string
	entryHours    string
	entryNote     string

	entryFrom     string
	entryTo       string
	entryToday    bool
	entryAll      bool
	entryEveryone bool
	entryFormat   string
	entryYes      bool
)

var entryCmd = &cobra.Command{
	Use:   "entry",
	Short: "Record and review timesheet entries",
}

var entryAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Record hours spent on an activity",
	Args:  exactArgs(0),
	RunE:  runEntryAdd,
}

var entryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your entries (default: this week)",
	Args:  exactArgs(0),
	RunE:  runEntryList,
}

var entryUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change fields of one of your entries",
	Args:  exactArgs(1),
	RunE:  runEntryUpdate,
}

var entryDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete one of your entries",
	Args:  exactArgs(1),
	RunE:  runEntryDelete,
}

var entryExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export entries to stdout (default: this week)",
	Args:  exactArgs(0),
	RunE:  runEntryExport,
}

func init() {
	for _, c := range []*cobra.Command{entryAddCmd, entryUpdateCmd} {
		c.Flags().StringVar(&entryDate, "date", "", "Work date (YYYY-MM-DD or DD/MM/YYYY; default today)")
		c.Flags().StringVar(&entryCompany, "company", "", "Company SAP code or name")
		c.Flags().StringVar(&entryProject, "project", "", "Project name")
		c.Flags().StringVar(&entryActivity, "activity", "", "Activity name")
		c.Flags().StringVar(&entryTasks, "tasks", "", "Number of tasks completed")
		c.Flags().StringVar(&entryHours, "hours", "", "Time spent (HH:MM, H:MM or decimal hours such as 1.5)")
		c.Flags().StringVar(&entryNote, "note", "", "Free-text observation")
	}
	for _, c := range []*cobra.Command{entryListCmd, entryExportCmd} {
		c.Flags().StringVar(&entryFrom, "from", "", "First date to include")
		c.Flags().StringVar(&entryTo, "to", "", "Last date to include")
		c.Flags().BoolVar(&entryToday, "today", false, "Only today")
		c.Flags().BoolVar(&entryAll, "all", false, "No date restriction")
		c.Flags().BoolVar(&entryEveryone, "everyone", false, "Include entries of all users")
	}
	entryExportCmd.Flags().StringVar(&entryFormat, "format", "csv", "Output format: csv, json, md")
	entryDeleteCmd.Flags().BoolVar(&entryYes, "yes", false, "Confirm the deletion")

	entryCmd.AddCommand(entryAddCmd, entryListCmd, entryUpdateCmd, entryDeleteCmd, entryExportCmd)
}

// entryFields collects the entry flags set on cmd, normalized.
func entryFields(cmd *cobra.Command) (model.Row, error) {
	row := model.Row{}
	set := func(flag, column, value string) {
		if cmd.Flags().Changed(flag) {
			row[column] = strings.TrimSpace(value)
		}
	}
	set("date", model.ColEntryDate, entryDate)
	set("company", model.ColEntryCompany, entryCompany)
	set("project", model.ColEntryProject, entryProject)
	set("activity", model.ColEntryActivity, entryActivity)
	set("tasks", model.ColEntryTaskCount, entryTasks)
	set("hours", model.ColEntryDuration, entryHours)
	set("note", model.ColEntryNote, entryNote)

	if v, ok := row[model.ColEntryDate]; ok {
		d, valid := timecalc.NormalizeDate(v)
		if !valid {
			return nil, usagef("invalid --date %q", v)
		}
		row[model.ColEntryDate] = d
	}
	if v, ok := row[model.ColEntryDuration]; ok {
		d, valid := timecalc.NormalizeDuration(v)
		if !valid {
			return nil, usagef("invalid --hours %q", v)
		}
		row[model.ColEntryDuration] = d
	}
	if v, ok := row[model.ColEntryTaskCount]; ok && v != "" {
		if n, err := strconv.Atoi(v); err != nil || n < 0 {
			return nil, usagef("invalid --tasks %q: want a non-negative number", v)
		}
	}
	return row, nil
}

// resolveCatalog checks company, project and activity of row against the
// catalog tables, fills in the project's team and canonicalizes the company
// to its SAP code.
func resolveCatalog(ctx context.Context, svc *table.Service, row model.Row) error {
	tables, err := report.LoadTables(ctx, svc, model.TableCompanies, model.TableProjects, model.TableActivities)
	if err != nil {
		return err
	}

	if c := row[model.ColEntryCompany]; c != "" {
		found := false
		for _, r := range tables[model.TableCompanies].Rows {
			co := model.CompanyFromRow(r)
			if co.Code == c || strings.EqualFold(co.Name, c) {
				row[model.ColEntryCompany] = co.Code
				found = true
				break
			}
		}
		if !found {
			return usagef("company %q does not exist", c)
		}
	}

	if p := row[model.ColEntryProject]; p != "" {
		var project *model.Project
		for _, r := range tables[model.TableProjects].Rows {
			if pr := model.ProjectFromRow(r); pr.Name == p {
				project = &pr
				break
			}
		}
		if project == nil {
			return usagef("project %q does not exist", p)
		}
		if project.Status == model.StatusInactive {
			return usagef("project %q is inactive", p)
		}
		row[model.ColEntryTeam] = project.Team
	}

	if a := row[model.ColEntryActivity]; a != "" {
		var activity *model.Activity
		for _, r := range tables[model.TableActivities].Rows {
			if ac := model.ActivityFromRow(r); ac.Name == a {
				activity = &ac
				break
			}
		}
		if activity == nil {
			return usagef("activity %q does not exist", a)
		}
		if activity.Status == model.StatusInactive {
			return usagef("activity %q is inactive", a)
		}
		if p := row[model.ColEntryProject]; p != "" && activity.Project != "" && activity.Project != p {
			return usagef("activity %q belongs to project %q, not %q", a, activity.Project, p)
		}
	}
	return nil
}

func runEntryAdd(cmd *cobra.Command, args []string) error {
	row, err := entryFields(cmd)
	if err != nil {
		return err
	}
	for _, required := range []struct{ flag, column string }{
		{"project", model.ColEntryProject},
		{"activity", model.ColEntryActivity},
		{"hours", model.ColEntryDuration},
	} {
		if row[required.column] == "" {
			return usagef("--%s is required", required.flag)
		}
	}
	t := now()
	if row[model.ColEntryDate] == "" {
		row[model.ColEntryDate] = t.Format(timecalc.DateLayout)
	}

	ctx := cmd.Context()
	s, svc, err := loggedIn(ctx)
	if err != nil {
		return err
	}
	if err := resolveCatalog(ctx, svc, row); err != nil {
		return err
	}
	row[model.ColEntryUser] = s.Username
	row[model.ColEntryDisplayName] = s.DisplayName
	row[model.ColEntrySubmittedAt] = t.Format(submittedLayout)

	added, err := svc.Append(ctx, model.TableTimesheet, []model.Row{row})
	if err != nil {
		return err
	}
	e := model.TimeEntryFromRow(added[0])
	fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s on %s for %s / %s (id %s).\n",
		e.Duration, e.Date, e.Project, e.Activity, e.ID)
	return nil
}

// entryFilter turns the range flags into a filter for user s.
func entryFilter(s *session.Session) (report.Filter, error) {
	f := report.Filter{}
	if !entryEveryone {
		f.User = s.Username
	}
	t := now()
	switch {
	case entryAll:
	case entryToday:
		f.From, f.To = timecalc.StartOfDay(t), timecalc.StartOfDay(t)
	case entryFrom != "" || entryTo != "":
		var err error
		if f.From, f.To, err = parseRange(entryFrom, entryTo); err != nil {
			return f, err
		}
	default:
		f.From, f.To = timecalc.WeekRange(t)
	}
	return f, nil
}

// parseRange parses optional --from/--to dates.
func parseRange(from, to string) (time.Time, time.Time, error) {
	var f, t time.Time
	var ok bool
	if from != "" {
		if f, ok = timecalc.ParseDate(from); !ok {
			return f, t, usagef("invalid --from %q", from)
		}
	}
	if to != "" {
		if t, ok = timecalc.ParseDate(to); !ok {
			return f, t, usagef("invalid --to %q", to)
		}
	}
	if !f.IsZero() && !t.IsZero() && t.Before(f) {
		return f, t, usagef("--to %s is before --from %s", to, from)
	}
	return f, t, nil
}

// selectEntries loads the timesheet and applies the range flags.
func selectEntries(ctx context.Context) (report.Selection, error) {
	s, svc, err := loggedIn(ctx)
	if err != nil {
		return report.Selection{}, err
	}
	f, err := entryFilter(s)
	if err != nil {
		return report.Selection{}, err
	}
	snap, err := svc.Load(ctx, model.TableTimesheet)
	if err != nil {
		return report.Selection{}, err
	}
	sel := report.Select(snap.Rows, f)
	if sel.Excluded > 0 {
		env.logger.Warn("entries without a valid date left out", "count", sel.Excluded)
	}
	return sel, nil
}

func runEntryList(cmd *cobra.Command, args []string) error {
	sel, err := selectEntries(cmd.Context())
	if err != nil {
		return err
	}
	printList(cmd.OutOrStdout(), sel.Entries)
	return nil
}

// printList groups entries by date and prints them.
func printList(w io.Writer, entries []model.TimeEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No entries found.")
		return
	}

	var currentDay string
	dayMinutes := 0
	flush := func() {
		if currentDay != "" {
			fmt.Fprintf(w, "  total %s\n", timecalc.FormatHHMM(dayMinutes))
		}
	}
	for _, e := range entries {
		if e.Date != currentDay {
			flush()
			if d, ok := timecalc.ParseDate(e.Date); ok && timecalc.SameDay(d, now()) {
				fmt.Fprintln(w, e.Date, "(today)")
			} else {
				fmt.Fprintln(w, e.Date)
			}
			currentDay = e.Date
			dayMinutes = 0
		}
		m, _ := timecalc.DurationMinutes(e.Duration)
		dayMinutes += m

		dur := e.Duration
		if dur == "" {
			dur = "--:--"
		}
		note := ""
		if e.Note != "" {
			note = "  " + e.Note
		}
		fmt.Fprintf(w, "%s  %s / %s  [%s]%s\n", dur, e.Project, e.Activity, e.ID, note)
	}
	flush()
}

// ownEntry loads entry id and checks that it belongs to the logged-in user.
func ownEntry(ctx context.Context, id string) (*table.Service, error) {
	s, svc, err := loggedIn(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := svc.Load(ctx, model.TableTimesheet)
	if err != nil {
		return nil, err
	}
	for _, r := range snap.Rows {
		if r[model.IDColumn] != id {
			continue
		}
		if owner := r[model.ColEntryUser]; owner != s.Username {
			return nil, usagef("entry %s belongs to %s", id, owner)
		}
		return svc, nil
	}
	return nil, &table.OpError{Op: "update", Table: model.TableTimesheet, Key: id, Err: table.ErrNotFound}
}

func runEntryUpdate(cmd *cobra.Command, args []string) error {
	fields, err := entryFields(cmd)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return usagef("nothing to update: pass at least one field flag")
	}
	ctx := cmd.Context()
	svc, err := ownEntry(ctx, args[0])
	if err != nil {
		return err
	}
	if err := resolveCatalog(ctx, svc, fields); err != nil {
		return err
	}
	if err := svc.UpdateByID(ctx, model.TableTimesheet, args[0], fields); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Updated entry %s.\n", args[0])
	return nil
}

func runEntryDelete(cmd *cobra.Command, args []string) error {
	if !entryYes {
		return usagef("deleting entry %s is permanent; confirm with --yes", args[0])
	}
	ctx := cmd.Context()
	svc, err := ownEntry(ctx, args[0])
	if err != nil {
		return err
	}
	if err := svc.DeleteByID(ctx, model.TableTimesheet, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted entry %s.\n", args[0])
	return nil
}

func runEntryExport(cmd *cobra.Command, args []string) error {
	switch entryFormat {
	case "csv", "json", "md":
	default:
		return usagef("unknown --format %q (want csv, json or md)", entryFormat)
	}
	sel, err := selectEntries(cmd.Context())
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	switch entryFormat {
	case "json":
		entries := sel.Entries
		if entries == nil {
			entries = []model.TimeEntry{}
		}
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding JSON: %w", err)
		}
		fmt.Fprintln(w, string(data))
	case "md":
		fmt.Fprint(w, report.EntriesTable(sel.Entries))
	default:
		printCSV(w, sel.Entries)
	}
	return nil
}

func printCSV(w io.Writer, entries []model.TimeEntry) {
	fmt.Fprintln(w, "id,user,date,company,project,team,activity,tasks,duration,duration_minutes,note,submitted_at")
	for _, e := range entries {
		minutes, _ := timecalc.DurationMinutes(e.Duration)
		fields := []string{e.ID, e.User, e.Date, e.Company, e.Project, e.Team, e.Activity, e.TaskCount, e.Duration}
		for i, f := range fields {
			fields[i] = csvEscape(f)
		}
		fmt.Fprintf(w, "%s,%d,%s,%s\n", strings.Join(fields, ","), minutes, csvEscape(e.Note), csvEscape(e.SubmittedAt))
	}
}

// csvEscape wraps a field in quotes if it contains a comma, quote, or newline.
func csvEscape(s string) string {
	if !strings.ContainsAny(s, ",\"\n\r") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
