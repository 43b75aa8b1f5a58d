package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/timesheet-fiscal/internal/model"
	"github.com/Tiliavir/timesheet-fiscal/internal/report"
	"github.com/Tiliavir/timesheet-fiscal/internal/timecalc"
)

var (
	reportFrom   string
	reportTo     string
	reportWeek   bool
	reportMonth  bool
	reportAll    bool
	reportUser   string
	reportBy     string
	reportFormat string
	reportAI     bool
	reportOut    string
	reportWidth  int
)

// newSummarizer is replaced in tests.
var newSummarizer = func(ctx context.Context, apiKey, model string) (report.Summarizer, error) {
	return report.NewGenAISummarizer(ctx, apiKey, model)
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show aggregated hours, or an AI performance review with --ai",
	Long: `Aggregates timesheet hours for a period (default: this week) by project,
activity, company, user or date. With --ai the selected entries are sent to
the configured Gemini model and the returned review is rendered in the
terminal; --out also saves it as a markdown file.`,
	Args: exactArgs(0),
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportFrom, "from", "", "First date to include")
	reportCmd.Flags().StringVar(&reportTo, "to", "", "Last date to include")
	reportCmd.Flags().BoolVar(&reportWeek, "week", false, "This week (default)")
	reportCmd.Flags().BoolVar(&reportMonth, "month", false, "This month")
	reportCmd.Flags().BoolVar(&reportAll, "all", false, "No date restriction")
	reportCmd.Flags().StringVar(&reportUser, "user", "", "Only entries of this user")
	reportCmd.Flags().StringVar(&reportBy, "by", string(report.ByProject), "Group by: project, activity, company, user, date")
	reportCmd.Flags().StringVar(&reportFormat, "format", "md", "Output format: md, csv, json")
	reportCmd.Flags().BoolVar(&reportAI, "ai", false, "Generate a performance review with the summarization model")
	reportCmd.Flags().StringVar(&reportOut, "out", "", "Also write the AI review to this markdown file")
	reportCmd.Flags().IntVar(&reportWidth, "width", 100, "Wrap width of the rendered AI review")
}

// reportPeriod returns the filter and a label for the selected period.
func reportPeriod() (report.Filter, string, error) {
	f := report.Filter{User: reportUser}
	t := now()
	switch {
	case reportAll:
		return f, "all entries", nil
	case reportFrom != "" || reportTo != "":
		var err error
		if f.From, f.To, err = parseRange(reportFrom, reportTo); err != nil {
			return f, "", err
		}
		return f, periodLabel(f.From, f.To), nil
	case reportMonth:
		f.From, f.To = timecalc.MonthRange(t)
		return f, t.Format("2006-01"), nil
	default:
		f.From, f.To = timecalc.WeekRange(t)
		return f, "week " + timecalc.ISOWeekLabel(t), nil
	}
}

func periodLabel(from, to time.Time) string {
	switch {
	case from.IsZero():
		return "until " + to.Format(timecalc.DateLayout)
	case to.IsZero():
		return "since " + from.Format(timecalc.DateLayout)
	}
	return from.Format(timecalc.DateLayout) + " to " + to.Format(timecalc.DateLayout)
}

func runReport(cmd *cobra.Command, args []string) error {
	by, err := report.ParseDimension(reportBy)
	if err != nil {
		return usageError{err}
	}
	switch reportFormat {
	case "md", "csv", "json":
	default:
		return usagef("unknown --format %q (want md, csv or json)", reportFormat)
	}
	f, label, err := reportPeriod()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	_, svc, err := loggedIn(ctx)
	if err != nil {
		return err
	}
	snap, err := svc.Load(ctx, model.TableTimesheet)
	if err != nil {
		return err
	}
	sel := report.Select(snap.Rows, f)
	if sel.Excluded > 0 {
		env.logger.Warn("entries without a valid date left out of the report", "count", sel.Excluded)
	}

	if reportAI {
		return runAIReport(ctx, cmd.OutOrStdout(), sel.Entries)
	}

	w := cmd.OutOrStdout()
	totals := report.Totals(sel.Entries, by)
	sum := report.Sum(sel.Entries)
	switch reportFormat {
	case "csv":
		fmt.Fprintf(w, "%s,duration_minutes,entries\n", by)
		for _, t := range totals {
			fmt.Fprintf(w, "%s,%d,%d\n", csvEscape(t.Key), t.Minutes, t.Entries)
		}
	case "json":
		type row struct {
			Key             string `json:"key"`
			DurationMinutes int    `json:"duration_minutes"`
			Entries         int    `json:"entries"`
		}
		out := struct {
			Period       string `json:"period"`
			By           string `json:"by"`
			Totals       []row  `json:"totals"`
			TotalMinutes int    `json:"total_minutes"`
		}{Period: label, By: string(by), Totals: []row{}, TotalMinutes: sum}
		for _, t := range totals {
			out.Totals = append(out.Totals, row{t.Key, t.Minutes, t.Entries})
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding JSON: %w", err)
		}
		fmt.Fprintln(w, string(data))
	default:
		fmt.Fprintf(w, "Report %s\n\n", label)
		if len(totals) == 0 {
			fmt.Fprintln(w, "No entries found.")
			return nil
		}
		fmt.Fprint(w, report.TotalsTable(strings.ToUpper(string(by[:1]))+string(by[1:]), totals))
		fmt.Fprintf(w, "\nTotal: %s in %d entries\n", timecalc.FormatHHMM(sum), len(sel.Entries))
	}
	return nil
}

func runAIReport(ctx context.Context, w io.Writer, entries []model.TimeEntry) error {
	if len(entries) == 0 {
		return usagef("no entries in the selected period")
	}
	s, err := newSummarizer(ctx, env.cfg.Report.APIKey, env.cfg.Report.Model)
	if err != nil {
		return err
	}
	env.logger.Info("requesting review", "model", env.cfg.Report.Model, "entries", len(entries))
	text, err := s.Summarize(ctx, report.Prompt(env.cfg.Report.Instruction, report.EntriesTable(entries)))
	if err != nil {
		return err
	}
	md := report.ParseDocument(text).Markdown()
	if reportOut != "" {
		if err := os.WriteFile(reportOut, []byte(md), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", reportOut, err)
		}
		env.logger.Info("review saved", "path", reportOut)
	}
	rendered, err := report.Render(md, reportWidth)
	if err != nil {
		return fmt.Errorf("rendering review: %w", err)
	}
	fmt.Fprint(w, rendered)
	return nil
}
