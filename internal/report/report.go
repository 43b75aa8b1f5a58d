// Package report selects and aggregates time entries and turns them into
// the text handed to the summarization service.
package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Tiliavir/timesheet-fiscal/internal/model"
	"github.com/Tiliavir/timesheet-fiscal/internal/table"
	"github.com/Tiliavir/timesheet-fiscal/internal/timecalc"
)

// Filter restricts the entries a report covers. Zero fields do not filter.
type Filter struct {
	User string
	From time.Time
	To   time.Time
}

// Selection is the result of Select.
type Selection struct {
	Entries []model.TimeEntry
	// Excluded counts rows left out because their date is not a stored
	// YYYY-MM-DD value.
	Excluded int
}

// Select returns the entries of rows that match f, ordered by date.
func Select(rows []model.Row, f Filter) Selection {
	var sel Selection
	var from, to string
	if !f.From.IsZero() {
		from = f.From.Format(timecalc.DateLayout)
	}
	if !f.To.IsZero() {
		to = f.To.Format(timecalc.DateLayout)
	}
	for _, r := range rows {
		e := model.TimeEntryFromRow(r)
		if !timecalc.IsStoredDate(e.Date) {
			sel.Excluded++
			continue
		}
		// Stored dates compare correctly as strings.
		if (f.User != "" && e.User != f.User) || (from != "" && e.Date < from) || (to != "" && e.Date > to) {
			continue
		}
		sel.Entries = append(sel.Entries, e)
	}
	sort.SliceStable(sel.Entries, func(i, j int) bool { return sel.Entries[i].Date < sel.Entries[j].Date })
	return sel
}

// Dimension is what Totals groups by.
type Dimension string

const (
	ByProject  Dimension = "project"
	ByActivity Dimension = "activity"
	ByCompany  Dimension = "company"
	ByUser     Dimension = "user"
	ByDate     Dimension = "date"
)

// ParseDimension validates s.
func ParseDimension(s string) (Dimension, error) {
	switch d := Dimension(strings.ToLower(s)); d {
	case ByProject, ByActivity, ByCompany, ByUser, ByDate:
		return d, nil
	}
	return "", fmt.Errorf("unknown grouping %q (want project, activity, company, user or date)", s)
}

func (d Dimension) of(e model.TimeEntry) string {
	switch d {
	case ByActivity:
		return e.Activity
	case ByCompany:
		return e.Company
	case ByUser:
		if e.DisplayName != "" {
			return e.DisplayName
		}
		return e.User
	case ByDate:
		return e.Date
	default:
		return e.Project
	}
}

// Total is the time booked under one key.
type Total struct {
	Key     string
	Minutes int
	Entries int
}

// Totals sums durations per key, largest first. Empty or malformed
// durations count as zero.
func Totals(entries []model.TimeEntry, by Dimension) []Total {
	idx := map[string]int{}
	var totals []Total
	for _, e := range entries {
		key := by.of(e)
		if key == "" {
			key = "(none)"
		}
		i, ok := idx[key]
		if !ok {
			i = len(totals)
			idx[key] = i
			totals = append(totals, Total{Key: key})
		}
		m, _ := timecalc.DurationMinutes(e.Duration)
		totals[i].Minutes += m
		totals[i].Entries++
	}
	sort.SliceStable(totals, func(i, j int) bool {
		if totals[i].Minutes != totals[j].Minutes {
			return totals[i].Minutes > totals[j].Minutes
		}
		return totals[i].Key < totals[j].Key
	})
	if by == ByDate {
		sort.SliceStable(totals, func(i, j int) bool { return totals[i].Key < totals[j].Key })
	}
	return totals
}

// Sum returns the total minutes of entries.
func Sum(entries []model.TimeEntry) int {
	total := 0
	for _, e := range entries {
		m, _ := timecalc.DurationMinutes(e.Duration)
		total += m
	}
	return total
}

// EntryColumns are the columns sent to the summarizer.
var EntryColumns = []string{
	model.ColEntryDisplayName, model.ColEntryDate, model.ColEntryCompany,
	model.ColEntryProject, model.ColEntryActivity, model.ColEntryTaskCount,
	model.ColEntryDuration, model.ColEntryNote,
}

// EntriesTable renders entries as a markdown table of EntryColumns.
func EntriesTable(entries []model.TimeEntry) string {
	rows := make([]model.Row, len(entries))
	for i, e := range entries {
		rows[i] = e.Row()
	}
	return MarkdownTable(EntryColumns, rows)
}

// MarkdownTable renders rows as a pipe table.
func MarkdownTable(columns []string, rows []model.Row) string {
	var b strings.Builder
	b.WriteString("|")
	for _, c := range columns {
		b.WriteString(" " + escapeCell(c) + " |")
	}
	b.WriteString("\n|")
	for range columns {
		b.WriteString(" --- |")
	}
	b.WriteString("\n")
	for _, r := range rows {
		b.WriteString("|")
		for _, c := range columns {
			b.WriteString(" " + escapeCell(r[c]) + " |")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, `|`, `\|`)
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}

// TotalsTable renders totals with formatted durations.
func TotalsTable(title string, totals []Total) string {
	rows := make([]model.Row, len(totals))
	for i, t := range totals {
		rows[i] = model.Row{title: t.Key, "Horas": timecalc.FormatHHMM(t.Minutes), "Lançamentos": fmt.Sprint(t.Entries)}
	}
	return MarkdownTable([]string{title, "Horas", "Lançamentos"}, rows)
}

// TableLoader loads a table by name.
type TableLoader interface {
	Load(ctx context.Context, name string) (*table.Snapshot, error)
}

// LoadTables loads the named tables concurrently.
func LoadTables(ctx context.Context, l TableLoader, names ...string) (map[string]*table.Table, error) {
	results := make([]*table.Table, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			snap, err := l.Load(gctx, name)
			if err != nil {
				return err
			}
			results[i] = &snap.Table
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(map[string]*table.Table, len(names))
	for i, name := range names {
		out[name] = results[i]
	}
	return out, nil
}
