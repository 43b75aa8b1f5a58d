package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tiliavir/timesheet-fiscal/internal/config"
	"github.com/Tiliavir/timesheet-fiscal/internal/lock"
	"github.com/Tiliavir/timesheet-fiscal/internal/model"
	"github.com/Tiliavir/timesheet-fiscal/internal/report"
	"github.com/Tiliavir/timesheet-fiscal/internal/session"
	"github.com/Tiliavir/timesheet-fiscal/internal/table"
)

const testConfig = `{
  // test users
  "store": {"backend": "local"},
  "lock": {"poll_interval": "10ms", "timeout": "200ms"},
  "users": {
    "ana": "Ana Souza|secret",
    "bruno": "Bruno Lima|hunter2"
  },
  "log_level": "error"
}`

// fixedNow is a Thursday; its week runs from 2026-10-12 to 2026-10-18.
var fixedNow = time.Date(2026, 10, 15, 10, 30, 0, 0, time.Local)

// newHome points TSF_HOME at a fresh directory holding testConfig and
// returns the directory of the local table store.
func newHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv(config.HomeEnv, home)
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.json"), []byte(testConfig), 0o600))

	prev := now
	now = func() time.Time { return fixedNow }
	t.Cleanup(func() { now = prev })
	return filepath.Join(home, "data", config.DefaultRootFolder)
}

// resetFlags restores every flag of c and its subcommands to its default,
// since flag values outlive a single Execute.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	require.NoError(t, err, "tsf %s", strings.Join(args, " "))
	return out
}

func login(t *testing.T, user, password string) {
	t.Helper()
	mustRun(t, "login", user, "--password", password)
}

// seedCatalog logs in as ana and creates one company, project and activity.
func seedCatalog(t *testing.T) {
	t.Helper()
	login(t, "ana", "secret")
	mustRun(t, "company", "add", "--code", "1000", "--name", "Acme Ltda")
	mustRun(t, "project", "add", "--name", "Fiscal", "--team", "TF")
	mustRun(t, "activity", "add", "--name", "Apuração", "--project", "Fiscal")
}

func exportEntries(t *testing.T, args ...string) []model.TimeEntry {
	t.Helper()
	out := mustRun(t, append([]string{"entry", "export", "--format", "json"}, args...)...)
	var entries []model.TimeEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	return entries
}

func TestSession(t *testing.T) {
	newHome(t)

	_, err := run(t, "whoami")
	require.ErrorIs(t, err, session.ErrNotLoggedIn)
	assert.Equal(t, 1, exitCode(err))

	_, err = run(t, "login", "ana", "--password", "wrong")
	require.ErrorIs(t, err, session.ErrBadCredentials)
	assert.Equal(t, 1, exitCode(err))

	out := mustRun(t, "login", "ana", "--password", "secret")
	assert.Equal(t, "Welcome, Ana Souza!\n", out)
	assert.Contains(t, mustRun(t, "whoami"), "Ana Souza (ana)")

	mustRun(t, "logout")
	_, err = run(t, "whoami")
	assert.ErrorIs(t, err, session.ErrNotLoggedIn)
}

func TestLoginReadsPasswordFromStdin(t *testing.T) {
	newHome(t)
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetIn(strings.NewReader("hunter2\n"))
	rootCmd.SetArgs([]string{"login", "bruno"})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "Welcome, Bruno Lima!\n", out.String())
}

func TestHashPassword(t *testing.T) {
	newHome(t)
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetIn(strings.NewReader("s3cret\n"))
	rootCmd.SetArgs([]string{"hash-password"})
	require.NoError(t, rootCmd.Execute())

	hash := strings.TrimSpace(out.String())
	assert.True(t, strings.HasPrefix(hash, "$2"), hash)
	users, invalid := session.ParseUsers(map[string]string{"carla": "Carla|" + hash})
	require.Empty(t, invalid)
	_, err := session.Authenticate(users, "carla", "s3cret", fixedNow)
	assert.NoError(t, err)
}

func TestCommandsRequireLogin(t *testing.T) {
	newHome(t)
	for _, args := range [][]string{
		{"company", "list"},
		{"entry", "add", "--project", "Fiscal", "--activity", "Apuração", "--hours", "1"},
		{"report"},
		{"status"},
	} {
		_, err := run(t, args...)
		assert.ErrorIs(t, err, session.ErrNotLoggedIn, "%v", args)
	}
}

func TestCatalog(t *testing.T) {
	newHome(t)
	seedCatalog(t)

	_, err := run(t, "company", "add", "--code", "1000", "--name", "Other")
	require.ErrorIs(t, err, table.ErrDuplicateKey)
	assert.Equal(t, 1, exitCode(err))

	_, err = run(t, "company", "add", "--name", "No code")
	assert.Equal(t, 1, exitCode(err))

	_, err = run(t, "activity", "add", "--name", "Conciliação", "--project", "Missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `project "Missing" does not exist`)

	_, err = run(t, "project", "add", "--name", "Contábil", "--status", "Pausado")
	assert.Equal(t, 1, exitCode(err))

	mustRun(t, "project", "add", "--name", "Contábil", "--team", "TC")
	mustRun(t, "project", "update", "Contábil", "--status", model.StatusInactive)
	out := mustRun(t, "project", "list", "--active")
	assert.Contains(t, out, "Fiscal")
	assert.NotContains(t, out, "Contábil")
	assert.Contains(t, mustRun(t, "project", "list"), "Contábil")

	mustRun(t, "company", "update", "1000", "--new-code", "2000", "--description", "Matriz")
	out = mustRun(t, "company", "list")
	assert.Contains(t, out, "| 2000 | Acme Ltda | Matriz |")

	_, err = run(t, "company", "delete", "2000")
	assert.Equal(t, 1, exitCode(err))
	mustRun(t, "company", "delete", "2000", "--yes")
	assert.Equal(t, "No entries found.\n", mustRun(t, "company", "list"))

	_, err = run(t, "company", "delete", "2000", "--yes")
	assert.ErrorIs(t, err, table.ErrNotFound)
	assert.True(t, strings.HasPrefix(describe(err), "Cannot safely edit: "))
}

func TestEntryAdd(t *testing.T) {
	dataDir := newHome(t)
	seedCatalog(t)

	out := mustRun(t, "entry", "add", "--date", "14/10/2026", "--company", "acme ltda",
		"--project", "Fiscal", "--activity", "Apuração", "--hours", "1,5", "--tasks", "3", "--note", "SPED; ICMS")
	assert.Contains(t, out, "Recorded 01:30 on 2026-10-14 for Fiscal / Apuração")

	entries := exportEntries(t)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Len(t, e.ID, 36)
	assert.Equal(t, "ana", e.User)
	assert.Equal(t, "Ana Souza", e.DisplayName)
	assert.Equal(t, "1000", e.Company)
	assert.Equal(t, "TF", e.Team)
	assert.Equal(t, "3", e.TaskCount)
	assert.Equal(t, "01:30", e.Duration)
	assert.Equal(t, "SPED; ICMS", e.Note)
	assert.Equal(t, "2026-10-15 10:30:00", e.SubmittedAt)

	data, err := os.ReadFile(filepath.Join(dataDir, "timesheet.csv"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\ufeffID;Usuário;Nome;Data;")), string(data))
	assert.Contains(t, string(data), `"SPED; ICMS"`)

	backups, err := filepath.Glob(filepath.Join(dataDir, "Backup_timesheet", "timesheet__*__rev-*.csv"))
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestEntryAddRejectsBadInput(t *testing.T) {
	newHome(t)
	seedCatalog(t)
	base := []string{"entry", "add", "--project", "Fiscal", "--activity", "Apuração"}

	for name, extra := range map[string][]string{
		"bad hours":        {"--hours", "abc"},
		"bad date":         {"--hours", "1", "--date", "31/02/2026"},
		"bad tasks":        {"--hours", "1", "--tasks", "-2"},
		"missing hours":    {},
		"unknown company":  {"--hours", "1", "--company", "9999"},
		"unknown activity": {"--hours", "1", "--activity", "Outra"},
	} {
		_, err := run(t, append(append([]string{}, base...), extra...)...)
		require.Error(t, err, name)
		assert.Equal(t, 1, exitCode(err), name)
	}
	assert.Empty(t, exportEntries(t, "--all"))
}

func TestEntryOwnership(t *testing.T) {
	newHome(t)
	seedCatalog(t)
	mustRun(t, "entry", "add", "--project", "Fiscal", "--activity", "Apuração", "--hours", "2")
	id := exportEntries(t)[0].ID

	login(t, "bruno", "hunter2")
	assert.Empty(t, exportEntries(t), "bruno sees only his own entries by default")
	assert.Len(t, exportEntries(t, "--everyone"), 1)

	_, err := run(t, "entry", "update", id, "--hours", "3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "belongs to ana")
	_, err = run(t, "entry", "delete", id, "--yes")
	assert.Equal(t, 1, exitCode(err))

	login(t, "ana", "secret")
	mustRun(t, "entry", "update", id, "--hours", "2:45", "--note", "revisado")
	e := exportEntries(t)[0]
	assert.Equal(t, "02:45", e.Duration)
	assert.Equal(t, "revisado", e.Note)
	assert.Equal(t, "Fiscal", e.Project)

	_, err = run(t, "entry", "update", "no-such-id", "--hours", "1")
	assert.ErrorIs(t, err, table.ErrNotFound)

	_, err = run(t, "entry", "delete", id)
	assert.Equal(t, 1, exitCode(err))
	mustRun(t, "entry", "delete", id, "--yes")
	assert.Empty(t, exportEntries(t, "--all"))
}

func TestEntryListAndExport(t *testing.T) {
	newHome(t)
	seedCatalog(t)
	mustRun(t, "entry", "add", "--project", "Fiscal", "--activity", "Apuração", "--hours", "1:15")
	mustRun(t, "entry", "add", "--project", "Fiscal", "--activity", "Apuração", "--hours", "0.5", "--date", "2026-10-13")
	mustRun(t, "entry", "add", "--project", "Fiscal", "--activity", "Apuração", "--hours", "4", "--date", "2026-09-30")

	out := mustRun(t, "entry", "list")
	assert.Contains(t, out, "2026-10-13\n00:30  Fiscal / Apuração")
	assert.Contains(t, out, "2026-10-15 (today)\n01:15  Fiscal / Apuração")
	assert.NotContains(t, out, "2026-09-30")
	assert.Less(t, strings.Index(out, "2026-10-13"), strings.Index(out, "2026-10-15"))

	out = mustRun(t, "entry", "list", "--today")
	assert.NotContains(t, out, "2026-10-13")
	assert.Contains(t, out, "total 01:15")

	assert.Len(t, exportEntries(t, "--all"), 3)
	assert.Len(t, exportEntries(t, "--from", "2026-09-01", "--to", "2026-09-30"), 1)

	_, err := run(t, "entry", "list", "--from", "2026-10-15", "--to", "2026-10-01")
	assert.Equal(t, 1, exitCode(err))

	out = mustRun(t, "entry", "export")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "id,user,date,"))
	assert.Contains(t, lines[1], ",ana,2026-10-13,,Fiscal,TF,Apuração,,00:30,30,,2026-10-15 10:30:00")

	_, err = run(t, "entry", "export", "--format", "xml")
	assert.Equal(t, 1, exitCode(err))
}

func TestReport(t *testing.T) {
	newHome(t)
	seedCatalog(t)
	mustRun(t, "entry", "add", "--project", "Fiscal", "--activity", "Apuração", "--hours", "1:30")
	mustRun(t, "entry", "add", "--project", "Fiscal", "--activity", "Apuração", "--hours", "0:45", "--date", "2026-10-01")
	login(t, "bruno", "hunter2")
	mustRun(t, "entry", "add", "--project", "Fiscal", "--activity", "Apuração", "--hours", "2", "--date", "2026-10-14")

	out := mustRun(t, "report", "--by", "user", "--format", "json")
	var got struct {
		Period string `json:"period"`
		Totals []struct {
			Key             string `json:"key"`
			DurationMinutes int    `json:"duration_minutes"`
			Entries         int    `json:"entries"`
		} `json:"totals"`
		TotalMinutes int `json:"total_minutes"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "week 2026-W42", got.Period)
	require.Len(t, got.Totals, 2)
	assert.Equal(t, "Bruno Lima", got.Totals[0].Key)
	assert.Equal(t, 120, got.Totals[0].DurationMinutes)
	assert.Equal(t, "Ana Souza", got.Totals[1].Key)
	assert.Equal(t, 210, got.TotalMinutes)

	out = mustRun(t, "report", "--month", "--by", "user", "--format", "csv")
	assert.Equal(t, "user,duration_minutes,entries\nAna Souza,135,2\nBruno Lima,120,1\n", out)

	out = mustRun(t, "report", "--all", "--user", "ana")
	assert.Contains(t, out, "| Fiscal | 02:15 | 2 |")
	assert.Contains(t, out, "Total: 02:15 in 2 entries")

	_, err := run(t, "report", "--by", "weekday")
	assert.Equal(t, 1, exitCode(err))
}

type fakeSummarizer struct {
	prompt string
	text   string
}

func (f *fakeSummarizer) Summarize(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.text, nil
}

func TestAIReport(t *testing.T) {
	newHome(t)
	seedCatalog(t)
	mustRun(t, "entry", "add", "--project", "Fiscal", "--activity", "Apuração", "--hours", "1:30", "--note", "fechamento")

	fake := &fakeSummarizer{text: "#  Avaliação\n\nBom trabalho.\n\n## Recomendações\nManter o ritmo."}
	prev := newSummarizer
	newSummarizer = func(context.Context, string, string) (report.Summarizer, error) { return fake, nil }
	t.Cleanup(func() { newSummarizer = prev })

	out := filepath.Join(t.TempDir(), "review.md")
	rendered := mustRun(t, "report", "--ai", "--out", out)
	assert.Contains(t, rendered, "Bom trabalho")

	assert.True(t, strings.HasPrefix(fake.prompt, strings.TrimSpace(report.DefaultInstruction)))
	assert.Contains(t, fake.prompt, "| Ana Souza | 2026-10-15 |")
	assert.Contains(t, fake.prompt, "fechamento")

	md, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "# Avaliação\n\nBom trabalho.\n\n## Recomendações\n\nManter o ritmo.\n", string(md))

	_, err = run(t, "report", "--ai", "--from", "2020-01-01", "--to", "2020-01-31")
	assert.Equal(t, 1, exitCode(err))
}

func TestStatus(t *testing.T) {
	newHome(t)
	seedCatalog(t)
	mustRun(t, "entry", "add", "--project", "Fiscal", "--activity", "Apuração", "--hours", "1:40")
	mustRun(t, "entry", "add", "--project", "Fiscal", "--activity", "Apuração", "--hours", "1", "--date", "2026-10-12")

	out := mustRun(t, "status")
	assert.Contains(t, out, "User: Ana Souza (ana)")
	assert.Contains(t, out, "Store: local, folder ts-fiscal")
	assert.Contains(t, out, "Revision: 3")
	assert.Contains(t, out, "Today: 1h 40m in 1 entries")
	assert.Contains(t, out, "Week 2026-W42: 2h 40m in 2 entries")
}

func TestBackupListAndRestore(t *testing.T) {
	dataDir := newHome(t)
	seedCatalog(t)
	mustRun(t, "company", "add", "--code", "2000", "--name", "Beta SA")

	out := mustRun(t, "backup", "list", model.TableCompanies)
	// The first revision is the empty table created on first load.
	assert.Contains(t, out, "| 3 |")
	assert.Contains(t, out, "| 2 |")
	assert.Less(t, strings.Index(out, "__rev-3.csv"), strings.Index(out, "__rev-2.csv"))

	first, err := filepath.Glob(filepath.Join(dataDir, "Backup_empresas", "empresas__*__rev-2.csv"))
	require.NoError(t, err)
	require.Len(t, first, 1)

	_, err = run(t, "backup", "restore", model.TableCompanies, filepath.Base(first[0]))
	assert.Equal(t, 1, exitCode(err))
	mustRun(t, "backup", "restore", model.TableCompanies, filepath.Base(first[0]), "--yes")
	out = mustRun(t, "company", "list")
	assert.Contains(t, out, "Acme Ltda")
	assert.NotContains(t, out, "Beta SA")

	_, err = run(t, "backup", "restore", model.TableCompanies, "nope.csv", "--yes")
	assert.Equal(t, 1, exitCode(err))
	_, err = run(t, "backup", "list", "clientes")
	assert.Equal(t, 1, exitCode(err))
}

func TestLockStatusAndClear(t *testing.T) {
	dataDir := newHome(t)
	seedCatalog(t)

	sentinel := filepath.Join(dataDir, lock.FolderName, model.TableTimesheet+".lock")
	held := `{"holder":"carla@desk-7","acquired_at":"` + time.Now().Add(-90*time.Second).UTC().Format(time.RFC3339) + `"}`
	require.NoError(t, os.WriteFile(sentinel, []byte(held), 0o600))

	out := mustRun(t, "lock", "status")
	assert.Contains(t, out, "empresas: free")
	assert.Contains(t, out, "timesheet: locked by carla@desk-7 since ")

	_, err := run(t, "entry", "add", "--project", "Fiscal", "--activity", "Apuração", "--hours", "1")
	require.ErrorIs(t, err, lock.ErrBusy)
	assert.Equal(t, 1, exitCode(err))
	assert.True(t, strings.HasPrefix(describe(err), "System busy, retry."))
	assert.Empty(t, exportEntries(t, "--all"))

	_, err = run(t, "lock", "clear", model.TableTimesheet)
	assert.Equal(t, 1, exitCode(err))
	assert.Equal(t, "Cleared 1 lock file(s) of timesheet.\n", mustRun(t, "lock", "clear", model.TableTimesheet, "--yes"))
	assert.Equal(t, "timesheet: free\n", mustRun(t, "lock", "status", model.TableTimesheet))

	mustRun(t, "entry", "add", "--project", "Fiscal", "--activity", "Apuração", "--hours", "1")
	assert.Len(t, exportEntries(t, "--all"), 1)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{usagef("bad flag"), 1},
		{&table.OpError{Op: "update", Table: "timesheet", Key: "x", Err: table.ErrNotFound}, 1},
		{&table.OpError{Op: "append", Table: "timesheet", Err: lock.ErrBusy}, 1},
		{session.ErrNotLoggedIn, 1},
		{errors.New("storage error writing timesheet.csv"), 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, exitCode(tt.err), tt.err.Error())
	}
}
