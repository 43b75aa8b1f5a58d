package model_test

import (
	"testing"

	"github.com/Tiliavir/timesheet-fiscal/internal/model"
)

func TestDefaultRegistry(t *testing.T) {
	r := model.DefaultRegistry()
	names := r.Names()
	want := []string{"atividades", "empresas", "projetos", "timesheet"}
	if len(names) != len(want) {
		t.Fatalf("Names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	ts, ok := r.Lookup(model.TableTimesheet)
	if !ok {
		t.Fatal("timesheet not registered")
	}
	if ts.Key != model.GeneratedID || len(ts.KeyColumns) != 1 || ts.KeyColumns[0] != model.IDColumn {
		t.Errorf("timesheet key = %v %v", ts.Key, ts.KeyColumns)
	}
	if ts.FileName() != "timesheet.csv" {
		t.Errorf("FileName = %q", ts.FileName())
	}

	p, _ := r.Lookup(model.TableProjects)
	if p.Default(model.ColProjectStatus) != model.StatusActive {
		t.Errorf("project status default = %q", p.Default(model.ColProjectStatus))
	}
	if p.Default(model.ColProjectTeam) != "" {
		t.Errorf("project team default = %q, want empty", p.Default(model.ColProjectTeam))
	}

	if _, ok := r.Lookup("nope"); ok {
		t.Error("Lookup(nope) ok = true")
	}
}

func TestKeyOf(t *testing.T) {
	d := model.Descriptor{KeyColumns: []string{"a", "b"}}
	if got := d.KeyOf(model.Row{"a": "1", "b": "2"}); got != "1|2" {
		t.Errorf("KeyOf = %q, want %q", got, "1|2")
	}
	c, _ := model.DefaultRegistry().Lookup(model.TableCompanies)
	if got := c.KeyOf(model.Company{Code: "001"}.Row()); got != "001" {
		t.Errorf("KeyOf company = %q", got)
	}
}

func TestTimeEntryRowRoundTrip(t *testing.T) {
	e := model.TimeEntry{ID: "abc-1", User: "ana", Date: "2026-03-02", Duration: "07:30", Note: "x"}
	if got := model.TimeEntryFromRow(e.Row()); got != e {
		t.Errorf("round trip = %+v, want %+v", got, e)
	}
}
