package store_test

import (
	"testing"
	"time"

	"github.com/Tiliavir/timesheet-fiscal/internal/store"
)

func TestLatest(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		files []store.File
		want  string
	}{
		{"single", []store.File{{ID: "a", ModifiedTime: t0}}, "a"},
		{"newest wins", []store.File{
			{ID: "a", ModifiedTime: t0},
			{ID: "b", ModifiedTime: t0.Add(time.Minute)},
			{ID: "c", ModifiedTime: t0.Add(-time.Minute)},
		}, "b"},
		{"version breaks tie", []store.File{
			{ID: "a", ModifiedTime: t0, Version: "9"},
			{ID: "b", ModifiedTime: t0, Version: "10"},
		}, "b"},
		{"id breaks tie", []store.File{
			{ID: "a", ModifiedTime: t0},
			{ID: "b", ModifiedTime: t0},
		}, "b"},
	}
	for _, tt := range tests {
		got, ok := store.Latest(tt.files)
		if !ok {
			t.Fatalf("%s: Latest returned ok=false", tt.name)
		}
		if got.ID != tt.want {
			t.Errorf("%s: Latest = %q, want %q", tt.name, got.ID, tt.want)
		}
	}
}

func TestLatestEmpty(t *testing.T) {
	if _, ok := store.Latest(nil); ok {
		t.Error("Latest(nil) ok = true, want false")
	}
}
