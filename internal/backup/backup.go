// Package backup writes immutable, timestamped copies of a table after every
// successful write. Snapshots accumulate without bound.
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Tiliavir/timesheet-fiscal/internal/store"
)

// TimestampLayout is the UTC timestamp embedded in snapshot names.
const TimestampLayout = "20060102-150405"

// UnknownRevision is used when the written file reported no version.
const UnknownRevision = "unknown"

// FolderName returns the backup folder of table.
func FolderName(table string) string {
	return "Backup_" + table
}

// FileName returns "<table>__<timestamp>__rev-<rev>.csv".
func FileName(table string, at time.Time, rev string) string {
	if rev == "" {
		rev = UnknownRevision
	}
	return fmt.Sprintf("%s__%s__rev-%s.csv", table, at.UTC().Format(TimestampLayout), rev)
}

// Name is a parsed snapshot file name.
type Name struct {
	Table    string
	Taken    time.Time
	Revision string
}

// ParseName splits a snapshot file name produced by FileName.
func ParseName(name string) (Name, bool) {
	base, ok := strings.CutSuffix(name, ".csv")
	if !ok {
		return Name{}, false
	}
	parts := strings.Split(base, "__")
	if len(parts) < 3 {
		return Name{}, false
	}
	// Table names may themselves contain "__"; the last two parts are fixed.
	rev, ok := strings.CutPrefix(parts[len(parts)-1], "rev-")
	if !ok {
		return Name{}, false
	}
	taken, err := time.Parse(TimestampLayout, parts[len(parts)-2])
	if err != nil {
		return Name{}, false
	}
	return Name{
		Table:    strings.Join(parts[:len(parts)-2], "__"),
		Taken:    taken,
		Revision: rev,
	}, true
}

// Writer stores snapshots in "Backup_<table>" folders below a root folder.
type Writer struct {
	st     store.Store
	rootID string
	logger *slog.Logger
	now    func() time.Time
}

// NewWriter returns a Writer for snapshots below rootID. A nil logger
// means slog.Default().
func NewWriter(st store.Store, rootID string, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{st: st, rootID: rootID, logger: logger, now: time.Now}
}

// SetClock replaces the clock used to name snapshots.
func (w *Writer) SetClock(now func() time.Time) {
	w.now = now
}

// Snapshot persists content as a new backup of table tagged with rev. An
// existing snapshot is never overwritten; a name collision is reported as
// store.ErrExists.
func (w *Writer) Snapshot(ctx context.Context, table string, content []byte, rev string) (store.File, error) {
	folder, err := w.st.EnsureFolder(ctx, w.rootID, FolderName(table))
	if err != nil {
		return store.File{}, fmt.Errorf("ensuring backup folder for %s: %w", table, err)
	}
	name := FileName(table, w.now(), rev)
	existing, err := w.st.List(ctx, folder, name)
	if err != nil {
		return store.File{}, fmt.Errorf("listing backups of %s: %w", table, err)
	}
	if len(existing) > 0 {
		return store.File{}, fmt.Errorf("backup %s: %w", name, store.ErrExists)
	}
	f, err := w.st.Create(ctx, folder, name, content)
	if err != nil {
		return store.File{}, fmt.Errorf("writing backup %s: %w", name, err)
	}
	w.logger.Debug("backup written", "table", table, "rev", rev, "file", f.Name, "bytes", len(content))
	return f, nil
}

// List returns the snapshots of table, newest first.
func (w *Writer) List(ctx context.Context, table string) ([]store.File, error) {
	folder, err := w.st.EnsureFolder(ctx, w.rootID, FolderName(table))
	if err != nil {
		return nil, fmt.Errorf("ensuring backup folder for %s: %w", table, err)
	}
	files, err := w.st.List(ctx, folder, "")
	if err != nil {
		return nil, fmt.Errorf("listing backups of %s: %w", table, err)
	}
	snapshots := files[:0]
	for _, f := range files {
		if !f.IsFolder() {
			snapshots = append(snapshots, f)
		}
	}
	sort.SliceStable(snapshots, func(i, j int) bool {
		ti, tj := taken(snapshots[i]), taken(snapshots[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return snapshots[i].Name > snapshots[j].Name
	})
	return snapshots, nil
}

// Find returns the snapshot of table with the given file ID.
func (w *Writer) Find(ctx context.Context, table, fileID string) (store.File, error) {
	files, err := w.List(ctx, table)
	if err != nil {
		return store.File{}, err
	}
	for _, f := range files {
		if f.ID == fileID || f.Name == fileID {
			return f, nil
		}
	}
	return store.File{}, fmt.Errorf("backup %q of %s: %w", fileID, table, store.ErrNotFound)
}

func taken(f store.File) time.Time {
	if n, ok := ParseName(f.Name); ok {
		return n.Taken
	}
	return f.CreatedTime
}
