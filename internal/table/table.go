// Package table is the access layer over tables stored as CSV files in a
// root folder. Reads take no lock. Every write is a locked
// read-modify-write of the whole file followed by a backup snapshot.
package table

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/Tiliavir/timesheet-fiscal/internal/backup"
	"github.com/Tiliavir/timesheet-fiscal/internal/csvtable"
	"github.com/Tiliavir/timesheet-fiscal/internal/lock"
	"github.com/Tiliavir/timesheet-fiscal/internal/model"
	"github.com/Tiliavir/timesheet-fiscal/internal/store"
	"github.com/Tiliavir/timesheet-fiscal/internal/timecalc"
)

// DefaultRootFolder is the folder holding all tables.
const DefaultRootFolder = "ts-fiscal"

// Table is the in-memory contents of a table.
type Table struct {
	Name    string
	Columns []string
	Rows    []model.Row
}

// HasColumn reports whether the table carries column.
func (t *Table) HasColumn(column string) bool {
	return slices.Contains(t.Columns, column)
}

// Dated returns the rows whose column holds a stored YYYY-MM-DD date, and
// how many rows were left out. Stored data is not changed.
func (t *Table) Dated(column string) ([]model.Row, int) {
	var rows []model.Row
	excluded := 0
	for _, r := range t.Rows {
		if timecalc.IsStoredDate(r[column]) {
			rows = append(rows, r)
		} else {
			excluded++
		}
	}
	return rows, excluded
}

// Snapshot is a loaded table together with the file it was read from.
type Snapshot struct {
	Table
	File store.File
}

// Options configures a Service. Zero values take defaults.
type Options struct {
	Registry   *model.Registry
	RootFolder string
	Lock       lock.Options
	Logger     *slog.Logger
	Now        func() time.Time
}

// Service performs table operations against a store.
type Service struct {
	st      store.Store
	reg     *model.Registry
	rootID  string
	locks   *lock.Manager
	backups *backup.Writer
	logger  *slog.Logger
	now     func() time.Time
}

// New resolves the root folder, creating it if needed, and returns a Service.
func New(ctx context.Context, st store.Store, opts Options) (*Service, error) {
	if opts.Registry == nil {
		opts.Registry = model.DefaultRegistry()
	}
	if opts.RootFolder == "" {
		opts.RootFolder = DefaultRootFolder
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Lock.Logger == nil {
		opts.Lock.Logger = opts.Logger
	}

	rootID, err := st.EnsureFolder(ctx, "", opts.RootFolder)
	if err != nil {
		return nil, fmt.Errorf("ensuring root folder %q: %w", opts.RootFolder, err)
	}
	locks, err := lock.New(ctx, st, rootID, opts.Lock)
	if err != nil {
		return nil, err
	}
	backups := backup.NewWriter(st, rootID, opts.Logger)
	backups.SetClock(opts.Now)
	return &Service{
		st:      st,
		reg:     opts.Registry,
		rootID:  rootID,
		locks:   locks,
		backups: backups,
		logger:  opts.Logger,
		now:     opts.Now,
	}, nil
}

// RootID returns the ID of the root folder.
func (s *Service) RootID() string { return s.rootID }

// Locks returns the lock manager guarding writes.
func (s *Service) Locks() *lock.Manager { return s.locks }

// Backups returns the backup writer.
func (s *Service) Backups() *backup.Writer { return s.backups }

// Registry returns the table registry.
func (s *Service) Registry() *model.Registry { return s.reg }

func (s *Service) descriptor(op, name string) (model.Descriptor, error) {
	d, ok := s.reg.Lookup(name)
	if !ok {
		return model.Descriptor{}, &OpError{Op: op, Table: name, Err: ErrUnknownTable}
	}
	return d, nil
}

// Load reads the latest snapshot of a table without locking. A table that
// does not exist yet is created with its default columns.
func (s *Service) Load(ctx context.Context, name string) (*Snapshot, error) {
	d, err := s.descriptor("load", name)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, d)
}

func (s *Service) load(ctx context.Context, d model.Descriptor) (*Snapshot, error) {
	f, err := s.findLatest(ctx, d)
	if err != nil {
		return nil, &OpError{Op: "load", Table: d.Name, Err: err}
	}
	data, err := s.st.Download(ctx, f.ID)
	if err != nil {
		return nil, &OpError{Op: "load", Table: d.Name, Err: err}
	}
	columns, rows, err := csvtable.Decode(data)
	if err != nil {
		return nil, &OpError{Op: "load", Table: d.Name, Err: err}
	}
	if len(columns) == 0 {
		columns = slices.Clone(d.Columns)
	}
	snap := &Snapshot{Table: Table{Name: d.Name, Columns: columns, Rows: rows}, File: f}
	s.validate(d, &snap.Table)
	return snap, nil
}

// findLatest returns the most recently modified file of the table,
// creating it with the default columns when there is none.
func (s *Service) findLatest(ctx context.Context, d model.Descriptor) (store.File, error) {
	files, err := s.st.List(ctx, s.rootID, d.FileName())
	if err != nil {
		return store.File{}, err
	}
	if f, ok := store.Latest(files); ok {
		if len(files) > 1 {
			s.logger.Warn("several files for table, using latest", "table", d.Name, "count", len(files), "file", f.ID)
		}
		return f, nil
	}

	content, err := csvtable.Encode(d.Columns, nil)
	if err != nil {
		return store.File{}, err
	}
	f, err := s.st.Create(ctx, s.rootID, d.FileName(), content)
	if errors.Is(err, store.ErrExists) {
		// Created concurrently by another process.
		files, err = s.st.List(ctx, s.rootID, d.FileName())
		if err != nil {
			return store.File{}, err
		}
		if f, ok := store.Latest(files); ok {
			return f, nil
		}
		return store.File{}, store.ErrNotFound
	}
	if err != nil {
		return store.File{}, err
	}
	s.logger.Info("table created", "table", d.Name, "columns", len(d.Columns))
	return f, nil
}

// validate logs rows whose normalized columns hold values that would not
// survive normalization. Such rows stay in storage; date views skip them.
func (s *Service) validate(d model.Descriptor, t *Table) {
	bad := 0
	for _, r := range t.Rows {
		for _, c := range d.DateColumns {
			if v := r[c]; v != "" && !timecalc.IsStoredDate(v) {
				bad++
			}
		}
		for _, c := range d.DurationColumns {
			if v := r[c]; v != "" {
				if _, ok := timecalc.DurationMinutes(v); !ok {
					bad++
				}
			}
		}
	}
	if bad > 0 {
		s.logger.Warn("table holds malformed values", "table", d.Name, "values", bad)
	}
}

// locked runs fn on the latest snapshot while holding the table lock and
// writes the result back when fn succeeds.
func (s *Service) locked(ctx context.Context, op string, d model.Descriptor, fn func(*Table) error) error {
	err := s.locks.With(ctx, d.Name, func(ctx context.Context) error {
		snap, err := s.load(ctx, d)
		if err != nil {
			return err
		}
		if err := fn(&snap.Table); err != nil {
			return err
		}
		return s.write(ctx, op, snap)
	})
	if err == nil {
		return nil
	}
	var opErr *OpError
	if errors.As(err, &opErr) {
		return err
	}
	return &OpError{Op: op, Table: d.Name, Err: err}
}

// write uploads the whole table and takes a backup. A failed backup is
// logged; the primary write stays committed.
func (s *Service) write(ctx context.Context, op string, snap *Snapshot) error {
	content, err := csvtable.Encode(snap.Columns, snap.Rows)
	if err != nil {
		return &OpError{Op: op, Table: snap.Name, Err: err}
	}
	f, err := s.st.Upload(ctx, snap.File.ID, content)
	if err != nil {
		return &OpError{Op: op, Table: snap.Name, Err: err}
	}
	snap.File = f
	s.logger.Info("table written", "table", snap.Name, "op", op, "rows", len(snap.Rows), "rev", f.Version)

	if _, err := s.backups.Snapshot(ctx, snap.Name, content, f.Version); err != nil {
		s.logger.Error("backup failed", "table", snap.Name, "rev", f.Version, "err", err)
	}
	return nil
}

// normalize canonicalizes the duration and date columns of r in place.
// Values that cannot be interpreted are cleared.
func (s *Service) normalize(d model.Descriptor, r model.Row) {
	for _, c := range d.DurationColumns {
		v, present := r[c]
		if !present || v == "" {
			continue
		}
		n, ok := timecalc.NormalizeDuration(v)
		if !ok {
			s.logger.Warn("unparseable duration cleared", "table", d.Name, "column", c, "value", v)
		}
		r[c] = n
	}
	for _, c := range d.DateColumns {
		v, present := r[c]
		if !present || v == "" {
			continue
		}
		n, ok := timecalc.NormalizeDate(v)
		if !ok {
			s.logger.Warn("unparseable date cleared", "table", d.Name, "column", c, "value", v)
		}
		r[c] = n
	}
}

// unionColumns returns existing followed by the schema columns and then any
// other column found in rows, without repetition.
func unionColumns(existing, schema []string, rows []model.Row) []string {
	columns := slices.Clone(existing)
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		seen[c] = true
	}
	for _, c := range schema {
		if !seen[c] {
			seen[c] = true
			columns = append(columns, c)
		}
	}
	var extra []string
	for _, r := range rows {
		for c := range r {
			if !seen[c] {
				seen[c] = true
				extra = append(extra, c)
			}
		}
	}
	sort.Strings(extra)
	return append(columns, extra...)
}

// fill gives every row a value for every column, using schema defaults.
func fill(d model.Descriptor, columns []string, rows []model.Row) {
	for _, r := range rows {
		for _, c := range columns {
			if _, ok := r[c]; !ok {
				r[c] = d.Default(c)
			}
		}
	}
}

// dedupByID keeps the last occurrence of every identifier, in the position
// of that occurrence. Rows without an identifier are all kept.
func dedupByID(rows []model.Row) []model.Row {
	last := make(map[string]int, len(rows))
	for i, r := range rows {
		if id := r[model.IDColumn]; id != "" {
			last[id] = i
		}
	}
	out := rows[:0:0]
	for i, r := range rows {
		id := r[model.IDColumn]
		if id == "" || last[id] == i {
			out = append(out, r)
		}
	}
	return out
}

// Append adds rows to a table and returns them as stored, with
// normalized values and generated identifiers filled in.
//
// Natural-key tables reject keys that already exist or repeat within rows.
// In tables with an identifier column a row whose identifier is already
// present replaces the earlier one.
func (s *Service) Append(ctx context.Context, name string, rows []model.Row) ([]model.Row, error) {
	d, err := s.descriptor("append", name)
	if err != nil {
		return nil, err
	}
	added := make([]model.Row, len(rows))
	for i, r := range rows {
		r = r.Clone()
		s.normalize(d, r)
		if d.Key == model.GeneratedID && r[model.IDColumn] == "" {
			r[model.IDColumn] = timecalc.GenerateID()
		}
		added[i] = r
	}

	err = s.locked(ctx, "append", d, func(t *Table) error {
		if d.Key == model.NaturalKey {
			taken := make(map[string]bool, len(t.Rows)+len(added))
			for _, r := range t.Rows {
				taken[d.KeyOf(r)] = true
			}
			for _, r := range added {
				key := d.KeyOf(r)
				if key == "" {
					return &OpError{Op: "append", Table: d.Name, Err: ErrEmptyKey}
				}
				if taken[key] {
					return &OpError{Op: "append", Table: d.Name, Key: key, Err: ErrDuplicateKey}
				}
				taken[key] = true
			}
		}

		t.Columns = unionColumns(t.Columns, d.Columns, added)
		fill(d, t.Columns, t.Rows)
		fill(d, t.Columns, added)
		t.Rows = append(t.Rows, added...)
		if t.HasColumn(model.IDColumn) {
			t.Rows = dedupByID(t.Rows)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// UpdateByID replaces fields of the row whose identifier is id.
func (s *Service) UpdateByID(ctx context.Context, name, id string, fields map[string]string) error {
	d, err := s.descriptor("update", name)
	if err != nil {
		return err
	}
	return s.locked(ctx, "update", d, func(t *Table) error {
		if !t.HasColumn(model.IDColumn) {
			return &OpError{Op: "update", Table: d.Name, Key: id, Err: ErrNoIdentifier}
		}
		return s.update(d, t, []string{model.IDColumn}, id, fields)
	})
}

// DeleteByID removes the row whose identifier is id.
func (s *Service) DeleteByID(ctx context.Context, name, id string) error {
	d, err := s.descriptor("delete", name)
	if err != nil {
		return err
	}
	return s.locked(ctx, "delete", d, func(t *Table) error {
		if !t.HasColumn(model.IDColumn) {
			return &OpError{Op: "delete", Table: d.Name, Key: id, Err: ErrNoIdentifier}
		}
		return remove(d, t, []string{model.IDColumn}, id)
	})
}

// Update replaces fields of the row addressed by key, using the table's
// key strategy.
func (s *Service) Update(ctx context.Context, name, key string, fields map[string]string) error {
	d, err := s.descriptor("update", name)
	if err != nil {
		return err
	}
	if d.Key == model.GeneratedID {
		return s.UpdateByID(ctx, name, key, fields)
	}
	return s.locked(ctx, "update", d, func(t *Table) error {
		if !hasColumns(t, d.KeyColumns) {
			return &OpError{Op: "update", Table: d.Name, Key: key, Err: ErrNoIdentifier}
		}
		return s.update(d, t, d.KeyColumns, key, fields)
	})
}

// Delete removes the row addressed by key, using the table's key strategy.
func (s *Service) Delete(ctx context.Context, name, key string) error {
	d, err := s.descriptor("delete", name)
	if err != nil {
		return err
	}
	if d.Key == model.GeneratedID {
		return s.DeleteByID(ctx, name, key)
	}
	return s.locked(ctx, "delete", d, func(t *Table) error {
		if !hasColumns(t, d.KeyColumns) {
			return &OpError{Op: "delete", Table: d.Name, Key: key, Err: ErrNoIdentifier}
		}
		return remove(d, t, d.KeyColumns, key)
	})
}

func hasColumns(t *Table, columns []string) bool {
	for _, c := range columns {
		if !t.HasColumn(c) {
			return false
		}
	}
	return true
}

func find(t *Table, keyColumns []string, key string) int {
	kd := model.Descriptor{KeyColumns: keyColumns}
	for i, r := range t.Rows {
		if kd.KeyOf(r) == key {
			return i
		}
	}
	return -1
}

func (s *Service) update(d model.Descriptor, t *Table, keyColumns []string, key string, fields map[string]string) error {
	i := find(t, keyColumns, key)
	if i < 0 {
		return &OpError{Op: "update", Table: d.Name, Key: key, Err: ErrNotFound}
	}
	for c := range fields {
		if !t.HasColumn(c) && !slices.Contains(d.Columns, c) {
			return &OpError{Op: "update", Table: d.Name, Key: key, Err: fmt.Errorf("%w %q", ErrUnknownColumn, c)}
		}
	}

	updated := t.Rows[i].Clone()
	changes := make(model.Row, len(fields))
	for c, v := range fields {
		changes[c] = v
	}
	s.normalize(d, changes)
	for c, v := range changes {
		updated[c] = v
	}

	kd := model.Descriptor{KeyColumns: keyColumns}
	if newKey := kd.KeyOf(updated); newKey != key {
		if newKey == "" {
			return &OpError{Op: "update", Table: d.Name, Key: key, Err: ErrEmptyKey}
		}
		if j := find(t, keyColumns, newKey); j >= 0 && j != i {
			return &OpError{Op: "update", Table: d.Name, Key: newKey, Err: ErrDuplicateKey}
		}
	}

	for c := range changes {
		if !t.HasColumn(c) {
			t.Columns = append(t.Columns, c)
		}
	}
	t.Rows[i] = updated
	fill(d, t.Columns, t.Rows)
	return nil
}

func remove(d model.Descriptor, t *Table, keyColumns []string, key string) error {
	i := find(t, keyColumns, key)
	if i < 0 {
		return &OpError{Op: "delete", Table: d.Name, Key: key, Err: ErrNotFound}
	}
	t.Rows = slices.Delete(t.Rows, i, i+1)
	return nil
}

// Mutate runs fn on the latest contents of a table under its lock and
// writes the table back when fn returns nil. It is the escape hatch for
// callers that rewrite tables themselves.
func (s *Service) Mutate(ctx context.Context, name string, fn func(*Table) error) error {
	d, err := s.descriptor("mutate", name)
	if err != nil {
		return err
	}
	return s.locked(ctx, "mutate", d, fn)
}

// Restore replaces the contents of a table with one of its backups. The
// restored contents are themselves backed up as a new revision.
func (s *Service) Restore(ctx context.Context, name, backupID string) error {
	d, err := s.descriptor("restore", name)
	if err != nil {
		return err
	}
	f, err := s.backups.Find(ctx, d.Name, backupID)
	if err != nil {
		return &OpError{Op: "restore", Table: d.Name, Key: backupID, Err: err}
	}
	data, err := s.st.Download(ctx, f.ID)
	if err != nil {
		return &OpError{Op: "restore", Table: d.Name, Key: backupID, Err: err}
	}
	columns, rows, err := csvtable.Decode(data)
	if err != nil {
		return &OpError{Op: "restore", Table: d.Name, Key: backupID, Err: err}
	}
	if len(columns) == 0 {
		columns = slices.Clone(d.Columns)
	}
	return s.locked(ctx, "restore", d, func(t *Table) error {
		t.Columns = columns
		t.Rows = rows
		return nil
	})
}
