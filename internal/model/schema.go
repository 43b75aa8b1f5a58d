package model

import (
	"fmt"
	"sort"
)

// Row is one record of a table, keyed by column name. All values are text.
type Row map[string]string

// Clone returns a copy of r.
func (r Row) Clone() Row {
	c := make(Row, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// KeyStrategy tells how rows of a table are addressed for update and delete.
type KeyStrategy int

const (
	// NaturalKey tables are addressed by a user-entered unique column.
	NaturalKey KeyStrategy = iota
	// GeneratedID tables carry a generated identifier in IDColumn.
	GeneratedID
)

func (k KeyStrategy) String() string {
	switch k {
	case NaturalKey:
		return "natural-key"
	case GeneratedID:
		return "generated-id"
	default:
		return fmt.Sprintf("KeyStrategy(%d)", int(k))
	}
}

// IDColumn is the column holding generated row identifiers.
const IDColumn = "ID"

// Descriptor declares a table: its ordered columns, default values, how its
// rows are addressed and which columns are normalized before persistence.
type Descriptor struct {
	Name    string
	Columns []string
	// Defaults holds the value a missing cell takes when columns are
	// reconciled. Columns absent from Defaults default to "".
	Defaults map[string]string
	Key      KeyStrategy
	// KeyColumns is the natural key for NaturalKey tables, or
	// []string{IDColumn} for GeneratedID tables.
	KeyColumns      []string
	DurationColumns []string
	DateColumns     []string
}

// FileName is the name of the file holding the table in the store.
func (d Descriptor) FileName() string {
	return d.Name + ".csv"
}

// Default returns the default value for column.
func (d Descriptor) Default(column string) string {
	return d.Defaults[column]
}

// KeyOf returns the key of row, joining multi-column keys with "|".
func (d Descriptor) KeyOf(row Row) string {
	if len(d.KeyColumns) == 1 {
		return row[d.KeyColumns[0]]
	}
	key := ""
	for i, c := range d.KeyColumns {
		if i > 0 {
			key += "|"
		}
		key += row[c]
	}
	return key
}

// Registry maps table names to their descriptors.
type Registry struct {
	tables map[string]Descriptor
}

// NewRegistry returns a registry holding ds.
func NewRegistry(ds ...Descriptor) *Registry {
	r := &Registry{tables: make(map[string]Descriptor, len(ds))}
	for _, d := range ds {
		r.Register(d)
	}
	return r
}

// Register adds or replaces d.
func (r *Registry) Register(d Descriptor) {
	if d.Key == GeneratedID && len(d.KeyColumns) == 0 {
		d.KeyColumns = []string{IDColumn}
	}
	r.tables[d.Name] = d
}

// Lookup returns the descriptor for name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	d, ok := r.tables[name]
	return d, ok
}

// Names returns the registered table names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tables))
	for n := range r.tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Table names.
const (
	TableCompanies  = "empresas"
	TableProjects   = "projetos"
	TableActivities = "atividades"
	TableTimesheet  = "timesheet"
)

// DefaultRegistry returns the descriptors of the four timesheet tables.
// Column names match the files already stored by earlier deployments.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Descriptor{
			Name:       TableCompanies,
			Columns:    []string{ColCompanyCode, ColCompanyName, ColCompanyDescription},
			Key:        NaturalKey,
			KeyColumns: []string{ColCompanyCode},
		},
		Descriptor{
			Name:       TableProjects,
			Columns:    []string{ColProjectName, ColProjectTeam, ColProjectStatus},
			Defaults:   map[string]string{ColProjectStatus: StatusActive},
			Key:        NaturalKey,
			KeyColumns: []string{ColProjectName},
		},
		Descriptor{
			Name:       TableActivities,
			Columns:    []string{ColActivityName, ColActivityProject, ColActivityDescription, ColActivityStatus},
			Defaults:   map[string]string{ColActivityStatus: StatusActive},
			Key:        NaturalKey,
			KeyColumns: []string{ColActivityName},
		},
		Descriptor{
			Name: TableTimesheet,
			Columns: []string{
				IDColumn, ColEntryUser, ColEntryDisplayName, ColEntryDate,
				ColEntryCompany, ColEntryProject, ColEntryTeam, ColEntryActivity,
				ColEntryTaskCount, ColEntryDuration, ColEntryNote, ColEntrySubmittedAt,
			},
			Key:             GeneratedID,
			DurationColumns: []string{ColEntryDuration},
			DateColumns:     []string{ColEntryDate},
		},
	)
}
