package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/timesheet-fiscal/internal/model"
	"github.com/Tiliavir/timesheet-fiscal/internal/report"
	"github.com/Tiliavir/timesheet-fiscal/internal/table"
)

// field binds a command-line flag to a table column.
type field struct {
	flag   string
	column string
	usage  string
}

// catalog describes one of the reference tables and its CLI surface.
type catalog struct {
	use    string
	noun   string
	table  string
	key    field
	fields []field
	// check validates a row about to be written against other tables.
	check func(ctx context.Context, svc *table.Service, row model.Row) error
}

var companyCatalog = catalog{
	use:   "company",
	noun:  "company",
	table: model.TableCompanies,
	key:   field{"code", model.ColCompanyCode, "SAP company code"},
	fields: []field{
		{"name", model.ColCompanyName, "Company name"},
		{"description", model.ColCompanyDescription, "Description"},
	},
}

var projectCatalog = catalog{
	use:   "project",
	noun:  "project",
	table: model.TableProjects,
	key:   field{"name", model.ColProjectName, "Project name"},
	fields: []field{
		{"team", model.ColProjectTeam, "Team tag"},
		{"status", model.ColProjectStatus, "Status (Ativo or Inativo)"},
	},
}

var activityCatalog = catalog{
	use:   "activity",
	noun:  "activity",
	table: model.TableActivities,
	key:   field{"name", model.ColActivityName, "Activity name"},
	fields: []field{
		{"project", model.ColActivityProject, "Linked project name"},
		{"description", model.ColActivityDescription, "Description"},
		{"status", model.ColActivityStatus, "Status (Ativo or Inativo)"},
	},
	check: checkActivityProject,
}

func checkActivityProject(ctx context.Context, svc *table.Service, row model.Row) error {
	project := row[model.ColActivityProject]
	if project == "" {
		return nil
	}
	return requireKey(ctx, svc, model.TableProjects, "project", project)
}

// requireKey fails when no row of table name has key.
func requireKey(ctx context.Context, svc *table.Service, name, noun, key string) error {
	snap, err := svc.Load(ctx, name)
	if err != nil {
		return err
	}
	d, _ := svc.Registry().Lookup(name)
	for _, r := range snap.Rows {
		if d.KeyOf(r) == key {
			return nil
		}
	}
	return usagef("%s %q does not exist", noun, key)
}

// statusColumn is shared by the project and activity tables.
const statusColumn = model.ColProjectStatus

func validStatus(v string) bool {
	return v == model.StatusActive || v == model.StatusInactive
}

func newCatalogCmd(c catalog) *cobra.Command {
	parent := &cobra.Command{
		Use:   c.use,
		Short: fmt.Sprintf("Manage the %s table", c.table),
	}
	parent.AddCommand(c.addCmd(), c.listCmd(), c.updateCmd(), c.deleteCmd())
	return parent
}

// bind registers a string flag per field and returns their values.
func bind(cmd *cobra.Command, fields []field) map[string]*string {
	values := make(map[string]*string, len(fields))
	for _, f := range fields {
		values[f.flag] = cmd.Flags().String(f.flag, "", f.usage)
	}
	return values
}

// changed returns the columns whose flags were set on the command line.
func changed(cmd *cobra.Command, fields []field, values map[string]*string) (model.Row, error) {
	row := model.Row{}
	for _, f := range fields {
		if !cmd.Flags().Changed(f.flag) {
			continue
		}
		v := strings.TrimSpace(*values[f.flag])
		if f.flag == "status" && !validStatus(v) {
			return nil, usagef("invalid --status %q (want %s or %s)", v, model.StatusActive, model.StatusInactive)
		}
		row[f.column] = v
	}
	return row, nil
}

func (c catalog) addCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a " + c.noun,
		Args:  exactArgs(0),
	}
	all := append([]field{c.key}, c.fields...)
	values := bind(cmd, all)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		row, err := changed(cmd, all, values)
		if err != nil {
			return err
		}
		if row[c.key.column] == "" {
			return usagef("--%s must not be empty", c.key.flag)
		}
		ctx := cmd.Context()
		_, svc, err := loggedIn(ctx)
		if err != nil {
			return err
		}
		if c.check != nil {
			if err := c.check(ctx, svc, row); err != nil {
				return err
			}
		}
		if _, err := svc.Append(ctx, c.table, []model.Row{row}); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added %s %q.\n", c.noun, row[c.key.column])
		return nil
	}
	return cmd
}

func (c catalog) listCmd() *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List " + c.table,
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, svc, err := loggedIn(ctx)
			if err != nil {
				return err
			}
			snap, err := svc.Load(ctx, c.table)
			if err != nil {
				return err
			}
			rows := snap.Rows
			if activeOnly && snap.HasColumn(statusColumn) {
				rows = nil
				for _, r := range snap.Rows {
					if r[statusColumn] != model.StatusInactive {
						rows = append(rows, r)
					}
				}
			}
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No entries found.")
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), report.MarkdownTable(snap.Columns, rows))
			return nil
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "Hide inactive rows")
	return cmd
}

func (c catalog) updateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <" + c.key.flag + ">",
		Short: "Change fields of a " + c.noun,
		Args:  exactArgs(1),
	}
	rename := field{"new-" + c.key.flag, c.key.column, "Rename: new " + c.key.usage}
	all := append([]field{rename}, c.fields...)
	values := bind(cmd, all)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		fields, err := changed(cmd, all, values)
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return usagef("nothing to update: pass at least one field flag")
		}
		ctx := cmd.Context()
		_, svc, err := loggedIn(ctx)
		if err != nil {
			return err
		}
		if c.check != nil {
			if err := c.check(ctx, svc, fields); err != nil {
				return err
			}
		}
		if err := svc.Update(ctx, c.table, args[0], fields); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Updated %s %q.\n", c.noun, args[0])
		return nil
	}
	return cmd
}

func (c catalog) deleteCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <" + c.key.flag + ">",
		Short: "Delete a " + c.noun,
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return usagef("deleting %s %q is permanent; confirm with --yes", c.noun, args[0])
			}
			ctx := cmd.Context()
			_, svc, err := loggedIn(ctx)
			if err != nil {
				return err
			}
			if err := svc.Delete(ctx, c.table, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s %q.\n", c.noun, args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the deletion")
	return cmd
}
