package model

// Column names of the timesheet table.
const (
	ColEntryUser        = "Usuário"
	ColEntryDisplayName = "Nome"
	ColEntryDate        = "Data"
	ColEntryCompany     = "Empresa"
	ColEntryProject     = "Projeto"
	ColEntryTeam        = "Equipe"
	ColEntryActivity    = "Atividade"
	ColEntryTaskCount   = "Qtd Tarefas"
	ColEntryDuration    = "Horas Gastas"
	ColEntryNote        = "Observações"
	ColEntrySubmittedAt = "Data Registro"
)

// TimeEntry is one timesheet submission. Date is YYYY-MM-DD and Duration is
// HH:MM once the entry has been persisted; either may be empty when the
// submitted value could not be parsed.
type TimeEntry struct {
	ID          string `json:"id"`
	User        string `json:"user"`
	DisplayName string `json:"display_name"`
	Date        string `json:"date"`
	Company     string `json:"company"`
	Project     string `json:"project"`
	Team        string `json:"team"`
	Activity    string `json:"activity"`
	TaskCount   string `json:"task_count"`
	Duration    string `json:"duration"`
	Note        string `json:"note"`
	SubmittedAt string `json:"submitted_at"`
}

// Row converts e to a table row.
func (e TimeEntry) Row() Row {
	return Row{
		IDColumn:            e.ID,
		ColEntryUser:        e.User,
		ColEntryDisplayName: e.DisplayName,
		ColEntryDate:        e.Date,
		ColEntryCompany:     e.Company,
		ColEntryProject:     e.Project,
		ColEntryTeam:        e.Team,
		ColEntryActivity:    e.Activity,
		ColEntryTaskCount:   e.TaskCount,
		ColEntryDuration:    e.Duration,
		ColEntryNote:        e.Note,
		ColEntrySubmittedAt: e.SubmittedAt,
	}
}

// TimeEntryFromRow is the inverse of TimeEntry.Row.
func TimeEntryFromRow(r Row) TimeEntry {
	return TimeEntry{
		ID:          r[IDColumn],
		User:        r[ColEntryUser],
		DisplayName: r[ColEntryDisplayName],
		Date:        r[ColEntryDate],
		Company:     r[ColEntryCompany],
		Project:     r[ColEntryProject],
		Team:        r[ColEntryTeam],
		Activity:    r[ColEntryActivity],
		TaskCount:   r[ColEntryTaskCount],
		Duration:    r[ColEntryDuration],
		Note:        r[ColEntryNote],
		SubmittedAt: r[ColEntrySubmittedAt],
	}
}
