package model

// Column names of the catalog tables.
const (
	ColCompanyCode        = "Codigo SAP"
	ColCompanyName        = "Nome Empresa"
	ColCompanyDescription = "Descrição"

	ColProjectName   = "Nome Projeto"
	ColProjectTeam   = "Equipe"
	ColProjectStatus = "Status"

	ColActivityName        = "Nome Atividade"
	ColActivityProject     = "Projeto Vinculado"
	ColActivityDescription = "Descrição"
	ColActivityStatus      = "Status"
)

// Catalog status values.
const (
	StatusActive   = "Ativo"
	StatusInactive = "Inativo"
)

// Company is a row of the companies table, keyed by its SAP code.
type Company struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Row converts c to a table row.
func (c Company) Row() Row {
	return Row{ColCompanyCode: c.Code, ColCompanyName: c.Name, ColCompanyDescription: c.Description}
}

// CompanyFromRow is the inverse of Company.Row.
func CompanyFromRow(r Row) Company {
	return Company{Code: r[ColCompanyCode], Name: r[ColCompanyName], Description: r[ColCompanyDescription]}
}

// Project is a row of the projects table, keyed by name.
type Project struct {
	Name   string `json:"name"`
	Team   string `json:"team"`
	Status string `json:"status"`
}

// Row converts p to a table row.
func (p Project) Row() Row {
	return Row{ColProjectName: p.Name, ColProjectTeam: p.Team, ColProjectStatus: p.Status}
}

// ProjectFromRow is the inverse of Project.Row.
func ProjectFromRow(r Row) Project {
	return Project{Name: r[ColProjectName], Team: r[ColProjectTeam], Status: r[ColProjectStatus]}
}

// Activity is a row of the activities table, keyed by name.
type Activity struct {
	Name        string `json:"name"`
	Project     string `json:"project"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// Row converts a to a table row.
func (a Activity) Row() Row {
	return Row{
		ColActivityName:        a.Name,
		ColActivityProject:     a.Project,
		ColActivityDescription: a.Description,
		ColActivityStatus:      a.Status,
	}
}

// ActivityFromRow is the inverse of Activity.Row.
func ActivityFromRow(r Row) Activity {
	return Activity{
		Name:        r[ColActivityName],
		Project:     r[ColActivityProject],
		Description: r[ColActivityDescription],
		Status:      r[ColActivityStatus],
	}
}
