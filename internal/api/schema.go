package api

import (
	"net/http"

	"github.com/clinicsql/clinicsql/internal/auth"
	"github.com/clinicsql/clinicsql/internal/schema"
)

type schemaColumn struct {
	Name       string   `json:"name"`
	Type       string   `json:"type,omitempty"`
	Comment    string   `json:"comment,omitempty"`
	PrimaryKey bool     `json:"primary_key,omitempty"`
	Nullable   bool     `json:"nullable,omitempty"`
	References string   `json:"references,omitempty"`
	Enum       []string `json:"enum,omitempty"`
	Derived    bool     `json:"derived,omitempty"`
	Expression string   `json:"expression,omitempty"`
}

type schemaTable struct {
	Name    string         `json:"name"`
	Comment string         `json:"comment,omitempty"`
	Columns []schemaColumn `json:"columns"`
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema descriptor is not configured", false, nil)
		return
	}
	if err := auth.RequireRole(r.Context(), auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	descriptor := *deps.Schema
	tables := make([]schemaTable, 0, len(descriptor.Tables))
	for _, table := range descriptor.Tables {
		tables = append(tables, toSchemaTable(table))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":     descriptor.Version,
		"description": descriptor.Describe(),
		"tables":      tables,
		"relations":   descriptor.Relations,
	})
}

func toSchemaTable(table schema.Table) schemaTable {
	columns := make([]schemaColumn, 0, len(table.Columns))
	for _, column := range table.Columns {
		columns = append(columns, schemaColumn{
			Name:       column.Name,
			Type:       string(column.Type),
			Comment:    column.Comment,
			PrimaryKey: column.PrimaryKey,
			Nullable:   column.Nullable,
			References: column.References,
			Enum:       column.Enum,
			Derived:    column.Derived,
			Expression: column.Expression,
		})
	}
	return schemaTable{Name: table.Name, Comment: table.Comment, Columns: columns}
}
