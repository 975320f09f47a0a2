// Package schema holds the static description of the clinic dataset that is
// embedded in every prompt. It is pure data: nothing here touches a database.
package schema

import (
	"fmt"
	"strings"
)

type ColumnType string

const (
	TypeInteger ColumnType = "INTEGER"
	TypeText    ColumnType = "VARCHAR"
	TypeDate    ColumnType = "DATE"
	TypeDouble  ColumnType = "DOUBLE"
	TypeBoolean ColumnType = "BOOLEAN"
	TypeJSON    ColumnType = "JSON"
)

type Column struct {
	Name       string     `json:"name"`
	Type       ColumnType `json:"type"`
	Comment    string     `json:"comment,omitempty"`
	PrimaryKey bool       `json:"primary_key,omitempty"`
	Nullable   bool       `json:"nullable,omitempty"`
	References string     `json:"references,omitempty"`
	Enum       []string   `json:"enum,omitempty"`
	// Derived columns are not stored; Expression shows how to compute them.
	Derived    bool   `json:"derived,omitempty"`
	Expression string `json:"expression,omitempty"`
}

type Table struct {
	Name    string   `json:"name"`
	Comment string   `json:"comment,omitempty"`
	Columns []Column `json:"columns"`
}

// Relation is a one-to-many link from the parent table to the child table.
type Relation struct {
	Parent      string `json:"parent"`
	Child       string `json:"child"`
	ChildColumn string `json:"child_column"`
}

type Schema struct {
	Version   string     `json:"version"`
	Tables    []Table    `json:"tables"`
	Relations []Relation `json:"relations"`
	Notes     []string   `json:"notes"`
}

func (s Schema) Table(name string) (Table, bool) {
	for _, table := range s.Tables {
		if table.Name == name {
			return table, true
		}
	}
	return Table{}, false
}

func (s Schema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, table := range s.Tables {
		names = append(names, table.Name)
	}
	return names
}

// StoredColumns returns the columns that physically exist in the table.
func (t Table) StoredColumns() []Column {
	stored := make([]Column, 0, len(t.Columns))
	for _, column := range t.Columns {
		if !column.Derived {
			stored = append(stored, column)
		}
	}
	return stored
}

func (t Table) Column(name string) (Column, bool) {
	for _, column := range t.Columns {
		if column.Name == name {
			return column, true
		}
	}
	return Column{}, false
}

// Describe renders the schema as prompt text. Output order follows
// declaration order so the same schema always yields the same text.
func (s Schema) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Schema version: %s\n", s.Version)

	for _, table := range s.Tables {
		b.WriteString("\nTable: ")
		b.WriteString(table.Name)
		if table.Comment != "" {
			b.WriteString(" -- ")
			b.WriteString(table.Comment)
		}
		b.WriteString("\n")
		for _, column := range table.Columns {
			b.WriteString("  - ")
			b.WriteString(describeColumn(column))
			b.WriteString("\n")
		}
	}

	if len(s.Relations) > 0 {
		b.WriteString("\nRelationships (one-to-many):\n")
		for _, rel := range s.Relations {
			fmt.Fprintf(&b, "  - %s -> %s (via %s.%s)\n", rel.Parent, rel.Child, rel.Child, rel.ChildColumn)
		}
	}

	if len(s.Notes) > 0 {
		b.WriteString("\nNotes:\n")
		for _, note := range s.Notes {
			b.WriteString("  - ")
			b.WriteString(note)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func describeColumn(column Column) string {
	if column.Derived {
		return fmt.Sprintf("%s: DERIVED, not a stored column; compute as %s", column.Name, column.Expression)
	}

	parts := []string{column.Name + " " + string(column.Type)}
	if column.PrimaryKey {
		parts = append(parts, "primary key")
	}
	if column.References != "" {
		parts = append(parts, "references "+column.References)
	}
	if column.Nullable {
		parts = append(parts, "nullable")
	}
	if len(column.Enum) > 0 {
		quoted := make([]string, 0, len(column.Enum))
		for _, value := range column.Enum {
			quoted = append(quoted, "'"+value+"'")
		}
		parts = append(parts, "one of ("+strings.Join(quoted, ", ")+")")
	}
	text := strings.Join(parts, ", ")
	if column.Comment != "" {
		text += " -- " + column.Comment
	}
	return text
}
