package warehouse

import (
	"fmt"
	"strings"
)

// Column is one column definition
type Column struct {
	Name       string
	Type       string
	NotNull    bool
	PrimaryKey bool
	Default    string // SQL literal, e.g. 'direct'
}

// Table is a table definition without namespace
type Table struct {
	Name    string
	Columns []Column
}

// Qualified returns ns.name
func (t Table) Qualified(ns string) string {
	return Qualify(ns, t.Name)
}

// ColumnNames returns the column names in order
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

func (c Column) definition() string {
	var b strings.Builder
	b.WriteString(c.Name)
	b.WriteString(" ")
	b.WriteString(c.Type)
	if c.NotNull {
		b.WriteString(" NOT NULL")
	}
	if c.PrimaryKey {
		b.WriteString(" PRIMARY KEY")
	}
	if c.Default != "" {
		b.WriteString(" DEFAULT ")
		b.WriteString(c.Default)
	}
	return b.String()
}

// Qualify joins a namespace and an object name
func Qualify(ns, name string) string {
	if ns == "" {
		return name
	}
	return ns + "." + name
}

// CreateTableSQL renders a create-if-absent statement; existing tables are never altered
func CreateTableSQL(ns string, t Table) string {
	defs := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		defs[i] = c.definition()
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s(%s)", t.Qualified(ns), strings.Join(defs, ", "))
}

// CreateSchemaSQL renders a create-if-absent schema statement
func CreateSchemaSQL(ns string) string {
	return "CREATE SCHEMA IF NOT EXISTS " + ns
}

// QuoteLiteral quotes s as a SQL string literal
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
