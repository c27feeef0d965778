package warehouse

import (
	"context"
	"fmt"
)

// FileFormat describes how staged files are parsed
type FileFormat struct {
	Type                      string
	SkipHeader                int
	FieldOptionallyEnclosedBy string
}

// CSVFormat is the format of every staged file: header row, optionally quoted fields
var CSVFormat = FileFormat{
	Type:                      "CSV",
	SkipHeader:                1,
	FieldOptionallyEnclosedBy: `"`,
}

// String renders the FILE_FORMAT=(...) clause body
func (f FileFormat) String() string {
	return fmt.Sprintf("(TYPE=%s, SKIP_HEADER=%d, FIELD_OPTIONALLY_ENCLOSED_BY=%s)",
		f.Type, f.SkipHeader, QuoteLiteral(f.FieldOptionallyEnclosedBy))
}

// Stage is a named pointer to an external location plus its file format
type Stage struct {
	Namespace string
	Name      string
	URL       string
	Format    FileFormat
}

// Ref returns the qualified stage name
func (s Stage) Ref() string {
	return Qualify(s.Namespace, s.Name)
}

// CopySpec describes one bulk load of a staged file into a table
type CopySpec struct {
	Namespace string
	Table     Table
	Stage     Stage
	File      string
}

// Target returns the qualified target table
func (c CopySpec) Target() string {
	return c.Table.Qualified(c.Namespace)
}

// CopyResult reports one bulk load
type CopyResult struct {
	Table   string
	File    string
	Rows    int64
	Skipped bool // file already loaded
}

// Dialect covers the statements that differ between warehouses.
// Table, schema and insert statements are shared (see CreateTableSQL).
type Dialect interface {
	Name() string
	// InitSession runs once per acquired session
	InitSession(ctx context.Context, s *Session) error
	// EnsureNamespace returns statements that make ns usable, possibly none
	EnsureNamespace(ns string) []string
	// StageSQL renders the create-or-replace stage statements
	StageSQL(st Stage) []string
	// CopySQL renders the bulk load statement for spec
	CopySQL(spec CopySpec) string
	// CreateStage creates or replaces the stage
	CreateStage(ctx context.Context, s *Session, st Stage) error
	// CopyInto bulk loads spec.File, skipping files already loaded
	CopyInto(ctx context.Context, s *Session, spec CopySpec) (CopyResult, error)
}
