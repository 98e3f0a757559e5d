package catalog

import "fmt"

// TableName identifies a schema-qualified table by its configurable schema
// and table parts, assembled once at startup rather than looked up
// reflectively at query time (spec's "small query-builder" design note).
type TableName struct {
	Schema string
	Table  string
}

// Qualified returns the fully qualified, quoted identifier for use in SQL.
func (t TableName) Qualified() string {
	if t.Schema == "" {
		return fmt.Sprintf("%q", t.Table)
	}
	return fmt.Sprintf("%q.%q", t.Schema, t.Table)
}

// TableNames holds the configurable names of the two catalog tables.
type TableNames struct {
	File  TableName
	Event TableName
}

// DefaultTableNames returns the conventional unqualified names used when no
// override is configured.
func DefaultTableNames() TableNames {
	return TableNames{
		File:  TableName{Table: "files"},
		Event: TableName{Table: "events"},
	}
}
