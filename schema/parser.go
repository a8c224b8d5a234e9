package schema

// DatabaseStatements groups the DDL statements of one parser call that
// structurally affected a single database, in original statement order.
type DatabaseStatements struct {
	Database   string
	Statements []string
}

// DDLParser is the narrow interface the catalog consumes to turn DDL text
// into table model mutations. Implementations mutate the supplied TableSet
// in place and keep a per-call listener of which databases each statement
// affected; Reset clears that listener before a new ApplyDDL call.
//
// Parse returns a structured error on malformed input; the table model must
// be left as of the last successfully applied statement.
type DDLParser interface {
	// SetCurrentDatabase sets the default database for statements that do
	// not use fully-qualified table names.
	SetCurrentDatabase(name string)

	// Parse applies the (possibly multi-statement) DDL text to the table
	// model.
	Parse(ddl string, tables *TableSet) error

	// Reset clears the per-call change listener.
	Reset()

	// DatabaseStatements returns the statements of the current call grouped
	// by the database they affected, in first-seen database order.
	DatabaseStatements() []DatabaseStatements
}
