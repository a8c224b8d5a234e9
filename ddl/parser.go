// Package ddl turns MySQL DDL text into table model mutations using the
// Vitess SQL parser. It implements the schema.DDLParser contract: Parse
// mutates the supplied TableSet in place and keeps a per-call listener of
// which databases each statement structurally affected.
package ddl

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"vitess.io/vitess/go/vt/sqlparser"

	"github.com/binrelay/binrelay/schema"
)

// ParseError reports a statement the parser could not understand. The
// table model is left as of the last successfully applied statement.
type ParseError struct {
	Statement string
	Err       error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse DDL statement %q: %v", e.Statement, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parser applies DDL statements to a schema.TableSet. Not safe for
// concurrent use; one instance belongs to one catalog.
type Parser struct {
	parser    *sqlparser.Parser
	currentDB string
	changes   *changeListener
}

// NewParser creates a DDL parser.
func NewParser() (*Parser, error) {
	p, err := sqlparser.New(sqlparser.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQL parser: %w", err)
	}
	return &Parser{parser: p, changes: newChangeListener()}, nil
}

// SetCurrentDatabase sets the default database for statements without
// fully-qualified table names.
func (p *Parser) SetCurrentDatabase(name string) {
	p.currentDB = name
}

// Reset clears the per-call change listener.
func (p *Parser) Reset() {
	p.changes.reset()
}

// DatabaseStatements returns the statements of the current call grouped by
// affected database, in first-seen database order.
func (p *Parser) DatabaseStatements() []schema.DatabaseStatements {
	return p.changes.grouped()
}

// Parse splits the DDL text into statements and applies each to the table
// model. Application stops at the first malformed statement; earlier
// statements stay applied.
func (p *Parser) Parse(ddl string, tables *schema.TableSet) error {
	pieces, err := p.parser.SplitStatementToPieces(ddl)
	if err != nil {
		return &ParseError{Statement: ddl, Err: err}
	}

	for _, piece := range pieces {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		stmt, err := p.parser.Parse(piece)
		if err != nil {
			return &ParseError{Statement: piece, Err: err}
		}
		p.apply(stmt, piece, tables)
	}
	return nil
}

// apply dispatches one parsed statement. Statements that reference tables
// we have never seen are recorded as affecting their database but change
// nothing structurally.
func (p *Parser) apply(stmt sqlparser.Statement, text string, tables *schema.TableSet) {
	switch parsed := stmt.(type) {
	case *sqlparser.CreateTable:
		id := p.tableID(parsed.Table)
		p.changes.record(id.Database, text)
		if parsed.TableSpec == nil {
			return // CREATE TABLE ... LIKE carries no column spec
		}
		if parsed.IfNotExists && tables.ForTable(id) != nil {
			return
		}
		tables.Overwrite(buildTable(id, parsed.TableSpec))

	case *sqlparser.AlterTable:
		id := p.tableID(parsed.Table)
		p.changes.record(id.Database, text)
		table := tables.ForTable(id)
		if table == nil {
			log.Debug().Str("table", id.String()).Msg("ALTER TABLE for unknown table, skipping")
			return
		}
		altered := table.Clone()
		renamedTo := applyAlterOptions(altered, parsed.AlterOptions)
		tables.Overwrite(altered)
		if !renamedTo.IsEmpty() {
			target := p.tableID(renamedTo)
			p.changes.record(target.Database, text)
			tables.Rename(id, target)
		}

	case *sqlparser.DropTable:
		for _, from := range parsed.FromTables {
			id := p.tableID(from)
			p.changes.record(id.Database, text)
			tables.Remove(id)
		}

	case *sqlparser.RenameTable:
		for _, pair := range parsed.TablePairs {
			from := p.tableID(pair.FromTable)
			to := p.tableID(pair.ToTable)
			p.changes.record(from.Database, text)
			p.changes.record(to.Database, text)
			tables.Rename(from, to)
		}

	case *sqlparser.TruncateTable:
		// Row-level only; the structure is untouched but the database is
		// still an affected one for notification purposes.
		p.changes.record(p.tableID(parsed.Table).Database, text)

	case *sqlparser.CreateDatabase:
		p.changes.record(parsed.DBName.String(), text)

	case *sqlparser.AlterDatabase:
		p.changes.record(parsed.DBName.String(), text)

	case *sqlparser.DropDatabase:
		db := parsed.DBName.String()
		p.changes.record(db, text)
		tables.RemoveDatabase(db)

	default:
		// Non-structural statements (grants, row events leaking into the
		// query stream, etc.) are ignored.
		log.Debug().Str("statement", text).Msg("Ignoring non-structural statement")
	}
}

// tableID resolves a possibly-qualified table name against the current
// default database.
func (p *Parser) tableID(name sqlparser.TableName) schema.TableID {
	db := p.currentDB
	if name.Qualifier.NotEmpty() {
		db = name.Qualifier.String()
	}
	return schema.NewTableID(db, name.Name.String())
}

// buildTable converts a parsed CREATE TABLE spec into a table definition.
func buildTable(id schema.TableID, spec *sqlparser.TableSpec) *schema.Table {
	table := &schema.Table{ID: id}

	for i, col := range spec.Columns {
		column := schema.Column{
			Name:     col.Name.String(),
			Type:     strings.ToUpper(col.Type.Type),
			Nullable: true,
			Position: i,
		}
		if opts := col.Type.Options; opts != nil {
			if opts.Null != nil && !*opts.Null {
				column.Nullable = false
			}
			if opts.KeyOpt == sqlparser.ColKeyPrimary {
				column.Nullable = false
				table.PrimaryKeys = append(table.PrimaryKeys, column.Name)
			}
		}
		table.Columns = append(table.Columns, column)
	}

	for _, idx := range spec.Indexes {
		if idx.Info == nil || idx.Info.Type != sqlparser.IndexTypePrimary {
			continue
		}
		for _, idxCol := range idx.Columns {
			name := idxCol.Column.String()
			if !contains(table.PrimaryKeys, name) {
				table.PrimaryKeys = append(table.PrimaryKeys, name)
			}
			if col := table.Column(name); col != nil {
				col.Nullable = false
			}
		}
	}

	return table
}

// applyAlterOptions mutates the cloned table per the ALTER options and
// returns the rename target if one of them was RENAME TO.
func applyAlterOptions(table *schema.Table, options []sqlparser.AlterOption) sqlparser.TableName {
	var renamedTo sqlparser.TableName

	for _, option := range options {
		switch opt := option.(type) {
		case *sqlparser.AddColumns:
			for _, col := range opt.Columns {
				addColumn(table, col)
			}

		case *sqlparser.DropColumn:
			dropColumn(table, opt.Name.Name.String())

		case *sqlparser.ModifyColumn:
			modifyColumn(table, opt.NewColDefinition.Name.String(), opt.NewColDefinition)

		case *sqlparser.ChangeColumn:
			modifyColumn(table, opt.OldColumn.Name.String(), opt.NewColDefinition)

		case *sqlparser.RenameColumn:
			renameColumn(table, opt.OldName.Name.String(), opt.NewName.Name.String())

		case *sqlparser.AddIndexDefinition:
			if opt.IndexDefinition.Info != nil && opt.IndexDefinition.Info.Type == sqlparser.IndexTypePrimary {
				table.PrimaryKeys = table.PrimaryKeys[:0]
				for _, idxCol := range opt.IndexDefinition.Columns {
					table.PrimaryKeys = append(table.PrimaryKeys, idxCol.Column.String())
				}
			}

		case *sqlparser.DropKey:
			if opt.Type == sqlparser.PrimaryKeyType {
				table.PrimaryKeys = nil
			}

		case *sqlparser.RenameTableName:
			renamedTo = opt.Table
		}
	}

	return renamedTo
}

func addColumn(table *schema.Table, col *sqlparser.ColumnDefinition) {
	name := col.Name.String()
	if table.Column(name) != nil {
		return
	}
	column := schema.Column{
		Name:     name,
		Type:     strings.ToUpper(col.Type.Type),
		Nullable: true,
		Position: len(table.Columns),
	}
	if opts := col.Type.Options; opts != nil {
		if opts.Null != nil && !*opts.Null {
			column.Nullable = false
		}
		if opts.KeyOpt == sqlparser.ColKeyPrimary {
			column.Nullable = false
			table.PrimaryKeys = append(table.PrimaryKeys, name)
		}
	}
	table.Columns = append(table.Columns, column)
}

func dropColumn(table *schema.Table, name string) {
	for i := range table.Columns {
		if table.Columns[i].Name != name {
			continue
		}
		table.Columns = append(table.Columns[:i], table.Columns[i+1:]...)
		for j := range table.Columns {
			table.Columns[j].Position = j
		}
		table.PrimaryKeys = remove(table.PrimaryKeys, name)
		return
	}
}

func modifyColumn(table *schema.Table, oldName string, def *sqlparser.ColumnDefinition) {
	col := table.Column(oldName)
	if col == nil {
		return
	}
	newName := def.Name.String()
	if newName != oldName {
		for i, pk := range table.PrimaryKeys {
			if pk == oldName {
				table.PrimaryKeys[i] = newName
			}
		}
	}
	col.Name = newName
	col.Type = strings.ToUpper(def.Type.Type)
	col.Nullable = true
	if opts := def.Type.Options; opts != nil {
		if opts.Null != nil && !*opts.Null {
			col.Nullable = false
		}
		if opts.KeyOpt == sqlparser.ColKeyPrimary && !contains(table.PrimaryKeys, newName) {
			table.PrimaryKeys = append(table.PrimaryKeys, newName)
		}
	}
	if contains(table.PrimaryKeys, newName) {
		col.Nullable = false
	}
}

func renameColumn(table *schema.Table, oldName, newName string) {
	if col := table.Column(oldName); col != nil {
		col.Name = newName
	}
	for i, pk := range table.PrimaryKeys {
		if pk == oldName {
			table.PrimaryKeys[i] = newName
		}
	}
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func remove(names []string, name string) []string {
	out := names[:0]
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}
