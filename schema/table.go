package schema

import "sort"

// Column is the structural definition of a single table column.
type Column struct {
	Name     string `msgpack:"name"`
	Type     string `msgpack:"type"`     // Upper-cased SQL type name (INT, VARCHAR, ...)
	Nullable bool   `msgpack:"nullable"` // true unless declared NOT NULL or part of the PK
	Position int    `msgpack:"position"` // 0-based position in the row value array
}

// Table is the structural definition of one table: ordered columns plus the
// primary key column names. Tables are owned by the catalog's TableSet and
// replaced wholesale on structural change, never mutated by consumers.
type Table struct {
	ID          TableID  `msgpack:"id"`
	Columns     []Column `msgpack:"columns"`
	PrimaryKeys []string `msgpack:"primary_keys"`
}

// Column returns the column with the given name, or nil.
func (t *Table) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// PKIndices returns the row positions of the primary key columns, in key
// declaration order. Empty when the table has no primary key.
func (t *Table) PKIndices() []int {
	indices := make([]int, 0, len(t.PrimaryKeys))
	for _, pk := range t.PrimaryKeys {
		if col := t.Column(pk); col != nil {
			indices = append(indices, col.Position)
		}
	}
	return indices
}

// Clone returns a deep copy. DDL application builds a new Table from a copy
// so that previously handed-out definitions stay immutable.
func (t *Table) Clone() *Table {
	clone := &Table{ID: t.ID}
	clone.Columns = append([]Column(nil), t.Columns...)
	clone.PrimaryKeys = append([]string(nil), t.PrimaryKeys...)
	return clone
}

// TableSet is the live table model: every table definition the DDL stream
// has produced so far, with change tracking so the catalog can tell which
// schemas to rebuild after a DDL application. Single-writer, no internal
// locking; the host serializes all access.
type TableSet struct {
	tables  map[TableID]*Table
	changed map[TableID]struct{}
}

// NewTableSet creates an empty table model.
func NewTableSet() *TableSet {
	return &TableSet{
		tables:  make(map[TableID]*Table),
		changed: make(map[TableID]struct{}),
	}
}

// ForTable returns the current definition for the identifier, or nil.
func (ts *TableSet) ForTable(id TableID) *Table {
	return ts.tables[id]
}

// Overwrite replaces (or creates) the definition for table.ID and marks it
// changed.
func (ts *TableSet) Overwrite(table *Table) {
	ts.tables[table.ID] = table
	ts.changed[table.ID] = struct{}{}
}

// Remove drops the definition for the identifier. The id is still marked
// changed so the catalog drops the derived schema too.
func (ts *TableSet) Remove(id TableID) {
	if _, ok := ts.tables[id]; !ok {
		return
	}
	delete(ts.tables, id)
	ts.changed[id] = struct{}{}
}

// Rename moves the definition from one identifier to another.
func (ts *TableSet) Rename(from, to TableID) {
	table := ts.tables[from]
	if table == nil {
		return
	}
	delete(ts.tables, from)
	ts.changed[from] = struct{}{}

	renamed := table.Clone()
	renamed.ID = to
	ts.tables[to] = renamed
	ts.changed[to] = struct{}{}
}

// RemoveDatabase drops every table belonging to the named database.
func (ts *TableSet) RemoveDatabase(database string) {
	for id := range ts.tables {
		if id.Database == database {
			ts.Remove(id)
		}
	}
}

// IDs returns all known table identifiers in deterministic order.
func (ts *TableSet) IDs() []TableID {
	ids := make([]TableID, 0, len(ts.tables))
	for id := range ts.tables {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Len returns the number of known tables.
func (ts *TableSet) Len() int {
	return len(ts.tables)
}

// DrainChanges returns the identifiers changed since the last drain and
// resets the tracking buffer.
func (ts *TableSet) DrainChanges() []TableID {
	ids := make([]TableID, 0, len(ts.changed))
	for id := range ts.changed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	ts.changed = make(map[TableID]struct{})
	return ids
}

// Subset returns the identifiers passing the predicate, in deterministic
// order.
func (ts *TableSet) Subset(include func(TableID) bool) []TableID {
	ids := make([]TableID, 0, len(ts.tables))
	for id := range ts.tables {
		if include(id) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}
