package schema

// TableID is the fully-qualified identity of a table: database name, an
// optional schema name for servers that have one, and the table name.
// It is a comparable value type and the key for all catalog lookups.
type TableID struct {
	Database string `msgpack:"db"`
	Schema   string `msgpack:"schema,omitempty"`
	Table    string `msgpack:"table"`
}

// NewTableID builds an identifier without a schema component, the common
// case for MySQL-flavored servers where database and schema coincide.
func NewTableID(database, table string) TableID {
	return TableID{Database: database, Table: table}
}

func (id TableID) String() string {
	if id.Schema != "" {
		return id.Database + "." + id.Schema + "." + id.Table
	}
	return id.Database + "." + id.Table
}

// IsZero reports whether the identifier is empty.
func (id TableID) IsZero() bool {
	return id.Database == "" && id.Schema == "" && id.Table == ""
}
