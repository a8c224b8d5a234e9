// Package history persists the DDL application log the schema catalog
// records into and recovers from. Entries are append-only and replayed in
// sequence order, which equals log order because the catalog appends from
// a single writer.
package history

import (
	"time"

	"github.com/binrelay/binrelay/schema"
	"github.com/binrelay/binrelay/source"
)

// Entry is one recorded DDL application: where in the change log it
// happened, the default database it ran under, the statement text, and a
// snapshot of the resulting table model. Recovery replays the DDL text
// through the parser; the snapshot is carried for inspection and tooling.
type Entry struct {
	Position source.Position `msgpack:"pos"`
	Database string          `msgpack:"db"`
	DDL      string          `msgpack:"ddl"`
	Tables   []*schema.Table `msgpack:"tables"`
	TsMs     int64           `msgpack:"ts_ms"`
}

func newEntry(pos source.Position, database, ddl string, tables *schema.TableSet) Entry {
	snapshot := make([]*schema.Table, 0, tables.Len())
	for _, id := range tables.IDs() {
		snapshot = append(snapshot, tables.ForTable(id))
	}
	return Entry{
		Position: pos,
		Database: database,
		DDL:      ddl,
		Tables:   snapshot,
		TsMs:     time.Now().UnixMilli(),
	}
}

// replay drives one recovered entry through the parser. Parse failures are
// tolerated the same way live application tolerates them: the model stays
// as of the last good statement.
func replay(entry Entry, tables *schema.TableSet, parser schema.DDLParser) error {
	parser.Reset()
	parser.SetCurrentDatabase(entry.Database)
	return parser.Parse(entry.DDL, tables)
}
