package schema

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/binrelay/binrelay/filter"
	"github.com/binrelay/binrelay/source"
	"github.com/binrelay/binrelay/telemetry"
)

// HistoryStore is the durable append-only log of DDL applications the
// catalog records into and recovers from. Implementations live outside this
// package (see the history package); the catalog treats any store failure
// as fatal and never retries internally.
type HistoryStore interface {
	// Record appends one DDL application. Called after schema-change
	// notification so a notified change is always about to be durable.
	Record(pos source.Position, database string, tables *TableSet, ddl string) error

	// Recover replays recorded DDL through the parser into the table model,
	// stopping after the last entry at or before stop.
	Recover(stop source.Position, tables *TableSet, parser DDLParser) error

	// Start acquires the store's resources; Stop releases them.
	Start() error
	Stop() error

	// Describe returns a human-readable location for operator logging.
	Describe() string
}

// Session-control statements that show up in the DDL stream but carry no
// structural information. They are skipped without recording history.
var ignoredStatements = map[string]struct{}{
	"BEGIN":            {},
	"END":              {},
	"FLUSH PRIVILEGES": {},
}

// Catalog owns the live table model and the derived per-table schemas. DDL
// text flows in through ApplyDDL; row event conversion reads back out
// through TableFor and SchemaFor. Not safe for concurrent use: the host
// serializes all calls (single-writer discipline).
type Catalog struct {
	parser  DDLParser
	filters *filter.Set
	history HistoryStore

	tables  *TableSet
	schemas map[TableID]*TableSchema
}

// NewCatalog creates a catalog. All collaborators are required.
func NewCatalog(parser DDLParser, filters *filter.Set, history HistoryStore) (*Catalog, error) {
	if parser == nil {
		return nil, fmt.Errorf("a DDL parser is required")
	}
	if filters == nil {
		return nil, fmt.Errorf("a filter set is required")
	}
	if history == nil {
		return nil, fmt.Errorf("a history store is required")
	}
	return &Catalog{
		parser:  parser,
		filters: filters,
		history: history,
		tables:  NewTableSet(),
		schemas: make(map[TableID]*TableSchema),
	}, nil
}

// Start acquires the resources needed to persist DDL history.
func (c *Catalog) Start() error {
	if err := c.history.Start(); err != nil {
		return fmt.Errorf("failed to start history store: %w", err)
	}
	log.Info().Str("history", c.history.Describe()).Msg("Schema catalog started")
	return nil
}

// Shutdown stops recording history and releases resources acquired by
// Start.
func (c *Catalog) Shutdown() error {
	return c.history.Stop()
}

// Filters returns the filter set the catalog was configured with.
func (c *Catalog) Filters() *filter.Set {
	return c.filters
}

// HistoryLocation describes where DDL history is recorded.
func (c *Catalog) HistoryLocation() string {
	return c.history.Describe()
}

// TableFor returns the live definition for the identifier if the table
// exists and passes the filters, else nil.
func (c *Catalog) TableFor(id TableID) *Table {
	if id.IsZero() || !c.filters.Table(id.Database, id.Table) {
		return nil
	}
	return c.tables.ForTable(id)
}

// SchemaFor returns the live derived schema for the identifier if the
// table exists and passes the filters, else nil. Filtered-out columns are
// already excluded from the returned schema's value shape.
func (c *Catalog) SchemaFor(id TableID) *TableSchema {
	if id.IsZero() || !c.filters.Table(id.Database, id.Table) {
		return nil
	}
	return c.schemas[id]
}

// Tables returns the definitions of every known table passing the filters.
func (c *Catalog) Tables() []*Table {
	ids := c.tables.Subset(func(id TableID) bool {
		return c.filters.Table(id.Database, id.Table)
	})
	tables := make([]*Table, 0, len(ids))
	for _, id := range ids {
		tables = append(tables, c.tables.ForTable(id))
	}
	return tables
}

// ApplyDDL applies DDL text to the table model, records it in history and
// rebuilds the affected derived schemas.
//
// A parse failure is logged and swallowed: the model stays as of the last
// successful statement, and the notification and persistence steps still
// run. Only a history store failure is returned, and it is fatal to the
// caller. The returned bool is false only for ignored session-control
// statements; a statement that parses with zero structural effect still
// counts as processed.
//
// When onDatabase is supplied it is called once per affected database that
// passes the database filter, grouped in first-seen order. The full
// original DDL text is forwarded for every affected database; statements
// are not sub-divided per database.
func (c *Catalog) ApplyDDL(pos source.Position, defaultDatabase, ddl string, onDatabase func(database, ddl string)) (bool, error) {
	if _, ignored := ignoredStatements[ddl]; ignored {
		return false, nil
	}

	c.parser.Reset()
	c.parser.SetCurrentDatabase(defaultDatabase)
	if err := c.parser.Parse(ddl, c.tables); err != nil {
		telemetry.DDLParseFailuresTotal.Inc()
		log.Error().Err(err).Str("ddl", ddl).Msg("Error parsing DDL statement and updating tables")
	}

	// Notify before persisting so a recovery replay (which is driven by
	// history) can never skip a schema change that was already announced.
	if onDatabase != nil {
		groups := c.parser.DatabaseStatements()
		if affectsOtherThan(groups, defaultDatabase) {
			for _, group := range groups {
				if c.filters.Database(group.Database) {
					onDatabase(group.Database, ddl)
				}
			}
		} else if c.filters.Database(defaultDatabase) {
			onDatabase(defaultDatabase, ddl)
		}
	}

	if err := c.history.Record(pos, defaultDatabase, c.tables, ddl); err != nil {
		return true, fmt.Errorf("failed to record DDL history at %s: %w", pos, err)
	}
	telemetry.DDLAppliedTotal.Inc()

	for _, id := range c.tables.DrainChanges() {
		table := c.tables.ForTable(id)
		if table == nil { // removed
			delete(c.schemas, id)
			continue
		}
		c.schemas[id] = BuildTableSchema(table, c.filters)
	}
	return true, nil
}

// affectsOtherThan reports whether any parsed statement structurally
// affected a database other than the default one.
func affectsOtherThan(groups []DatabaseStatements, defaultDatabase string) bool {
	for _, group := range groups {
		if group.Database != defaultDatabase {
			return true
		}
	}
	return false
}

// LoadHistory resets the table model and replays recorded DDL up to the
// given position, then rebuilds every derived schema. Used for cold-start
// recovery; a store failure is fatal.
func (c *Catalog) LoadHistory(start source.Position) error {
	c.tables = NewTableSet()
	if err := c.history.Recover(start, c.tables, c.parser); err != nil {
		return fmt.Errorf("failed to recover schema history: %w", err)
	}
	c.refreshSchemas()
	log.Info().Int("tables", c.tables.Len()).Str("position", start.String()).
		Msg("Recovered table model from DDL history")
	return nil
}

// refreshSchemas discards every cached derived schema and rebuilds them
// from the current table model and filters.
func (c *Catalog) refreshSchemas() {
	c.schemas = make(map[TableID]*TableSchema)
	for _, id := range c.tables.IDs() {
		c.schemas[id] = BuildTableSchema(c.tables.ForTable(id), c.filters)
	}
}
