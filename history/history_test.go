package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binrelay/binrelay/ddl"
	"github.com/binrelay/binrelay/schema"
	"github.com/binrelay/binrelay/source"
)

func newParser(t *testing.T) *ddl.Parser {
	t.Helper()
	p, err := ddl.NewParser()
	require.NoError(t, err)
	return p
}

func applyAndRecord(t *testing.T, store schema.HistoryStore, parser *ddl.Parser, pos source.Position, database, ddlText string, tables *schema.TableSet) {
	t.Helper()
	parser.Reset()
	parser.SetCurrentDatabase(database)
	require.NoError(t, parser.Parse(ddlText, tables))
	require.NoError(t, store.Record(pos, database, tables, ddlText))
}

func pos(p uint64) source.Position {
	return source.Position{File: "binlog.000001", Pos: p}
}

func TestMemoryStoreRecordRequiresStart(t *testing.T) {
	store := NewMemoryStore()
	err := store.Record(pos(4), "shop", schema.NewTableSet(), "CREATE TABLE t (id INT)")
	require.Error(t, err)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Start())
	parser := newParser(t)

	tables := schema.NewTableSet()
	applyAndRecord(t, store, parser, pos(4), "shop", "CREATE TABLE customers (id INT PRIMARY KEY)", tables)
	applyAndRecord(t, store, parser, pos(8), "shop", "ALTER TABLE customers ADD COLUMN name VARCHAR(64)", tables)

	recovered := schema.NewTableSet()
	require.NoError(t, store.Recover(pos(100), recovered, parser))

	table := recovered.ForTable(schema.NewTableID("shop", "customers"))
	require.NotNil(t, table)
	assert.Len(t, table.Columns, 2)
}

func TestMemoryStoreRecoverStopsAtPosition(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Start())
	parser := newParser(t)

	tables := schema.NewTableSet()
	applyAndRecord(t, store, parser, pos(4), "shop", "CREATE TABLE customers (id INT PRIMARY KEY)", tables)
	applyAndRecord(t, store, parser, pos(500), "shop", "DROP TABLE customers", tables)

	recovered := schema.NewTableSet()
	require.NoError(t, store.Recover(pos(10), recovered, parser))
	assert.NotNil(t, recovered.ForTable(schema.NewTableID("shop", "customers")))
}

func TestEntrySnapshotsTableModel(t *testing.T) {
	parser := newParser(t)
	tables := schema.NewTableSet()
	parser.SetCurrentDatabase("shop")
	require.NoError(t, parser.Parse("CREATE TABLE customers (id INT PRIMARY KEY)", tables))

	entry := newEntry(pos(4), "shop", "CREATE TABLE customers (id INT PRIMARY KEY)", tables)
	require.Len(t, entry.Tables, 1)
	assert.Equal(t, schema.NewTableID("shop", "customers"), entry.Tables[0].ID)
	assert.NotZero(t, entry.TsMs)
}

func TestPebbleStoreRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		store := NewPebbleStore(t.TempDir(), compress)
		require.NoError(t, store.Start())
		parser := newParser(t)

		tables := schema.NewTableSet()
		applyAndRecord(t, store, parser, pos(4), "shop", "CREATE TABLE customers (id INT PRIMARY KEY)", tables)
		applyAndRecord(t, store, parser, pos(8), "shop", "ALTER TABLE customers ADD COLUMN name VARCHAR(64)", tables)

		recovered := schema.NewTableSet()
		require.NoError(t, store.Recover(pos(100), recovered, parser))

		table := recovered.ForTable(schema.NewTableID("shop", "customers"))
		require.NotNil(t, table)
		assert.Len(t, table.Columns, 2)
		require.NoError(t, store.Stop())
	}
}

func TestPebbleStoreSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	parser := newParser(t)

	store := NewPebbleStore(dir, true)
	require.NoError(t, store.Start())
	tables := schema.NewTableSet()
	applyAndRecord(t, store, parser, pos(4), "shop", "CREATE TABLE customers (id INT PRIMARY KEY)", tables)
	require.NoError(t, store.Stop())

	reopened := NewPebbleStore(dir, true)
	require.NoError(t, reopened.Start())
	defer reopened.Stop()

	// The sequence counter continues where it left off.
	applyAndRecord(t, reopened, parser, pos(8), "shop", "CREATE TABLE orders (id INT PRIMARY KEY)", tables)

	recovered := schema.NewTableSet()
	require.NoError(t, reopened.Recover(pos(100), recovered, parser))
	assert.Equal(t, 2, recovered.Len())
}

func TestPebbleStoreRecoverSkipsUnparseableEntries(t *testing.T) {
	store := NewPebbleStore(t.TempDir(), false)
	require.NoError(t, store.Start())
	defer store.Stop()
	parser := newParser(t)

	tables := schema.NewTableSet()
	applyAndRecord(t, store, parser, pos(4), "shop", "CREATE TABLE customers (id INT PRIMARY KEY)", tables)
	// Recorded even though it never parsed, matching live application.
	require.NoError(t, store.Record(pos(8), "shop", tables, "THIS IS NOT SQL"))
	applyAndRecord(t, store, parser, pos(12), "shop", "CREATE TABLE orders (id INT PRIMARY KEY)", tables)

	recovered := schema.NewTableSet()
	require.NoError(t, store.Recover(pos(100), recovered, parser))
	assert.Equal(t, 2, recovered.Len())
}

func TestPebbleStoreRecordRequiresStart(t *testing.T) {
	store := NewPebbleStore(t.TempDir(), false)
	err := store.Record(pos(4), "shop", schema.NewTableSet(), "CREATE TABLE t (id INT)")
	require.Error(t, err)
	assert.Contains(t, store.Describe(), "pebble:")
}
