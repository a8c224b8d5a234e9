package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binrelay/binrelay/ddl"
	"github.com/binrelay/binrelay/filter"
	"github.com/binrelay/binrelay/history"
	"github.com/binrelay/binrelay/schema"
	"github.com/binrelay/binrelay/source"
)

func newTestCatalog(t *testing.T, filters *filter.Set) (*schema.Catalog, *history.MemoryStore) {
	t.Helper()
	if filters == nil {
		var err error
		filters, err = filter.NewSet(nil, nil, nil)
		require.NoError(t, err)
	}
	parser, err := ddl.NewParser()
	require.NoError(t, err)

	store := history.NewMemoryStore()
	catalog, err := schema.NewCatalog(parser, filters, store)
	require.NoError(t, err)
	require.NoError(t, catalog.Start())
	t.Cleanup(func() { _ = catalog.Shutdown() })
	return catalog, store
}

func pos(p uint64) source.Position {
	return source.Position{File: "binlog.000001", Pos: p}
}

func TestNewCatalogRequiresCollaborators(t *testing.T) {
	parser, err := ddl.NewParser()
	require.NoError(t, err)
	filters, err := filter.NewSet(nil, nil, nil)
	require.NoError(t, err)

	_, err = schema.NewCatalog(nil, filters, history.NewMemoryStore())
	assert.Error(t, err)
	_, err = schema.NewCatalog(parser, nil, history.NewMemoryStore())
	assert.Error(t, err)
	_, err = schema.NewCatalog(parser, filters, nil)
	assert.Error(t, err)
}

func TestApplyDDLIgnoresSessionControlStatements(t *testing.T) {
	catalog, store := newTestCatalog(t, nil)

	for _, stmt := range []string{"BEGIN", "END", "FLUSH PRIVILEGES"} {
		processed, err := catalog.ApplyDDL(pos(4), "shop", stmt, nil)
		require.NoError(t, err)
		assert.False(t, processed, stmt)
	}
	assert.Empty(t, store.Entries())
}

func TestApplyDDLCreateTable(t *testing.T) {
	catalog, store := newTestCatalog(t, nil)

	processed, err := catalog.ApplyDDL(pos(4), "shop",
		"CREATE TABLE customers (id INT PRIMARY KEY, name VARCHAR(64))", nil)
	require.NoError(t, err)
	assert.True(t, processed)
	require.Len(t, store.Entries(), 1)

	id := schema.NewTableID("shop", "customers")
	table := catalog.TableFor(id)
	require.NotNil(t, table)
	assert.Equal(t, []string{"id"}, table.PrimaryKeys)
	require.Len(t, table.Columns, 2)
	assert.Equal(t, "INT", table.Columns[0].Type)

	ts := catalog.SchemaFor(id)
	require.NotNil(t, ts)
	require.NotNil(t, ts.KeyShape())
	assert.Equal(t, map[string]interface{}{"id": int64(9)},
		ts.KeyFromRow([]interface{}{int64(9), "alice"}))
}

func TestApplyDDLDropTableRemovesSchema(t *testing.T) {
	catalog, _ := newTestCatalog(t, nil)
	id := schema.NewTableID("shop", "customers")

	_, err := catalog.ApplyDDL(pos(4), "shop", "CREATE TABLE customers (id INT PRIMARY KEY)", nil)
	require.NoError(t, err)
	require.NotNil(t, catalog.SchemaFor(id))

	_, err = catalog.ApplyDDL(pos(8), "shop", "DROP TABLE customers", nil)
	require.NoError(t, err)
	assert.Nil(t, catalog.SchemaFor(id))
	assert.Nil(t, catalog.TableFor(id))
}

func TestApplyDDLAlterTableRebuildsSchema(t *testing.T) {
	catalog, _ := newTestCatalog(t, nil)
	id := schema.NewTableID("shop", "customers")

	_, err := catalog.ApplyDDL(pos(4), "shop", "CREATE TABLE customers (id INT PRIMARY KEY)", nil)
	require.NoError(t, err)
	before := catalog.SchemaFor(id).Fingerprint()

	_, err = catalog.ApplyDDL(pos(8), "shop", "ALTER TABLE customers ADD COLUMN email VARCHAR(128)", nil)
	require.NoError(t, err)

	after := catalog.SchemaFor(id)
	require.NotNil(t, after)
	assert.NotEqual(t, before, after.Fingerprint())
	require.Len(t, after.ValueShape().Fields, 2)
	assert.Equal(t, "email", after.ValueShape().Fields[1].Name)
}

func TestApplyDDLParseFailureStillPersists(t *testing.T) {
	catalog, store := newTestCatalog(t, nil)

	var notified []string
	processed, err := catalog.ApplyDDL(pos(4), "shop", "NOT VALID SQL AT ALL", func(database, ddlText string) {
		notified = append(notified, database)
	})
	require.NoError(t, err)
	// A statement that fails to parse still counts as processed, is still
	// announced under the default database, and is still recorded.
	assert.True(t, processed)
	assert.Equal(t, []string{"shop"}, notified)
	require.Len(t, store.Entries(), 1)
	assert.Equal(t, "NOT VALID SQL AT ALL", store.Entries()[0].DDL)
}

func TestApplyDDLHistoryFailureIsFatal(t *testing.T) {
	catalog, store := newTestCatalog(t, nil)
	store.FailRecords = true

	processed, err := catalog.ApplyDDL(pos(4), "shop", "CREATE TABLE customers (id INT PRIMARY KEY)", nil)
	assert.True(t, processed)
	require.Error(t, err)
}

func TestApplyDDLNotifiesDefaultDatabase(t *testing.T) {
	catalog, _ := newTestCatalog(t, nil)

	var databases []string
	var statements []string
	_, err := catalog.ApplyDDL(pos(4), "shop", "CREATE TABLE customers (id INT PRIMARY KEY)",
		func(database, ddlText string) {
			databases = append(databases, database)
			statements = append(statements, ddlText)
		})
	require.NoError(t, err)
	assert.Equal(t, []string{"shop"}, databases)
	assert.Equal(t, []string{"CREATE TABLE customers (id INT PRIMARY KEY)"}, statements)
}

func TestApplyDDLNotifiesEveryAffectedDatabase(t *testing.T) {
	catalog, _ := newTestCatalog(t, nil)
	ddlText := "CREATE TABLE shop.customers (id INT PRIMARY KEY); CREATE TABLE warehouse.stock (id INT PRIMARY KEY)"

	var databases []string
	var statements []string
	_, err := catalog.ApplyDDL(pos(4), "shop", ddlText, func(database, text string) {
		databases = append(databases, database)
		statements = append(statements, text)
	})
	require.NoError(t, err)

	// Each affected database gets one callback carrying the full original
	// text; statements are not sub-divided per database.
	assert.Equal(t, []string{"shop", "warehouse"}, databases)
	for _, text := range statements {
		assert.Equal(t, ddlText, text)
	}
}

func TestApplyDDLNotificationHonorsDatabaseFilter(t *testing.T) {
	filters, err := filter.NewSet([]string{"shop"}, nil, nil)
	require.NoError(t, err)
	catalog, _ := newTestCatalog(t, filters)

	var databases []string
	_, err = catalog.ApplyDDL(pos(4), "shop",
		"CREATE TABLE shop.customers (id INT PRIMARY KEY); CREATE TABLE internal.audit (id INT PRIMARY KEY)",
		func(database, text string) {
			databases = append(databases, database)
		})
	require.NoError(t, err)
	assert.Equal(t, []string{"shop"}, databases)
}

func TestSchemaForHonorsTableFilter(t *testing.T) {
	filters, err := filter.NewSet(nil, []string{"shop.customers"}, nil)
	require.NoError(t, err)
	catalog, _ := newTestCatalog(t, filters)

	_, err = catalog.ApplyDDL(pos(4), "shop", "CREATE TABLE customers (id INT PRIMARY KEY)", nil)
	require.NoError(t, err)
	_, err = catalog.ApplyDDL(pos(8), "shop", "CREATE TABLE audit_log (id INT PRIMARY KEY)", nil)
	require.NoError(t, err)

	assert.NotNil(t, catalog.SchemaFor(schema.NewTableID("shop", "customers")))
	assert.Nil(t, catalog.SchemaFor(schema.NewTableID("shop", "audit_log")))
	assert.Nil(t, catalog.TableFor(schema.NewTableID("shop", "audit_log")))

	// The filtered table is still tracked internally, just not exposed.
	assert.Len(t, catalog.Tables(), 1)
}

func TestSchemaForZeroID(t *testing.T) {
	catalog, _ := newTestCatalog(t, nil)
	assert.Nil(t, catalog.SchemaFor(schema.TableID{}))
	assert.Nil(t, catalog.TableFor(schema.TableID{}))
}

func TestLoadHistoryReproducesSchemas(t *testing.T) {
	catalog, _ := newTestCatalog(t, nil)
	id := schema.NewTableID("shop", "customers")

	_, err := catalog.ApplyDDL(pos(4), "shop",
		"CREATE TABLE customers (id INT PRIMARY KEY, name VARCHAR(64))", nil)
	require.NoError(t, err)
	_, err = catalog.ApplyDDL(pos(8), "shop",
		"ALTER TABLE customers ADD COLUMN email VARCHAR(128)", nil)
	require.NoError(t, err)

	want := catalog.SchemaFor(id).Fingerprint()

	require.NoError(t, catalog.LoadHistory(pos(100)))
	recovered := catalog.SchemaFor(id)
	require.NotNil(t, recovered)
	assert.Equal(t, want, recovered.Fingerprint())
}

func TestLoadHistoryStopsAtPosition(t *testing.T) {
	catalog, _ := newTestCatalog(t, nil)
	id := schema.NewTableID("shop", "customers")

	_, err := catalog.ApplyDDL(pos(4), "shop", "CREATE TABLE customers (id INT PRIMARY KEY)", nil)
	require.NoError(t, err)
	_, err = catalog.ApplyDDL(pos(500), "shop", "DROP TABLE customers", nil)
	require.NoError(t, err)

	// Recovering to a point before the drop resurrects the table.
	require.NoError(t, catalog.LoadHistory(pos(10)))
	assert.NotNil(t, catalog.SchemaFor(id))

	require.NoError(t, catalog.LoadHistory(pos(1000)))
	assert.Nil(t, catalog.SchemaFor(id))
}
