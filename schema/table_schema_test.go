package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binrelay/binrelay/filter"
)

func testTable() *Table {
	return &Table{
		ID: NewTableID("shop", "customers"),
		Columns: []Column{
			{Name: "id", Type: "INT", Nullable: false, Position: 0},
			{Name: "name", Type: "VARCHAR", Nullable: true, Position: 1},
			{Name: "ssn", Type: "VARCHAR", Nullable: true, Position: 2},
		},
		PrimaryKeys: []string{"id"},
	}
}

func mustSet(t *testing.T, databases, tables, columns []string) *filter.Set {
	t.Helper()
	s, err := filter.NewSet(databases, tables, columns)
	require.NoError(t, err)
	return s
}

func TestBuildTableSchemaShapes(t *testing.T) {
	ts := BuildTableSchema(testTable(), mustSet(t, nil, nil, nil))

	require.NotNil(t, ts.KeyShape())
	assert.Equal(t, "shop.customers.Key", ts.KeyShape().Name)
	require.Len(t, ts.KeyShape().Fields, 1)
	assert.Equal(t, "id", ts.KeyShape().Fields[0].Name)

	require.NotNil(t, ts.ValueShape())
	assert.Equal(t, "shop.customers.Value", ts.ValueShape().Name)
	require.Len(t, ts.ValueShape().Fields, 3)
	assert.True(t, ts.ValueShape().Fields[1].Optional)
	assert.False(t, ts.ValueShape().Fields[0].Optional)
}

func TestBuildTableSchemaExcludedColumn(t *testing.T) {
	ts := BuildTableSchema(testTable(), mustSet(t, nil, nil, []string{"shop.customers.ssn"}))

	require.NotNil(t, ts.ValueShape())
	require.Len(t, ts.ValueShape().Fields, 2)
	assert.Equal(t, "id", ts.ValueShape().Fields[0].Name)
	assert.Equal(t, "name", ts.ValueShape().Fields[1].Name)

	value := ts.ValueFromRow([]interface{}{int64(7), "alice", "123-45-6789"})
	require.NotNil(t, value)
	assert.Equal(t, map[string]interface{}{"id": int64(7), "name": "alice"}, value)
}

func TestKeyColumnsAreNeverFiltered(t *testing.T) {
	// Excluding the PK column removes it from the value, not from the key.
	ts := BuildTableSchema(testTable(), mustSet(t, nil, nil, []string{"shop.customers.id"}))

	require.NotNil(t, ts.KeyShape())
	assert.Equal(t, map[string]interface{}{"id": int64(7)},
		ts.KeyFromRow([]interface{}{int64(7), "alice", "x"}))

	require.Len(t, ts.ValueShape().Fields, 2)
}

func TestKeyFromRow(t *testing.T) {
	ts := BuildTableSchema(testTable(), mustSet(t, nil, nil, nil))

	assert.Equal(t, map[string]interface{}{"id": int64(1)},
		ts.KeyFromRow([]interface{}{int64(1), "a", "b"}))

	// Row too short to cover the key
	assert.Nil(t, ts.KeyFromRow(nil))
}

func TestKeyFromRowWithoutPrimaryKey(t *testing.T) {
	table := testTable()
	table.PrimaryKeys = nil
	ts := BuildTableSchema(table, mustSet(t, nil, nil, nil))

	assert.Nil(t, ts.KeyShape())
	assert.Nil(t, ts.KeyFromRow([]interface{}{int64(1), "a", "b"}))
}

func TestValueFromRowFullyFiltered(t *testing.T) {
	ts := BuildTableSchema(testTable(), mustSet(t, nil, nil, []string{"shop.customers.*"}))

	assert.Nil(t, ts.ValueShape())
	assert.Nil(t, ts.ValueFromRow([]interface{}{int64(1), "a", "b"}))
}

func TestValueMapperApplied(t *testing.T) {
	filters := mustSet(t, nil, nil, nil)
	require.NoError(t, filters.AddValueMapper("shop.customers.name", func(value interface{}) interface{} {
		return "***"
	}))

	ts := BuildTableSchema(testTable(), filters)
	value := ts.ValueFromRow([]interface{}{int64(1), "alice", "b"})
	assert.Equal(t, "***", value["name"])
	assert.Equal(t, int64(1), value["id"])
}

func TestFingerprintChangesWithStructure(t *testing.T) {
	filters := mustSet(t, nil, nil, nil)
	base := BuildTableSchema(testTable(), filters)

	same := BuildTableSchema(testTable(), filters)
	assert.Equal(t, base.Fingerprint(), same.Fingerprint())

	altered := testTable()
	altered.Columns = append(altered.Columns, Column{Name: "email", Type: "VARCHAR", Nullable: true, Position: 3})
	assert.NotEqual(t, base.Fingerprint(), BuildTableSchema(altered, filters).Fingerprint())

	// A filter change alters the value shape and therefore the fingerprint.
	narrowed := BuildTableSchema(testTable(), mustSet(t, nil, nil, []string{"shop.customers.ssn"}))
	assert.NotEqual(t, base.Fingerprint(), narrowed.Fingerprint())
}

func TestShapesCarryFingerprintAsVersion(t *testing.T) {
	filters := mustSet(t, nil, nil, nil)
	ts := BuildTableSchema(testTable(), filters)

	assert.Equal(t, ts.Fingerprint(), ts.KeyShape().Version)
	assert.Equal(t, ts.Fingerprint(), ts.ValueShape().Version)

	altered := testTable()
	altered.Columns = append(altered.Columns, Column{Name: "email", Type: "VARCHAR", Nullable: true, Position: 3})
	rebuilt := BuildTableSchema(altered, filters)

	// The names do not change across ALTER; the versions must.
	assert.Equal(t, ts.ValueShape().Name, rebuilt.ValueShape().Name)
	assert.NotEqual(t, ts.ValueShape().Version, rebuilt.ValueShape().Version)
}
