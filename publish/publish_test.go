package publish

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binrelay/binrelay/binlog"
	"github.com/binrelay/binrelay/cfg"
	"github.com/binrelay/binrelay/ddl"
	"github.com/binrelay/binrelay/filter"
	"github.com/binrelay/binrelay/history"
	"github.com/binrelay/binrelay/relay"
	"github.com/binrelay/binrelay/schema"
	"github.com/binrelay/binrelay/source"
)

func sampleRecord() relay.Record {
	return relay.Record{
		Topic:    "srv1.shop.customers",
		KeyShape: &schema.Shape{Name: "shop.customers.Key", Fields: []schema.Field{{Name: "id", Type: "INT"}}},
		Key:      map[string]interface{}{"id": int64(1)},
		ValueShape: &schema.Shape{
			Name: "shop.customers.Value.Envelope",
			Fields: []schema.Field{
				{Name: "before", Type: "STRUCT", Optional: true, Fields: []schema.Field{
					{Name: "id", Type: "INT"},
					{Name: "name", Type: "VARCHAR", Optional: true},
				}},
				{Name: "after", Type: "STRUCT", Optional: true, Fields: []schema.Field{
					{Name: "id", Type: "INT"},
					{Name: "name", Type: "VARCHAR", Optional: true},
				}},
				{Name: "op", Type: "STRING"},
				{Name: "ts_ms", Type: "INT64"},
			},
		},
		Value: map[string]interface{}{
			"before": nil,
			"after":  map[string]interface{}{"id": int64(1), "name": "alice"},
			"op":     "c",
			"ts_ms":  int64(1234),
		},
		SourcePartition: map[string]string{"server": "srv1"},
		SourceOffset:    source.Position{File: "binlog.000001", Pos: 100},
		TsMs:            1234,
	}
}

func TestSerializeValueEmbedsSchemaAndPayload(t *testing.T) {
	s := NewSerializer()

	data, err := s.SerializeValue(sampleRecord())
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	schemaSection, ok := decoded["schema"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "struct", schemaSection["type"])
	assert.Equal(t, "shop.customers.Value.Envelope", schemaSection["name"])

	fields, ok := schemaSection["fields"].([]interface{})
	require.True(t, ok)
	require.Len(t, fields, 4)
	before := fields[0].(map[string]interface{})
	assert.Equal(t, "before", before["field"])
	assert.Equal(t, "struct", before["type"])
	assert.Len(t, before["fields"], 2)

	payload, ok := decoded["payload"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "c", payload["op"])
	after := payload["after"].(map[string]interface{})
	assert.Equal(t, "alice", after["name"])
}

func TestSerializeKeyAndTombstone(t *testing.T) {
	s := NewSerializer()
	rec := sampleRecord()

	key, err := s.SerializeKey(rec)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(key), &decoded))
	payload := decoded["payload"].(map[string]interface{})
	assert.Equal(t, float64(1), payload["id"])

	// Tombstone: nil value, nil value shape
	rec.Value = nil
	rec.ValueShape = nil
	value, err := s.SerializeValue(rec)
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestSerializeKeylessRecord(t *testing.T) {
	s := NewSerializer()
	rec := sampleRecord()
	rec.Key = nil
	rec.KeyShape = nil

	key, err := s.SerializeKey(rec)
	require.NoError(t, err)
	assert.Empty(t, key)
}

func TestSerializeValueSchemaRollsOverAfterAlterTable(t *testing.T) {
	filters, err := filter.NewSet(nil, nil, nil)
	require.NoError(t, err)
	parser, err := ddl.NewParser()
	require.NoError(t, err)
	catalog, err := schema.NewCatalog(parser, filters, history.NewMemoryStore())
	require.NoError(t, err)
	require.NoError(t, catalog.Start())
	t.Cleanup(func() { _ = catalog.Shutdown() })

	info := source.NewInfo("srv1", 42)
	info.SetPosition("binlog.000001", 100)
	converters, err := relay.NewTableConverters(catalog, relay.NewTopicSelector("srv1"), relay.SystemClock(), info, false)
	require.NoError(t, err)

	var records []relay.Record
	collect := func(rec relay.Record) error {
		records = append(records, rec)
		return nil
	}

	require.NoError(t, converters.UpdateTableCommand(binlog.QueryEvent{
		Database: "shop",
		SQL:      "CREATE TABLE customers (id INT PRIMARY KEY, name VARCHAR(64))",
	}, collect))
	converters.UpdateTableMetadata(binlog.TableMapEvent{TableNum: 7, Database: "shop", Table: "customers"})
	require.NoError(t, converters.HandleInsert(binlog.WriteRowsEvent{
		TableNum: 7,
		Rows:     [][]interface{}{{int64(1), "alice"}},
	}, collect))

	require.NoError(t, converters.UpdateTableCommand(binlog.QueryEvent{
		Database: "shop",
		SQL:      "ALTER TABLE customers ADD COLUMN email VARCHAR(128)",
	}, collect))
	converters.UpdateTableMetadata(binlog.TableMapEvent{TableNum: 8, Database: "shop", Table: "customers"})
	require.NoError(t, converters.HandleInsert(binlog.WriteRowsEvent{
		TableNum: 8,
		Rows:     [][]interface{}{{int64(2), "bob", "b@example.com"}},
	}, collect))
	require.Len(t, records, 2)

	s := NewSerializer()
	afterFields := func(rec relay.Record) []interface{} {
		data, err := s.SerializeValue(rec)
		require.NoError(t, err)
		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &decoded))
		fields := decoded["schema"].(map[string]interface{})["fields"].([]interface{})
		for _, raw := range fields {
			field := raw.(map[string]interface{})
			if field["field"] == "after" {
				nested, _ := field["fields"].([]interface{})
				return nested
			}
		}
		t.Fatalf("no after field in schema section for %s", rec.Topic)
		return nil
	}

	// Both envelopes share a shape name; only the version tells them apart.
	assert.Equal(t, records[0].ValueShape.Name, records[1].ValueShape.Name)
	assert.Len(t, afterFields(records[0]), 2)
	assert.Len(t, afterFields(records[1]), 3)
}

func TestMapColumnType(t *testing.T) {
	assert.Equal(t, "int32", mapColumnType("INT"))
	assert.Equal(t, "int64", mapColumnType("BIGINT"))
	assert.Equal(t, "int16", mapColumnType("SMALLINT"))
	assert.Equal(t, "string", mapColumnType("VARCHAR"))
	assert.Equal(t, "string", mapColumnType("TEXT"))
	assert.Equal(t, "bytes", mapColumnType("LONGBLOB"))
	assert.Equal(t, "double", mapColumnType("DECIMAL"))
	assert.Equal(t, "boolean", mapColumnType("BOOL"))
	assert.Equal(t, "struct", mapColumnType("STRUCT"))
	assert.Equal(t, "string", mapColumnType("SOMETHING_ODD"))
}

func TestDispatcherDeliversToAllSinks(t *testing.T) {
	first := NewMockSink()
	second := NewMockSink()
	RegisterSink("mock-a", func(cfg.SinkConfiguration) (Sink, error) { return first, nil })
	RegisterSink("mock-b", func(cfg.SinkConfiguration) (Sink, error) { return second, nil })

	d, err := NewDispatcher([]cfg.SinkConfiguration{
		{Name: "a", Type: "mock-a"},
		{Name: "b", Type: "mock-b"},
	})
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.Record(sampleRecord()))
	require.Len(t, first.Messages, 1)
	require.Len(t, second.Messages, 1)
	assert.Equal(t, "srv1.shop.customers", first.Messages[0].Topic)
	assert.NotEmpty(t, first.Messages[0].Key)
	assert.NotNil(t, first.Messages[0].Value)
}

func TestDispatcherDeliversTombstones(t *testing.T) {
	sink := NewMockSink()
	RegisterSink("mock-tomb", func(cfg.SinkConfiguration) (Sink, error) { return sink, nil })

	d, err := NewDispatcher([]cfg.SinkConfiguration{{Name: "t", Type: "mock-tomb"}})
	require.NoError(t, err)
	defer d.Close()

	rec := sampleRecord()
	rec.Value = nil
	rec.ValueShape = nil
	require.NoError(t, d.Record(rec))
	require.Len(t, sink.Messages, 1)
	assert.Nil(t, sink.Messages[0].Value)
	assert.NotEmpty(t, sink.Messages[0].Key)
}

func TestDispatcherPublishFailurePropagates(t *testing.T) {
	sink := NewMockSink()
	sink.FailPublishes = true
	RegisterSink("mock-fail", func(cfg.SinkConfiguration) (Sink, error) { return sink, nil })

	d, err := NewDispatcher([]cfg.SinkConfiguration{{Name: "f", Type: "mock-fail"}})
	require.NoError(t, err)
	defer d.Close()

	require.Error(t, d.Record(sampleRecord()))
}

func TestDispatcherUnknownSinkType(t *testing.T) {
	_, err := NewDispatcher([]cfg.SinkConfiguration{{Name: "x", Type: "does-not-exist"}})
	require.Error(t, err)
}

func TestDispatcherCloseClosesSinks(t *testing.T) {
	sink := NewMockSink()
	RegisterSink("mock-close", func(cfg.SinkConfiguration) (Sink, error) { return sink, nil })

	d, err := NewDispatcher([]cfg.SinkConfiguration{{Name: "c", Type: "mock-close"}})
	require.NoError(t, err)
	d.Close()
	assert.True(t, sink.Closed)
}
