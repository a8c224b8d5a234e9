package relay

import "github.com/binrelay/binrelay/schema"

// Operation codes carried in the envelope "op" field.
const (
	OpCreate = "c"
	OpUpdate = "u"
	OpDelete = "d"
)

// Envelope field names.
const (
	FieldBefore = "before"
	FieldAfter  = "after"
	FieldSource = "source"
	FieldOp     = "op"
	FieldTsMs   = "ts_ms"
)

// sourceShape describes the origin metadata block embedded in every
// envelope. Field order mirrors source.Info.Origin.
var sourceShape = []schema.Field{
	{Name: "name", Type: "STRING"},
	{Name: "server_id", Type: "INT64"},
	{Name: "ts_sec", Type: "INT64"},
	{Name: "file", Type: "STRING"},
	{Name: "pos", Type: "INT64"},
}

// envelopeShape builds the value shape wrapping one table's row shape:
// optional before and after images, origin metadata, the operation code
// and the processing-time timestamp. The row shape's version is carried
// through so a structural change rolls the envelope over too.
func envelopeShape(rowShape *schema.Shape) *schema.Shape {
	var rowFields []schema.Field
	var version uint64
	name := "Envelope"
	if rowShape != nil {
		rowFields = rowShape.Fields
		name = rowShape.Name + ".Envelope"
		version = rowShape.Version
	}
	return &schema.Shape{
		Name:    name,
		Version: version,
		Fields: []schema.Field{
			{Name: FieldBefore, Type: "STRUCT", Optional: true, Fields: rowFields},
			{Name: FieldAfter, Type: "STRUCT", Optional: true, Fields: rowFields},
			{Name: FieldSource, Type: "STRUCT", Fields: sourceShape},
			{Name: FieldOp, Type: "STRING"},
			{Name: FieldTsMs, Type: "INT64"},
		},
	}
}

func envelope(op string, before, after map[string]interface{}, origin map[string]interface{}, tsMs int64) map[string]interface{} {
	return map[string]interface{}{
		FieldBefore: before,
		FieldAfter:  after,
		FieldSource: origin,
		FieldOp:     op,
		FieldTsMs:   tsMs,
	}
}

// Schema-change record field names and shapes. These records announce DDL
// on the server-level topic, keyed by database so changes to one database
// stay ordered.
const (
	FieldDatabaseName = "databaseName"
	FieldDDL          = "ddl"
)

var schemaChangeKeyShape = &schema.Shape{
	Name:   "SchemaChangeKey",
	Fields: []schema.Field{{Name: FieldDatabaseName, Type: "STRING"}},
}

var schemaChangeValueShape = &schema.Shape{
	Name: "SchemaChangeValue",
	Fields: []schema.Field{
		{Name: FieldSource, Type: "STRUCT", Fields: sourceShape},
		{Name: FieldDatabaseName, Type: "STRING"},
		{Name: FieldDDL, Type: "STRING"},
	},
}
