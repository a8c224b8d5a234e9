package schema

import (
	"github.com/cespare/xxhash/v2"

	"github.com/binrelay/binrelay/filter"
)

// Field describes one entry of a key or value shape. Struct-typed fields
// carry their nested fields inline.
type Field struct {
	Name     string
	Type     string
	Optional bool
	Fields   []Field
}

// Shape is the structural descriptor of a record key or value: a qualified
// name plus ordered fields. Shapes are immutable once built. Version carries
// the fingerprint of the table schema the shape derives from; the name alone
// is stable across ALTER TABLE, so serializer caches must key on both.
type Shape struct {
	Name    string
	Version uint64
	Fields  []Field
}

// TableSchema is the derived, filter-aware view of one Table: the key and
// value shapes plus the two pure functions mapping an ordered row value
// array into key and value payloads. Rebuilt (never mutated) whenever the
// underlying Table or the filter set changes.
type TableSchema struct {
	id          TableID
	keyShape    *Shape
	valueShape  *Shape
	fingerprint uint64

	pkIndices    []int
	valueColumns []valueColumn
}

type valueColumn struct {
	name     string
	position int
	mapper   filter.ValueMapper
}

// BuildTableSchema derives the schema for a table under the given filter
// set. Value fields exclude filtered columns and carry any configured value
// mappers; key fields are the primary key columns, which are never subject
// to column filtering because dropping one would corrupt record identity.
func BuildTableSchema(table *Table, filters *filter.Set) *TableSchema {
	s := &TableSchema{id: table.ID}

	if len(table.PrimaryKeys) > 0 {
		keyFields := make([]Field, 0, len(table.PrimaryKeys))
		for _, pk := range table.PrimaryKeys {
			col := table.Column(pk)
			if col == nil {
				continue
			}
			keyFields = append(keyFields, Field{Name: col.Name, Type: col.Type})
			s.pkIndices = append(s.pkIndices, col.Position)
		}
		if len(keyFields) > 0 {
			s.keyShape = &Shape{Name: table.ID.String() + ".Key", Fields: keyFields}
		}
	}

	valueFields := make([]Field, 0, len(table.Columns))
	for i := range table.Columns {
		col := &table.Columns[i]
		if !filters.Column(table.ID.Database, table.ID.Table, col.Name) {
			continue
		}
		valueFields = append(valueFields, Field{Name: col.Name, Type: col.Type, Optional: col.Nullable})
		s.valueColumns = append(s.valueColumns, valueColumn{
			name:     col.Name,
			position: col.Position,
			mapper:   filters.Mapper(table.ID.Database, table.ID.Table, col.Name),
		})
	}
	if len(valueFields) > 0 {
		s.valueShape = &Shape{Name: table.ID.String() + ".Value", Fields: valueFields}
	}

	s.fingerprint = fingerprintShapes(table.ID, s.keyShape, s.valueShape)
	if s.keyShape != nil {
		s.keyShape.Version = s.fingerprint
	}
	if s.valueShape != nil {
		s.valueShape.Version = s.fingerprint
	}
	return s
}

// ID returns the identifier of the table this schema derives from.
func (s *TableSchema) ID() TableID {
	return s.id
}

// KeyShape returns the key descriptor, or nil when the table has no usable
// primary key.
func (s *TableSchema) KeyShape() *Shape {
	return s.keyShape
}

// ValueShape returns the value descriptor, or nil when every column is
// filtered out.
func (s *TableSchema) ValueShape() *Shape {
	return s.valueShape
}

// Fingerprint is a stable hash of the key and value shapes, used by
// downstream serializers as a cache key that rolls over on structural
// change.
func (s *TableSchema) Fingerprint() uint64 {
	return s.fingerprint
}

// KeyFromRow extracts the key payload from an ordered row value array.
// Returns nil when the table has no primary key or the row is too short to
// cover it.
func (s *TableSchema) KeyFromRow(row []interface{}) map[string]interface{} {
	if s.keyShape == nil {
		return nil
	}
	key := make(map[string]interface{}, len(s.keyShape.Fields))
	for i, field := range s.keyShape.Fields {
		pos := s.pkIndices[i]
		if pos >= len(row) {
			return nil
		}
		key[field.Name] = row[pos]
	}
	return key
}

// ValueFromRow extracts the value payload from an ordered row value array,
// applying column filtering and value mappers. Returns nil when every
// column is filtered out (a fully excluded row).
func (s *TableSchema) ValueFromRow(row []interface{}) map[string]interface{} {
	if s.valueShape == nil {
		return nil
	}
	value := make(map[string]interface{}, len(s.valueColumns))
	for _, col := range s.valueColumns {
		var v interface{}
		if col.position < len(row) {
			v = row[col.position]
		}
		if col.mapper != nil {
			v = col.mapper(v)
		}
		value[col.name] = v
	}
	return value
}

func fingerprintShapes(id TableID, shapes ...*Shape) uint64 {
	h := xxhash.New()
	h.WriteString(id.String())
	for _, shape := range shapes {
		if shape == nil {
			h.WriteString("|-")
			continue
		}
		h.WriteString("|" + shape.Name)
		for _, f := range shape.Fields {
			h.WriteString(";" + f.Name + ":" + f.Type)
			if f.Optional {
				h.WriteString("?")
			}
		}
	}
	return h.Sum64()
}
