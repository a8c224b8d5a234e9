package publish

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/binrelay/binrelay/relay"
	"github.com/binrelay/binrelay/schema"
)

const schemaCacheSize = 1024

// Serializer renders records as Debezium-style JSON with an embedded
// schema section, the format Kafka Connect consumers expect. Schema
// sections are cached by shape name and version; the version is the
// table schema fingerprint, so an ALTER TABLE rolls the cache entry
// over while unchanged tables keep hitting the same one.
type Serializer struct {
	schemaCache *lru.Cache[string, *envelopeSchema]
}

// NewSerializer creates a serializer with a bounded schema cache.
func NewSerializer() *Serializer {
	cache, _ := lru.New[string, *envelopeSchema](schemaCacheSize)
	return &Serializer{schemaCache: cache}
}

type envelopeSchema struct {
	Type     string        `json:"type"`
	Name     string        `json:"name,omitempty"`
	Optional bool          `json:"optional"`
	Fields   []schemaField `json:"fields,omitempty"`
}

type schemaField struct {
	Field    string        `json:"field"`
	Type     string        `json:"type"`
	Optional bool          `json:"optional,omitempty"`
	Name     string        `json:"name,omitempty"`
	Fields   []schemaField `json:"fields,omitempty"`
}

type message struct {
	Schema  *envelopeSchema        `json:"schema"`
	Payload map[string]interface{} `json:"payload"`
}

// SerializeKey renders the record key, or "" when the record has none.
// Keyless records still publish; they just cannot be compacted.
func (s *Serializer) SerializeKey(rec relay.Record) (string, error) {
	if rec.Key == nil {
		return "", nil
	}
	data, err := json.Marshal(message{
		Schema:  s.schemaFor(rec.KeyShape),
		Payload: rec.Key,
	})
	if err != nil {
		return "", fmt.Errorf("failed to serialize key for %s: %w", rec.Topic, err)
	}
	return string(data), nil
}

// SerializeValue renders the record value. Tombstones serialize to nil so
// sinks deliver them as compaction markers.
func (s *Serializer) SerializeValue(rec relay.Record) ([]byte, error) {
	if rec.Tombstone() {
		return nil, nil
	}
	data, err := json.Marshal(message{
		Schema:  s.schemaFor(rec.ValueShape),
		Payload: rec.Value,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize value for %s: %w", rec.Topic, err)
	}
	return data, nil
}

// schemaFor converts a shape into its serialized schema section, cached.
func (s *Serializer) schemaFor(shape *schema.Shape) *envelopeSchema {
	if shape == nil {
		return nil
	}
	key := shapeCacheKey(shape)
	if cached, ok := s.schemaCache.Get(key); ok {
		return cached
	}
	built := &envelopeSchema{
		Type:   "struct",
		Name:   shape.Name,
		Fields: convertFields(shape.Fields),
	}
	s.schemaCache.Add(key, built)
	return built
}

// shapeCacheKey keys the cache on name plus version. The name is stable
// across structural change; the version is not.
func shapeCacheKey(shape *schema.Shape) string {
	return shape.Name + "@" + strconv.FormatUint(shape.Version, 16)
}

func convertFields(fields []schema.Field) []schemaField {
	out := make([]schemaField, len(fields))
	for i, f := range fields {
		out[i] = schemaField{
			Field:    f.Name,
			Type:     mapColumnType(f.Type),
			Optional: f.Optional,
			Fields:   convertFields(f.Fields),
		}
	}
	return out
}

// mapColumnType maps upper-cased SQL column types onto the connect type
// system. Unknown types default to string, which every consumer can hold.
func mapColumnType(columnType string) string {
	switch columnType {
	case "STRUCT":
		return "struct"
	case "TINYINT", "SMALLINT":
		return "int16"
	case "INT", "INTEGER", "MEDIUMINT", "YEAR":
		return "int32"
	case "BIGINT", "INT64":
		return "int64"
	case "FLOAT":
		return "float"
	case "DOUBLE", "REAL", "DECIMAL", "NUMERIC":
		return "double"
	case "BOOLEAN", "BOOL":
		return "boolean"
	case "BLOB", "TINYBLOB", "MEDIUMBLOB", "LONGBLOB", "BINARY", "VARBINARY", "BYTES":
		return "bytes"
	}

	switch {
	case strings.Contains(columnType, "INT"):
		return "int64"
	case strings.Contains(columnType, "BLOB") || strings.Contains(columnType, "BINARY"):
		return "bytes"
	case strings.Contains(columnType, "FLOA") || strings.Contains(columnType, "DOUB"):
		return "double"
	}
	return "string"
}
