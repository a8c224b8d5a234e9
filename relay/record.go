// Package relay turns decoded change-log events into ordered change
// records. It owns the binding between the ephemeral numeric table
// identifiers row events carry and the live table schemas, and it encodes
// the create/update/delete/tombstone semantics every downstream consumer
// relies on.
package relay

import (
	"time"

	"github.com/binrelay/binrelay/schema"
	"github.com/binrelay/binrelay/source"
)

// Record is one emitted change record. A nil Value together with a nil
// ValueShape marks a tombstone: downstream log compaction drops every
// earlier record with the same key once it sees one.
type Record struct {
	Topic string

	KeyShape *schema.Shape
	Key      map[string]interface{}

	ValueShape *schema.Shape
	Value      map[string]interface{}

	SourcePartition map[string]string
	SourceOffset    source.Position

	TsMs int64
}

// Tombstone reports whether the record is a compaction tombstone.
func (r Record) Tombstone() bool {
	return r.Value == nil && r.ValueShape == nil
}

// Recorder receives records in emission order. A non-nil error aborts the
// current event; the processor never reorders or retries around it.
type Recorder func(rec Record) error

// Clock supplies the processing-time timestamp stamped onto records. One
// reading is taken per event so every record of a multi-row event shares
// a timestamp.
type Clock interface {
	NowMillis() int64
}

type systemClock struct{}

func (systemClock) NowMillis() int64 {
	return time.Now().UnixMilli()
}

// SystemClock returns the wall clock.
func SystemClock() Clock {
	return systemClock{}
}

// TopicSelector maps tables onto destination topics. Row-level records go
// to {prefix}.{database}.{table}; schema-change records for the whole
// server go to the bare prefix.
type TopicSelector struct {
	prefix string
}

// NewTopicSelector creates a selector rooted at the given prefix, which is
// conventionally the logical server name.
func NewTopicSelector(prefix string) *TopicSelector {
	return &TopicSelector{prefix: prefix}
}

// TopicFor returns the destination topic for one table's records.
func (t *TopicSelector) TopicFor(id schema.TableID) string {
	return t.prefix + "." + id.Database + "." + id.Table
}

// ServerTopic returns the server-level topic carrying schema changes.
func (t *TopicSelector) ServerTopic() string {
	return t.prefix
}
