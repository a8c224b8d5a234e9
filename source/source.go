// Package source tracks where in the upstream change log the connector is,
// and renders that position in the forms downstream bookkeeping needs: a
// stable partition identity, a per-row resumption offset, and an origin
// payload embedded into every emitted record.
package source

import "fmt"

// Partition and offset field names. These keys end up in durable offset
// storage downstream, so they must stay stable across releases.
const (
	ServerPartitionKey = "server"
	FileKey            = "file"
	PosKey             = "pos"
	RowKey             = "row"
	ServerIDKey        = "server_id"
	TimestampKey       = "ts_sec"
	NameKey            = "name"
)

// Position identifies a single row within the change log: the log segment
// file, the byte position of the enclosing event, and the row index within
// a multi-row event.
type Position struct {
	File string `msgpack:"file"`
	Pos  uint64 `msgpack:"pos"`
	Row  int    `msgpack:"row"`
}

// Compare orders positions in log order. Files are compared
// lexicographically, which holds for server-generated segment names
// (binlog.000001, binlog.000002, ...).
func (p Position) Compare(other Position) int {
	switch {
	case p.File < other.File:
		return -1
	case p.File > other.File:
		return 1
	case p.Pos < other.Pos:
		return -1
	case p.Pos > other.Pos:
		return 1
	case p.Row < other.Row:
		return -1
	case p.Row > other.Row:
		return 1
	}
	return 0
}

// AtOrBefore reports whether p is at or before other in log order.
func (p Position) AtOrBefore(other Position) bool {
	return p.Compare(other) <= 0
}

func (p Position) String() string {
	return fmt.Sprintf("%s:%d#%d", p.File, p.Pos, p.Row)
}

// Info is the mutable current position of one logical stream. The log
// reader advances it as events arrive; everything else reads it. Not safe
// for concurrent use, same single-writer discipline as the rest of the
// pipeline.
type Info struct {
	serverName string
	serverID   uint64
	file       string
	pos        uint64
	tsSec      int64
}

// NewInfo creates position tracking for the named logical stream.
func NewInfo(serverName string, serverID uint64) *Info {
	return &Info{serverName: serverName, serverID: serverID}
}

// ServerName returns the logical name identifying the upstream server.
func (i *Info) ServerName() string {
	return i.serverName
}

// SetPosition records the segment file and byte position of the event
// currently being processed.
func (i *Info) SetPosition(file string, pos uint64) {
	i.file = file
	i.pos = pos
}

// SetTimestamp records the server-side timestamp of the current event.
func (i *Info) SetTimestamp(tsSec int64) {
	i.tsSec = tsSec
}

// Current returns the position of the current event with a zero row index.
func (i *Info) Current() Position {
	return Position{File: i.file, Pos: i.pos}
}

// Partition returns the stable key/value set identifying this stream.
// Records sharing a partition share one offset sequence downstream.
func (i *Info) Partition() map[string]string {
	return map[string]string{ServerPartitionKey: i.serverName}
}

// Offset returns the resumption offset for the given row within the
// current event. The row index varies per record of a multi-row event so
// that a restart resumes after the last published row, not the last event.
func (i *Info) Offset(row int) Position {
	return Position{File: i.file, Pos: i.pos, Row: row}
}

// Origin materializes the source metadata payload embedded in every change
// record value.
func (i *Info) Origin() map[string]interface{} {
	return map[string]interface{}{
		NameKey:      i.serverName,
		ServerIDKey:  i.serverID,
		TimestampKey: i.tsSec,
		FileKey:      i.file,
		PosKey:       i.pos,
	}
}
