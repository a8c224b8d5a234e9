// Package binlog defines the decoded change-log events the processor
// consumes, and an adapter that produces them from a live MySQL
// replication stream.
package binlog

// Bitmap masks which columns are present in a partial-row event. Bit i
// corresponds to column position i, LSB first within each byte, matching
// the binlog wire layout.
type Bitmap []byte

// NewBitmap returns a bitmap with the first n bits set (a full row).
func NewBitmap(n int) Bitmap {
	b := make(Bitmap, (n+7)/8)
	for i := 0; i < n; i++ {
		b[i>>3] |= 1 << (uint(i) & 7)
	}
	return b
}

// IsSet reports whether column i is present. Out-of-range bits read as
// unset.
func (b Bitmap) IsSet(i int) bool {
	if i < 0 || i>>3 >= len(b) {
		return false
	}
	return b[i>>3]&(1<<(uint(i)&7)) != 0
}

// Count returns the number of set bits.
func (b Bitmap) Count() int {
	n := 0
	for i := 0; i < len(b)*8; i++ {
		if b.IsSet(i) {
			n++
		}
	}
	return n
}

// Event is a decoded change-log event. The concrete types below are the
// only implementations.
type Event interface {
	// Kind names the event for logging and metrics.
	Kind() string
}

// RotateEvent signals a transition to a new log segment. All numeric
// table identifiers become invalid.
type RotateEvent struct {
	NextFile string
	Position uint64
}

func (RotateEvent) Kind() string { return "rotate" }

// QueryEvent carries DDL (or other statement) text executed under a
// default database.
type QueryEvent struct {
	Database string
	SQL      string
}

func (QueryEvent) Kind() string { return "query" }

// TableMapEvent announces the numeric identifier used by subsequent row
// events for a table within the current log segment.
type TableMapEvent struct {
	TableNum uint64
	Database string
	Table    string
}

func (TableMapEvent) Kind() string { return "table_map" }

// WriteRowsEvent carries inserted rows as ordered column-value arrays.
type WriteRowsEvent struct {
	TableNum        uint64
	IncludedColumns Bitmap
	Rows            [][]interface{}
}

func (WriteRowsEvent) Kind() string { return "write" }

// RowPair is the before and after image of one updated row.
type RowPair struct {
	Before []interface{}
	After  []interface{}
}

// UpdateRowsEvent carries updated rows as before/after pairs.
type UpdateRowsEvent struct {
	TableNum              uint64
	IncludedColumns       Bitmap
	IncludedColumnsBefore Bitmap
	Rows                  []RowPair
}

func (UpdateRowsEvent) Kind() string { return "update" }

// DeleteRowsEvent carries deleted rows as ordered column-value arrays.
type DeleteRowsEvent struct {
	TableNum        uint64
	IncludedColumns Bitmap
	Rows            [][]interface{}
}

func (DeleteRowsEvent) Kind() string { return "delete" }
