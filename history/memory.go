package history

import (
	"fmt"

	"github.com/binrelay/binrelay/schema"
	"github.com/binrelay/binrelay/source"
)

// MemoryStore keeps history entries in a slice. Used in tests and for
// throwaway runs where durability does not matter.
type MemoryStore struct {
	entries []Entry
	started bool

	// FailRecords forces Record to fail; lets tests exercise the fatal
	// persistence path.
	FailRecords bool
}

// NewMemoryStore creates an empty in-memory history.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Start() error {
	s.started = true
	return nil
}

func (s *MemoryStore) Stop() error {
	s.started = false
	return nil
}

func (s *MemoryStore) Describe() string {
	return fmt.Sprintf("memory:%d entries", len(s.entries))
}

func (s *MemoryStore) Record(pos source.Position, database string, tables *schema.TableSet, ddl string) error {
	if !s.started {
		return fmt.Errorf("memory history store is not started")
	}
	if s.FailRecords {
		return fmt.Errorf("memory history store: record failure injected")
	}
	s.entries = append(s.entries, newEntry(pos, database, ddl, tables))
	return nil
}

func (s *MemoryStore) Recover(stop source.Position, tables *schema.TableSet, parser schema.DDLParser) error {
	if !s.started {
		return fmt.Errorf("memory history store is not started")
	}
	for _, entry := range s.entries {
		if !entry.Position.AtOrBefore(stop) {
			break
		}
		// Ignore parse errors, matching live DDL application.
		_ = replay(entry, tables, parser)
	}
	return nil
}

// Entries returns the recorded entries. Test helper.
func (s *MemoryStore) Entries() []Entry {
	return s.entries
}
