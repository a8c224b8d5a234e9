package history

import (
	"fmt"
	"path/filepath"

	"github.com/cockroachdb/pebble"
	"github.com/klauspost/compress/s2"
	"github.com/rs/zerolog/log"

	"github.com/binrelay/binrelay/encoding"
	"github.com/binrelay/binrelay/schema"
	"github.com/binrelay/binrelay/source"
)

const prefixDDLHistory = "/ddlhist/" // /ddlhist/{16-digit-zero-padded-seq}

// Pebble configuration constants
const (
	memTableSize                = 16 << 20 // 16MB; the DDL stream is low-volume
	memTableStopWritesThreshold = 4
	l0CompactionThreshold       = 2
	l0StopWritesThreshold       = 12
)

// PebbleStore is a pebble-backed append-only DDL history. Writes are
// synchronous: Record returns only after the entry is durable, keeping the
// catalog's persist-before-or-with-notify ordering honest.
type PebbleStore struct {
	path     string
	compress bool

	db      *pebble.DB
	nextSeq uint64
}

// NewPebbleStore prepares a store rooted at {dataDir}/ddl_history. The
// database is not opened until Start.
func NewPebbleStore(dataDir string, compress bool) *PebbleStore {
	return &PebbleStore{
		path:     filepath.Join(dataDir, "ddl_history"),
		compress: compress,
	}
}

// Start opens the pebble database and loads the next sequence number.
func (s *PebbleStore) Start() error {
	opts := &pebble.Options{
		MemTableSize:                memTableSize,
		MemTableStopWritesThreshold: memTableStopWritesThreshold,
		L0CompactionThreshold:       l0CompactionThreshold,
		L0StopWritesThreshold:       l0StopWritesThreshold,
		DisableWAL:                  false,
	}

	db, err := pebble.Open(s.path, opts)
	if err != nil {
		return fmt.Errorf("failed to open DDL history at %s: %w", s.path, err)
	}
	s.db = db

	if err := s.loadNextSeq(); err != nil {
		db.Close()
		s.db = nil
		return fmt.Errorf("failed to scan DDL history: %w", err)
	}

	log.Info().Str("path", s.path).Uint64("entries", s.nextSeq).Msg("DDL history store opened")
	return nil
}

// Stop closes the pebble database.
func (s *PebbleStore) Stop() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Describe returns the store location for operator logging.
func (s *PebbleStore) Describe() string {
	return "pebble:" + s.path
}

// loadNextSeq finds the last used sequence number by seeking to the end of
// the history keyspace.
func (s *PebbleStore) loadNextSeq() error {
	prefix := []byte(prefixDDLHistory)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	if iter.Last() && iter.Valid() {
		var seq uint64
		if _, err := fmt.Sscanf(string(iter.Key()[len(prefixDDLHistory):]), "%016x", &seq); err != nil {
			return fmt.Errorf("corrupted history key %q: %w", iter.Key(), err)
		}
		s.nextSeq = seq
	}
	return iter.Error()
}

// Record appends one DDL application. Any failure is returned to the
// caller and treated as fatal there; the store never retries.
func (s *PebbleStore) Record(pos source.Position, database string, tables *schema.TableSet, ddl string) error {
	if s.db == nil {
		return fmt.Errorf("DDL history store is not started")
	}

	entry := newEntry(pos, database, ddl, tables)
	val, err := encoding.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}
	if s.compress {
		val = s2.Encode(nil, val)
	}

	seq := s.nextSeq + 1
	key := formatHistoryKey(seq)
	if err := s.db.Set(key, val, pebble.Sync); err != nil {
		return fmt.Errorf("failed to write history entry: %w", err)
	}
	s.nextSeq = seq

	log.Debug().Str("position", pos.String()).Str("database", database).Msg("Recorded DDL history entry")
	return nil
}

// Recover replays recorded entries through the parser into the table
// model, stopping after the last entry at or before stop. Parse failures
// are logged and skipped, matching live DDL application.
func (s *PebbleStore) Recover(stop source.Position, tables *schema.TableSet, parser schema.DDLParser) error {
	if s.db == nil {
		return fmt.Errorf("DDL history store is not started")
	}

	prefix := []byte(prefixDDLHistory)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	replayed := 0
	for iter.First(); iter.Valid(); iter.Next() {
		val, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		if s.compress {
			if val, err = s2.Decode(nil, val); err != nil {
				return fmt.Errorf("corrupted history entry at %q: %w", iter.Key(), err)
			}
		}

		var entry Entry
		if err := encoding.Unmarshal(val, &entry); err != nil {
			return fmt.Errorf("failed to unmarshal history entry at %q: %w", iter.Key(), err)
		}
		if !entry.Position.AtOrBefore(stop) {
			break
		}
		if err := replay(entry, tables, parser); err != nil {
			log.Error().Err(err).Str("ddl", entry.DDL).Msg("Skipping unparseable history entry")
		}
		replayed++
	}
	if err := iter.Error(); err != nil {
		return err
	}

	log.Info().Int("entries", replayed).Str("stop", stop.String()).Msg("Replayed DDL history")
	return nil
}

// formatHistoryKey formats a sequence number as a 16-digit zero-padded key
func formatHistoryKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x", prefixDDLHistory, seq))
}

// prefixUpperBound returns the upper bound for a prefix scan
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end
		}
	}
	return nil // Prefix is all 0xff
}
