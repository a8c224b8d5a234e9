package relay

import (
	"fmt"
	"reflect"

	"github.com/rs/zerolog/log"

	"github.com/binrelay/binrelay/binlog"
	"github.com/binrelay/binrelay/schema"
	"github.com/binrelay/binrelay/source"
	"github.com/binrelay/binrelay/telemetry"
)

// converter is the bound state for one numeric table identifier: the table
// it resolves to, its derived schema, the pre-built envelope shape and the
// destination topic. A converter is immutable; schema changes bind a fresh
// one under the new identifier.
type converter struct {
	id       schema.TableID
	schema   *schema.TableSchema
	envelope *schema.Shape
	topic    string
}

// TableConverters resolves the ephemeral numeric table identifiers row
// events carry and converts row images into change records.
//
// Not safe for concurrent use: the host feeds it events from a single
// goroutine, in log order.
type TableConverters struct {
	catalog *schema.Catalog
	topics  *TopicSelector
	clock   Clock
	info    *source.Info

	emitSchemaChanges bool

	convertersByNum map[uint64]*converter
	numsByTable     map[schema.TableID]uint64
}

// NewTableConverters creates the converter registry. All collaborators are
// required.
func NewTableConverters(catalog *schema.Catalog, topics *TopicSelector, clock Clock, info *source.Info, emitSchemaChanges bool) (*TableConverters, error) {
	if catalog == nil {
		return nil, fmt.Errorf("a schema catalog is required")
	}
	if topics == nil {
		return nil, fmt.Errorf("a topic selector is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("a clock is required")
	}
	if info == nil {
		return nil, fmt.Errorf("source info is required")
	}
	return &TableConverters{
		catalog:           catalog,
		topics:            topics,
		clock:             clock,
		info:              info,
		emitSchemaChanges: emitSchemaChanges,
		convertersByNum:   make(map[uint64]*converter),
		numsByTable:       make(map[schema.TableID]uint64),
	}, nil
}

// Bound returns the number of currently bound converters.
func (c *TableConverters) Bound() int {
	return len(c.convertersByNum)
}

// RotateLogs invalidates every numeric table identifier binding. The
// server reassigns identifiers per log segment, so nothing bound before
// the rotation may resolve after it. The schema catalog is untouched.
func (c *TableConverters) RotateLogs(ev binlog.RotateEvent) {
	telemetry.EventsTotal.With(ev.Kind()).Inc()
	if len(c.convertersByNum) > 0 {
		log.Debug().Int("bound", len(c.convertersByNum)).Str("next_file", ev.NextFile).
			Msg("Clearing table converters on log rotation")
	}
	c.convertersByNum = make(map[uint64]*converter)
	c.numsByTable = make(map[schema.TableID]uint64)
	telemetry.ConvertersBound.Set(0)
	telemetry.RegistryInvalidationsTotal.Inc()
}

// UpdateTableCommand applies DDL carried by a query event to the schema
// catalog and, when enabled, emits one schema-change record per affected
// database on the server-level topic. A history store failure or recorder
// failure is returned and fatal; a DDL parse failure is not.
func (c *TableConverters) UpdateTableCommand(ev binlog.QueryEvent, record Recorder) error {
	telemetry.EventsTotal.With(ev.Kind()).Inc()

	var recordErr error
	onDatabase := func(database, ddl string) {
		if !c.emitSchemaChanges || recordErr != nil {
			return
		}
		tsMs := c.clock.NowMillis()
		rec := Record{
			Topic:           c.topics.ServerTopic(),
			KeyShape:        schemaChangeKeyShape,
			Key:             map[string]interface{}{FieldDatabaseName: database},
			ValueShape:      schemaChangeValueShape,
			Value: map[string]interface{}{
				FieldSource:       c.info.Origin(),
				FieldDatabaseName: database,
				FieldDDL:          ddl,
			},
			SourcePartition: c.info.Partition(),
			SourceOffset:    c.info.Offset(0),
			TsMs:            tsMs,
		}
		if err := record(rec); err != nil {
			recordErr = err
			return
		}
		telemetry.SchemaChangesTotal.Inc()
		telemetry.RecordsEmittedTotal.With("schema").Inc()
	}

	processed, err := c.catalog.ApplyDDL(c.info.Current(), ev.Database, ev.SQL, onDatabase)
	if err != nil {
		return err
	}
	if recordErr != nil {
		return fmt.Errorf("failed to record schema change: %w", recordErr)
	}
	if processed {
		telemetry.KnownTables.Set(float64(len(c.catalog.Tables())))
	}
	return nil
}

// UpdateTableMetadata binds a numeric table identifier announced by a
// table-map event. Re-announcing an existing binding for the same table is
// a no-op; announcing a new identifier for an already-bound table
// displaces the stale one. Tables unknown to the catalog or excluded by
// filters stay unbound, so their row events are skipped.
func (c *TableConverters) UpdateTableMetadata(ev binlog.TableMapEvent) {
	telemetry.EventsTotal.With(ev.Kind()).Inc()

	id := schema.NewTableID(ev.Database, ev.Table)
	if existing, ok := c.convertersByNum[ev.TableNum]; ok && existing.id == id {
		return
	}

	tableSchema := c.catalog.SchemaFor(id)
	if tableSchema == nil {
		// The identifier may have been recycled from a table we track.
		if existing, bound := c.convertersByNum[ev.TableNum]; bound {
			delete(c.convertersByNum, ev.TableNum)
			if n, ok := c.numsByTable[existing.id]; ok && n == ev.TableNum {
				delete(c.numsByTable, existing.id)
			}
			telemetry.ConvertersBound.Set(float64(len(c.convertersByNum)))
		}
		log.Debug().Str("table", id.String()).Uint64("table_num", ev.TableNum).
			Msg("Skipping table map for unknown or filtered table")
		return
	}

	if existing, ok := c.convertersByNum[ev.TableNum]; ok {
		if n, ok := c.numsByTable[existing.id]; ok && n == ev.TableNum {
			delete(c.numsByTable, existing.id)
		}
	}
	if oldNum, ok := c.numsByTable[id]; ok && oldNum != ev.TableNum {
		delete(c.convertersByNum, oldNum)
	}
	c.convertersByNum[ev.TableNum] = &converter{
		id:       id,
		schema:   tableSchema,
		envelope: envelopeShape(tableSchema.ValueShape()),
		topic:    c.topics.TopicFor(id),
	}
	c.numsByTable[id] = ev.TableNum
	telemetry.ConvertersBound.Set(float64(len(c.convertersByNum)))
}

// HandleInsert converts inserted rows into create records.
func (c *TableConverters) HandleInsert(ev binlog.WriteRowsEvent, record Recorder) error {
	telemetry.EventsTotal.With(ev.Kind()).Inc()

	conv := c.resolve(ev.TableNum, len(ev.Rows))
	if conv == nil {
		return nil
	}

	tsMs := c.clock.NowMillis()
	for i, row := range ev.Rows {
		key := conv.schema.KeyFromRow(row)
		value := conv.schema.ValueFromRow(row)
		if key == nil && value == nil {
			telemetry.RowsSkippedTotal.Inc()
			continue
		}
		rec := c.rowRecord(conv, key, envelope(OpCreate, nil, value, c.info.Origin(), tsMs), i, tsMs)
		if err := record(rec); err != nil {
			return err
		}
		telemetry.RecordsEmittedTotal.With("create").Inc()
	}
	return nil
}

// HandleUpdate converts updated rows. An update that leaves the key
// unchanged yields one update record carrying both images. An update that
// changes the key is rewritten as a create under the new key, a delete
// under the old key and a tombstone for the old key, in that order, so
// compacted consumers converge on the same state as uncompacted ones.
func (c *TableConverters) HandleUpdate(ev binlog.UpdateRowsEvent, record Recorder) error {
	telemetry.EventsTotal.With(ev.Kind()).Inc()

	conv := c.resolve(ev.TableNum, len(ev.Rows))
	if conv == nil {
		return nil
	}

	tsMs := c.clock.NowMillis()
	for i, pair := range ev.Rows {
		oldKey := conv.schema.KeyFromRow(pair.Before)
		newKey := conv.schema.KeyFromRow(pair.After)
		before := conv.schema.ValueFromRow(pair.Before)
		after := conv.schema.ValueFromRow(pair.After)
		if newKey == nil && after == nil {
			telemetry.RowsSkippedTotal.Inc()
			continue
		}

		if newKey == nil || keysEqual(oldKey, newKey) {
			rec := c.rowRecord(conv, newKey, envelope(OpUpdate, before, after, c.info.Origin(), tsMs), i, tsMs)
			if err := record(rec); err != nil {
				return err
			}
			telemetry.RecordsEmittedTotal.With("update").Inc()
			continue
		}

		create := c.rowRecord(conv, newKey, envelope(OpCreate, nil, after, c.info.Origin(), tsMs), i, tsMs)
		if err := record(create); err != nil {
			return err
		}
		telemetry.RecordsEmittedTotal.With("create").Inc()

		del := c.rowRecord(conv, oldKey, envelope(OpDelete, before, nil, c.info.Origin(), tsMs), i, tsMs)
		if err := record(del); err != nil {
			return err
		}
		telemetry.RecordsEmittedTotal.With("delete").Inc()

		if oldKey != nil {
			if err := record(c.tombstone(conv, oldKey, i, tsMs)); err != nil {
				return err
			}
			telemetry.RecordsEmittedTotal.With("tombstone").Inc()
		}
	}
	return nil
}

// HandleDelete converts deleted rows into a delete record followed by a
// tombstone for the same key.
func (c *TableConverters) HandleDelete(ev binlog.DeleteRowsEvent, record Recorder) error {
	telemetry.EventsTotal.With(ev.Kind()).Inc()

	conv := c.resolve(ev.TableNum, len(ev.Rows))
	if conv == nil {
		return nil
	}

	tsMs := c.clock.NowMillis()
	for i, row := range ev.Rows {
		key := conv.schema.KeyFromRow(row)
		before := conv.schema.ValueFromRow(row)
		if key == nil && before == nil {
			telemetry.RowsSkippedTotal.Inc()
			continue
		}

		rec := c.rowRecord(conv, key, envelope(OpDelete, before, nil, c.info.Origin(), tsMs), i, tsMs)
		if err := record(rec); err != nil {
			return err
		}
		telemetry.RecordsEmittedTotal.With("delete").Inc()

		if key != nil {
			if err := record(c.tombstone(conv, key, i, tsMs)); err != nil {
				return err
			}
			telemetry.RecordsEmittedTotal.With("tombstone").Inc()
		}
	}
	return nil
}

// resolve looks up the converter bound to a table number. Unresolved
// numbers skip the whole event: either the table is filtered out, or a
// rotation invalidated the binding and no table-map event re-announced it.
func (c *TableConverters) resolve(tableNum uint64, rows int) *converter {
	conv, ok := c.convertersByNum[tableNum]
	if !ok {
		telemetry.RowsSkippedTotal.Add(float64(rows))
		log.Debug().Uint64("table_num", tableNum).Int("rows", rows).
			Msg("Skipping row event for unbound table number")
		return nil
	}
	return conv
}

func (c *TableConverters) rowRecord(conv *converter, key, value map[string]interface{}, row int, tsMs int64) Record {
	rec := Record{
		Topic:           conv.topic,
		Key:             key,
		ValueShape:      conv.envelope,
		Value:           value,
		SourcePartition: c.info.Partition(),
		SourceOffset:    c.info.Offset(row),
		TsMs:            tsMs,
	}
	if key != nil {
		rec.KeyShape = conv.schema.KeyShape()
	}
	return rec
}

func (c *TableConverters) tombstone(conv *converter, key map[string]interface{}, row int, tsMs int64) Record {
	return Record{
		Topic:           conv.topic,
		KeyShape:        conv.schema.KeyShape(),
		Key:             key,
		SourcePartition: c.info.Partition(),
		SourceOffset:    c.info.Offset(row),
		TsMs:            tsMs,
	}
}

func keysEqual(a, b map[string]interface{}) bool {
	if len(a) != len(b) {
		return false
	}
	return reflect.DeepEqual(a, b)
}
