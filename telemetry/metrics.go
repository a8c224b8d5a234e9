package telemetry

// Event Processing Metrics
var (
	// EventsTotal counts consumed binlog events by kind (rotate, query, table_map, write, update, delete)
	EventsTotal CounterVec = noopCounterVec{}

	// RecordsEmittedTotal counts emitted change records by operation (create, update, delete, tombstone, schema)
	RecordsEmittedTotal CounterVec = noopCounterVec{}

	// RowsSkippedTotal counts rows dropped by filtering or unresolved table ids
	RowsSkippedTotal Counter = NoopStat{}

	// ConvertersBound tracks currently bound numeric table id converters
	ConvertersBound Gauge = NoopStat{}

	// RegistryInvalidationsTotal counts registry-wide invalidations on log rotation
	RegistryInvalidationsTotal Counter = NoopStat{}
)

// Schema Catalog Metrics
var (
	// DDLAppliedTotal counts DDL statements recorded to history
	DDLAppliedTotal Counter = NoopStat{}

	// DDLParseFailuresTotal counts DDL statements that failed to parse (skipped, not fatal)
	DDLParseFailuresTotal Counter = NoopStat{}

	// SchemaChangesTotal counts schema-change records handed to the recorder
	SchemaChangesTotal Counter = NoopStat{}

	// KnownTables tracks the number of tables in the live table model
	KnownTables Gauge = NoopStat{}
)

// Publish Metrics
var (
	// PublishedTotal counts records published by sink name
	PublishedTotal CounterVec = noopCounterVec{}

	// PublishFailuresTotal counts failed publish attempts by sink name
	PublishFailuresTotal CounterVec = noopCounterVec{}
)

// bindMetrics replaces the no-op metrics with registered Prometheus
// instances. Called from InitializeTelemetry once the registry exists.
func bindMetrics() {
	EventsTotal = NewCounterVec("events_total", "Binlog events consumed by kind", []string{"kind"})
	RecordsEmittedTotal = NewCounterVec("records_emitted_total", "Change records emitted by operation", []string{"op"})
	RowsSkippedTotal = NewCounter("rows_skipped_total", "Rows dropped by filtering or unresolved table ids")
	ConvertersBound = NewGauge("converters_bound", "Currently bound numeric table id converters")
	RegistryInvalidationsTotal = NewCounter("registry_invalidations_total", "Registry-wide invalidations on log rotation")

	DDLAppliedTotal = NewCounter("ddl_applied_total", "DDL statements recorded to history")
	DDLParseFailuresTotal = NewCounter("ddl_parse_failures_total", "DDL statements that failed to parse")
	SchemaChangesTotal = NewCounter("schema_changes_total", "Schema-change records emitted")
	KnownTables = NewGauge("known_tables", "Tables in the live table model")

	PublishedTotal = NewCounterVec("published_total", "Records published by sink", []string{"sink"})
	PublishFailuresTotal = NewCounterVec("publish_failures_total", "Failed publish attempts by sink", []string{"sink"})
}
