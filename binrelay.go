package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/binrelay/binrelay/binlog"
	"github.com/binrelay/binrelay/cfg"
	"github.com/binrelay/binrelay/ddl"
	"github.com/binrelay/binrelay/filter"
	"github.com/binrelay/binrelay/history"
	"github.com/binrelay/binrelay/publish"
	"github.com/binrelay/binrelay/relay"
	"github.com/binrelay/binrelay/schema"
	"github.com/binrelay/binrelay/source"
	"github.com/binrelay/binrelay/telemetry"
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Str("server", cfg.Config.Source.ServerName).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("Binrelay - MySQL Change Data Capture")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()

	// Build the capture scope filters
	filters, err := filter.NewSet(
		cfg.Config.Filters.Databases,
		cfg.Config.Filters.Tables,
		cfg.Config.Filters.ExcludeColumns,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid filter configuration")
		return
	}

	// Initialize the schema catalog over a durable DDL history
	log.Info().Msg("Initializing schema catalog")
	parser, err := ddl.NewParser()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize DDL parser")
		return
	}
	catalog, err := schema.NewCatalog(
		parser,
		filters,
		history.NewPebbleStore(cfg.Config.DataDir, cfg.Config.History.Compress),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create schema catalog")
		return
	}
	if err := catalog.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start schema catalog")
		return
	}
	defer catalog.Shutdown()

	start := source.Position{File: cfg.Config.Source.StartFile, Pos: cfg.Config.Source.StartPos}
	if err := catalog.LoadHistory(start); err != nil {
		log.Fatal().Err(err).Msg("Failed to recover schema history")
		return
	}

	// Wire up sinks and the record dispatcher
	log.Info().Int("sinks", len(cfg.Config.Sinks)).Msg("Initializing sinks")
	dispatcher, err := publish.NewDispatcher(cfg.Config.Sinks)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize sinks")
		return
	}
	defer dispatcher.Close()

	// Wire up the event processor
	info := source.NewInfo(cfg.Config.Source.ServerName, cfg.Config.Source.ServerID)
	converters, err := relay.NewTableConverters(
		catalog,
		relay.NewTopicSelector(cfg.Config.TopicPrefix),
		relay.SystemClock(),
		info,
		cfg.Config.EmitSchemaChanges,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create table converters")
		return
	}

	// Serve /metrics and /status
	statusServer := telemetry.NewServer(&pipelineStatus{catalog: catalog})
	statusServer.Start()
	defer statusServer.Stop()

	// Connect to the upstream server and stream the change log
	log.Info().Str("host", cfg.Config.Source.Host).Int("port", cfg.Config.Source.Port).
		Msg("Connecting to upstream server")
	reader, err := binlog.NewReader(cfg.Config.Source, start, info)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start binlog reader")
		return
	}
	defer reader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("data_dir", cfg.Config.DataDir).Str("topic_prefix", cfg.Config.TopicPrefix).
		Msg("Binrelay started successfully")

	if err := run(ctx, reader, converters, dispatcher.Record); err != nil {
		log.Fatal().Err(err).Msg("Pipeline failed")
		return
	}
	log.Info().Msg("Shutting down")
}

// run drives the single-writer event loop: every event is fully processed,
// and its records fully published, before the next one is read.
func run(ctx context.Context, reader *binlog.Reader, converters *relay.TableConverters, record relay.Recorder) error {
	for {
		event, err := reader.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		switch ev := event.(type) {
		case binlog.RotateEvent:
			converters.RotateLogs(ev)
		case binlog.QueryEvent:
			err = converters.UpdateTableCommand(ev, record)
		case binlog.TableMapEvent:
			converters.UpdateTableMetadata(ev)
		case binlog.WriteRowsEvent:
			err = converters.HandleInsert(ev, record)
		case binlog.UpdateRowsEvent:
			err = converters.HandleUpdate(ev, record)
		case binlog.DeleteRowsEvent:
			err = converters.HandleDelete(ev, record)
		}
		if err != nil {
			return err
		}
	}
}

// pipelineStatus adapts the catalog to the status endpoint.
type pipelineStatus struct {
	catalog *schema.Catalog
}

func (p *pipelineStatus) HistoryLocation() string {
	return p.catalog.HistoryLocation()
}

func (p *pipelineStatus) KnownTables() int {
	return len(p.catalog.Tables())
}

func (p *pipelineStatus) TableSummaries() []telemetry.TableSummary {
	tables := p.catalog.Tables()
	summaries := make([]telemetry.TableSummary, 0, len(tables))
	for _, table := range tables {
		columns := make([]string, 0, len(table.Columns))
		for _, col := range table.Columns {
			columns = append(columns, col.Name)
		}
		summaries = append(summaries, telemetry.TableSummary{
			Name:        table.ID.String(),
			Columns:     columns,
			PrimaryKeys: table.PrimaryKeys,
		})
	}
	return summaries
}
