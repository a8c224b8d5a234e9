package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// SourceConfiguration identifies the upstream server and how to reach it.
type SourceConfiguration struct {
	// ServerName is the logical name of the upstream server. It prefixes
	// every topic and keys the offset partition, so it must be unique per
	// monitored server and stable across restarts.
	ServerName string `toml:"server_name"`

	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`

	// ServerID is the replication client id announced to the upstream
	// server. 0 means auto-generate from the machine id.
	ServerID uint64 `toml:"server_id"`

	// StartFile/StartPos set the binlog position to resume from. Empty
	// file means "start from the current server position".
	StartFile string `toml:"start_file"`
	StartPos  uint64 `toml:"start_pos"`
}

// FilterConfiguration holds the glob patterns for the capture scope.
// Table patterns match "database.table", column patterns match
// "database.table.column" and exclude matching columns.
type FilterConfiguration struct {
	Databases      []string `toml:"databases"`
	Tables         []string `toml:"tables"`
	ExcludeColumns []string `toml:"exclude_columns"`
}

// SinkConfiguration describes one publish destination.
type SinkConfiguration struct {
	Name    string   `toml:"name"`
	Type    string   `toml:"type"` // "kafka" or "nats"
	Brokers []string `toml:"brokers"`
	NatsURL string   `toml:"nats_url"`
}

// HistoryConfiguration controls the DDL history store.
type HistoryConfiguration struct {
	// Compress enables s2 compression of stored entries.
	Compress bool `toml:"compress"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// Configuration is the main configuration structure
type Configuration struct {
	DataDir string `toml:"data_dir"`

	// TopicPrefix prepends every destination topic; defaults to the
	// source server name when empty.
	TopicPrefix string `toml:"topic_prefix"`

	// EmitSchemaChanges gates publishing of schema-change records to the
	// server-level topic.
	EmitSchemaChanges bool `toml:"emit_schema_changes"`

	Source     SourceConfiguration     `toml:"source"`
	Filters    FilterConfiguration     `toml:"filters"`
	History    HistoryConfiguration    `toml:"history"`
	Sinks      []SinkConfiguration     `toml:"sinks"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	ServerIDFlag   = flag.Uint64("server-id", 0, "Replication server ID (overrides config, 0=auto)")
)

// Default configuration
var Config = &Configuration{
	DataDir: "./binrelay-data",

	EmitSchemaChanges: true,

	Source: SourceConfiguration{
		ServerName: "binrelay",
		Host:       "127.0.0.1",
		Port:       3306,
		User:       "replicator",
	},

	History: HistoryConfiguration{
		Compress: true,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
		Address: "0.0.0.0",
		Port:    9090,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	// Load from file if it exists
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *ServerIDFlag != 0 {
		Config.Source.ServerID = *ServerIDFlag
	}

	// Auto-generate replication server ID if not set
	if Config.Source.ServerID == 0 {
		var err error
		Config.Source.ServerID, err = generateServerID()
		if err != nil {
			return fmt.Errorf("failed to generate server ID: %w", err)
		}
		log.Info().Uint64("server_id", Config.Source.ServerID).Msg("Auto-generated server ID")
	}

	// Ensure data directory exists
	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// generateServerID creates a unique replication client ID based on machine ID
func generateServerID() (uint64, error) {
	id, err := machineid.ProtectedID("binrelay")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.Source.ServerName == "" {
		return fmt.Errorf("source server_name is required")
	}
	if Config.Source.Port < 1 || Config.Source.Port > 65535 {
		return fmt.Errorf("invalid source port: %d", Config.Source.Port)
	}
	if Config.Prometheus.Enabled {
		if Config.Prometheus.Port < 1 || Config.Prometheus.Port > 65535 {
			return fmt.Errorf("invalid prometheus port: %d", Config.Prometheus.Port)
		}
	}
	for i, sink := range Config.Sinks {
		if sink.Name == "" {
			return fmt.Errorf("sink %d: name is required", i)
		}
		switch sink.Type {
		case "kafka":
			if len(sink.Brokers) == 0 {
				return fmt.Errorf("sink %q: kafka sink requires brokers", sink.Name)
			}
		case "nats":
			if sink.NatsURL == "" {
				return fmt.Errorf("sink %q: nats sink requires nats_url", sink.Name)
			}
		default:
			return fmt.Errorf("sink %q: unknown type %q", sink.Name, sink.Type)
		}
	}
	if Config.TopicPrefix == "" {
		Config.TopicPrefix = Config.Source.ServerName
	}
	return nil
}
