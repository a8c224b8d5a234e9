package telemetry

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/binrelay/binrelay/cfg"
)

// TableSummary is the wire form of one captured table shown at /tables.
type TableSummary struct {
	Name        string   `json:"name"`
	Columns     []string `json:"columns"`
	PrimaryKeys []string `json:"primary_keys"`
}

// StatusProvider supplies the live pipeline state shown at /status.
type StatusProvider interface {
	// HistoryLocation describes where DDL history is recorded.
	HistoryLocation() string
	// KnownTables returns the number of tables passing the filters.
	KnownTables() int
	// TableSummaries lists every table passing the filters.
	TableSummaries() []TableSummary
}

// Server exposes /metrics and /status over HTTP.
type Server struct {
	httpServer *http.Server
}

// NewServer builds the HTTP surface. Returns nil when Prometheus is
// disabled; the pipeline runs fine without it.
func NewServer(status StatusProvider) *Server {
	if !cfg.Config.Prometheus.Enabled {
		return nil
	}

	r := chi.NewRouter()

	if handler := GetMetricsHandler(); handler != nil {
		r.Handle("/metrics", handler)
	}

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]interface{}{
			"server":  cfg.Config.Source.ServerName,
			"history": status.HistoryLocation(),
			"tables":  status.KnownTables(),
		})
	})

	r.Get("/tables", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]interface{}{
			"tables": status.TableSummaries(),
		})
	})

	addr := net.JoinHostPort(cfg.Config.Prometheus.Address, fmt.Sprint(cfg.Config.Prometheus.Port))
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

// Start serves in a background goroutine.
func (s *Server) Start() {
	if s == nil {
		return
	}
	log.Info().Str("addr", s.httpServer.Addr).Msg("Serving metrics and status endpoints")
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}

// Stop closes the listener.
func (s *Server) Stop() {
	if s == nil {
		return
	}
	if err := s.httpServer.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close metrics server")
	}
}
