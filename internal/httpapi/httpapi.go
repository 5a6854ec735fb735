// Package httpapi is the thin net/http control surface over a sim.Driver,
// generalizing the teacher's handleGetState/handleReset/handleToggle
// handlers and writeJSON helper (main.go) from a continuous-space
// Environment to the SAR command surface of §6 "Command surface".
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trandavy/sard/internal/sim"
	"github.com/trandavy/sard/internal/telemetry"
)

// Server wires a sim.Driver to the net/http handlers named in §6's
// "Command surface": lifecycle (start/stop/pause/resume/reset), introspection
// (state/metrics/recent messages/ground state), and recording.
type Server struct {
	driver *sim.Driver
	tel    *telemetry.Telemetry
	logger *slog.Logger
	cancel context.CancelFunc
}

// NewServer constructs a Server over driver. tel may be nil to skip the
// Prometheus /metrics endpoint.
func NewServer(driver *sim.Driver, tel *telemetry.Telemetry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{driver: driver, tel: tel, logger: logger.With("component", "httpapi")}
}

// writeJSON mirrors the teacher's writeJSON: indent-encode v, or a 500 on
// encode failure.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Mux builds the full handler tree.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/start", s.handleStart)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/api/pause", s.handlePause)
	mux.HandleFunc("/api/resume", s.handleResume)
	mux.HandleFunc("/api/reset", s.handleReset)
	mux.HandleFunc("/api/metrics", s.handleMetrics)
	mux.HandleFunc("/api/messages", s.handleMessages)
	mux.HandleFunc("/api/ground", s.handleGround)
	mux.HandleFunc("/api/oracle", s.handleOracle)
	mux.HandleFunc("/api/record/start", s.handleStartRecording)
	mux.HandleFunc("/api/record/save", s.handleSaveReplay)
	if s.tel != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.tel.Gather(), promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.driver.State())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.driver.Start(ctx)
	writeJSON(w, map[string]any{"started": true})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if s.cancel != nil {
		s.cancel()
	}
	s.driver.Stop()
	writeJSON(w, map[string]any{"stopped": true})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.driver.Pause()
	writeJSON(w, map[string]any{"paused": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.driver.Resume()
	writeJSON(w, map[string]any{"paused": false})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.driver.Reset()
	writeJSON(w, s.driver.State())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	summary, history := s.driver.Metrics()
	writeJSON(w, map[string]any{"current": summary, "history": history})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.driver.RecentMessages())
}

func (s *Server) handleGround(w http.ResponseWriter, r *http.Request) {
	stats, statuses := s.driver.GroundState()
	writeJSON(w, map[string]any{"stats": stats, "drones": statuses})
}

func (s *Server) handleOracle(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.driver.OracleStats())
}

func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	s.driver.StartRecording()
	writeJSON(w, map[string]any{"recording": true})
}

func (s *Server) handleSaveReplay(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "replay.json"
	}
	if err := s.driver.SaveReplay(path); err != nil {
		s.logger.Warn("save replay failed", "path", path, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"saved": path})
}
