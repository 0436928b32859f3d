package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/meditrace/phi-sentinel/internal/batch"
	"github.com/meditrace/phi-sentinel/internal/config"
	"github.com/meditrace/phi-sentinel/internal/logger"
	"github.com/meditrace/phi-sentinel/internal/report"
)

// Server exposes batch progress and reports over HTTP while long runs are
// in flight. It serves only aggregate data; no identifier values.
type Server struct {
	config config.MonitorConfig
	logger *logger.Logger
	router *mux.Router
	server *http.Server
	hub    *Hub

	mu     sync.RWMutex
	latest *batch.BatchResult
}

// New creates a new monitor server instance
func New(cfg config.MonitorConfig, log *logger.Logger) *Server {
	hub := NewHub(cfg, log.WithComponent("websocket").Logger)
	router := mux.NewRouter()

	s := &Server{
		config: cfg,
		logger: log.WithComponent("monitor"),
		router: router,
		hub:    hub,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Hub returns the progress hub for wiring into the orchestrator.
func (s *Server) Hub() *Hub {
	return s.hub
}

// SetLatest publishes the most recent batch result for /status and /report.
func (s *Server) SetLatest(result *batch.BatchResult) {
	s.mu.Lock()
	s.latest = result
	s.mu.Unlock()
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/report", s.handleReport).Methods("GET")
	s.router.HandleFunc(s.config.WebSocket.Path, s.hub.ServeWS).Methods("GET")
}

// Start starts the HTTP server and the progress hub.
func (s *Server) Start() error {
	go s.hub.Run()
	s.logger.Info("Monitor server listening", zap.Int("port", s.config.Port))
	return s.server.ListenAndServe()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	latest := s.latest
	s.mu.RUnlock()

	status := map[string]interface{}{
		"listeners": s.hub.ClientCount(),
		"time":      time.Now().Format(time.RFC3339),
	}
	if latest != nil {
		status["batch_id"] = latest.BatchID
		status["successes"] = latest.Successes
		status["failures"] = latest.Failures
		status["compliance"] = latest.Compliance.Status
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	latest := s.latest
	s.mu.RUnlock()
	if latest == nil {
		http.Error(w, "no batch completed yet", http.StatusNotFound)
		return
	}

	name := r.URL.Query().Get("format")
	if name == "" {
		name = "html"
	}
	format, err := report.ParseFormat(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rendered, err := report.Generate(latest, format)
	if err != nil {
		s.logger.Error("Report rendering failed", zap.Error(err))
		http.Error(w, "report rendering failed", http.StatusInternalServerError)
		return
	}

	switch format {
	case report.FormatJSON:
		w.Header().Set("Content-Type", "application/json")
	case report.FormatCSV:
		w.Header().Set("Content-Type", "text/csv")
	case report.FormatXML:
		w.Header().Set("Content-Type", "application/xml")
	default:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	}
	w.Write(rendered)
}
