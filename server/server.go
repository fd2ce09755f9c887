package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/getsentry/sentry-go"
	"golang.org/x/time/rate"

	"github.com/hannes/kiji-ner/config"
	"github.com/hannes/kiji-ner/ner"
)

const serviceName = "Entity Extraction Service"

// Analyzer runs the extraction pipeline on one document.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (ner.AnalysisResponse, error)
}

// ModelStatus exposes the in-process labeling model. It is satisfied by
// detectors.ModelManager and is nil when a remote detector is used.
type ModelStatus interface {
	IsHealthy() bool
	GetInfo() map[string]interface{}
	ReloadModel(directory string) error
}

// Server represents the HTTP server
type Server struct {
	config     config.ServerConfig
	analyzer   Analyzer
	model      ModelStatus
	limiter    *rate.Limiter
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates a new server instance
func NewServer(cfg config.ServerConfig, analyzer Analyzer, model ModelStatus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config:   cfg,
		analyzer: analyzer,
		model:    model,
		logger:   logger,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Port,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler returns the routed handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthCheck)
	mux.HandleFunc("/api/model", s.handleModelInfo)
	mux.HandleFunc("/api/model/reload", s.handleModelReload)
	mux.HandleFunc("/analyze/", s.handleAnalyze)
	mux.HandleFunc("/analyze", s.handleAnalyze)

	var h http.Handler = mux
	h = s.rateLimit(h)
	h = s.cors(h)
	h = s.recoverPanics(h)
	h = s.requestID(h)
	return h
}

// Start starts the HTTP server and blocks until it stops. It returns nil
// once Shutdown has been called, including when Shutdown came first.
func (s *Server) Start() error {
	s.logger.Info("[Server] Starting entity extraction service", "port", s.config.Port)
	if s.model != nil {
		s.logger.Info("[Server] Labeling model", "healthy", s.model.IsHealthy())
	}

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones and flushes
// pending error reports.
func (s *Server) Shutdown(ctx context.Context) error {
	defer sentry.Flush(flushTimeout(ctx))
	return s.httpServer.Shutdown(ctx)
}

// healthCheck provides a simple health check endpoint
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":  "healthy",
		"service": serviceName,
	}
	if s.model != nil {
		body["detector_healthy"] = s.model.IsHealthy()
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.model == nil {
		s.writeDetail(w, http.StatusNotFound, "No local labeling model configured")
		return
	}
	s.writeJSON(w, http.StatusOK, s.model.GetInfo())
}

type reloadRequest struct {
	Directory string `json:"directory"`
}

func (s *Server) handleModelReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.model == nil {
		s.writeDetail(w, http.StatusNotFound, "No local labeling model configured")
		return
	}

	var req reloadRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeDetail(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
	}
	if req.Directory == "" {
		req.Directory, _ = s.model.GetInfo()["directory"].(string)
	}

	if err := s.model.ReloadModel(req.Directory); err != nil {
		s.logger.ErrorContext(r.Context(), "[Server] Model reload failed", "directory", req.Directory, "error", err)
		s.writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.model.GetInfo())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("[Server] Failed to write response", "error", err)
	}
}

// writeDetail writes the {"detail": ...} error shape.
func (s *Server) writeDetail(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, map[string]string{"detail": detail})
}
