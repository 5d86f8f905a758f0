package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bonchardon-dev/audio-transcription/internal/config"
	"github.com/bonchardon-dev/audio-transcription/internal/metrics"
)

const (
	serviceName    = "audio-transcription"
	serviceVersion = "1.0.0"
)

// StatsFunc returns a JSON-encodable statistics snapshot
type StatsFunc func() any

// HTTPServer provides the serve mode job API and monitoring endpoints
type HTTPServer struct {
	server  *http.Server
	handler http.Handler
	logger  *slog.Logger
	config  *config.Config
	jobs    *JobManager
	metrics *metrics.Metrics

	startTime time.Time
	stats     map[string]StatsFunc
	mu        sync.RWMutex
}

// HTTPServerConfig contains HTTP server configuration
type HTTPServerConfig struct {
	Port    int
	Address string

	// MetricsHandler serves /metrics; promhttp.Handler() when nil
	MetricsHandler http.Handler
}

type submitRequest struct {
	Path string `json:"path"`
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg HTTPServerConfig, logger *slog.Logger,
	appConfig *config.Config, jobs *JobManager, m *metrics.Metrics) *HTTPServer {

	if logger == nil {
		logger = slog.Default()
	}

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		jobs:      jobs,
		metrics:   m,
		startTime: time.Now(),
		stats:     make(map[string]StatsFunc),
	}

	metricsHandler := cfg.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux, metricsHandler)
	h.handler = mux

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// WithStats registers a component statistics source shown under /stats
func (h *HTTPServer) WithStats(name string, fn StatsFunc) *HTTPServer {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stats[name] = fn
	return h
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux, metricsHandler http.Handler) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Job endpoints
	mux.HandleFunc("/jobs", h.withMetrics("/jobs", h.handleJobs))
	mux.HandleFunc("/jobs/", h.withMetrics("/jobs/{id}", h.handleJobDetail))

	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	mux.Handle("/metrics", metricsHandler)

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		if h.metrics == nil {
			return
		}

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	jobStats := h.jobs.GetStats()

	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": map[string]any{
			"jobs": map[string]any{
				"status":  "running",
				"running": jobStats.Running,
				"total":   jobStats.Total,
			},
			"transcription": map[string]any{
				"backend": h.config.Transcription.Backend,
			},
			"diarization": map[string]any{
				"backend": h.config.Diarization.Backend,
			},
		},
	}

	writeJSON(w, http.StatusOK, health)
}

// handleJobs implements GET and POST /jobs
func (h *HTTPServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		jobs := h.jobs.List()
		writeJSON(w, http.StatusOK, map[string]any{
			"total_jobs": len(jobs),
			"timestamp":  time.Now().UTC(),
			"jobs":       jobs,
		})
	case http.MethodPost:
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		info, err := h.jobs.Submit(req.Path)
		switch {
		case errors.Is(err, ErrInvalidPath):
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		case errors.Is(err, ErrStopped):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		case err != nil:
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Location", "/jobs/"+info.ID)
		writeJSON(w, http.StatusAccepted, map[string]string{"id": info.ID})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobDetail implements the /jobs/{id} endpoint
func (h *HTTPServer) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/jobs/")
	if id == "" {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}

	info, exists := h.jobs.Get(id)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c := h.config.Redacted()
	sanitizedConfig := map[string]any{
		"convert": map[string]any{
			"ffmpeg_path": c.Convert.FFmpegPath,
			"sample_rate": c.Convert.SampleRate,
			"work_dir":    c.Convert.WorkDir,
			"timeout":     c.Convert.Timeout,
		},
		"silence": map[string]any{
			"margin_db":      c.Silence.MarginDB,
			"min_silence_ms": c.Silence.MinSilenceMs,
			"lead_in_ms":     c.Silence.LeadInMs,
			"merge_gap_ms":   c.Silence.MergeGapMs,
			"seek_step_ms":   c.Silence.SeekStepMs,
		},
		"diarization": map[string]any{
			"backend":    c.Diarization.Backend,
			"export_dir": c.Diarization.ExportDir,
		},
		"chunking": map[string]any{
			"duration_ms": c.Chunking.DurationMs,
			"max_bytes":   c.Chunking.MaxBytes,
		},
		"transcription": map[string]any{
			"backend":         c.Transcription.Backend,
			"endpoint":        c.Transcription.Endpoint,
			"api_key":         c.Transcription.APIKey,
			"model":           c.Transcription.Model,
			"language":        c.Transcription.Language,
			"response_format": c.Transcription.ResponseFormat,
			"timeout":         c.Transcription.Timeout,
			"max_retries":     c.Transcription.MaxRetries,
			"max_concurrent":  c.Transcription.MaxConcurrent,
		},
		"logging": map[string]any{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
			"output": c.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]any{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"jobs":      h.jobs.GetStats(),
	}

	h.mu.RLock()
	for name, fn := range h.stats {
		stats[name] = fn()
	}
	h.mu.RUnlock()

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]any{
		"service": "Audio Transcription Service",
		"version": serviceVersion,
		"endpoints": map[string]any{
			"GET /":          "API documentation",
			"GET /health":    "Service health check",
			"POST /jobs":     "Submit a recording {\"path\": \"...\"}",
			"GET /jobs":      "List jobs",
			"GET /jobs/{id}": "Get job status and result",
			"GET /config":    "Get service configuration",
			"GET /stats":     "Get service statistics",
			"GET /metrics":   "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}
