package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haichaukhuu/finchat-speech-client/internal/config"
	"github.com/haichaukhuu/finchat-speech-client/internal/protocol"
	"github.com/haichaukhuu/finchat-speech-client/internal/session"
)

// HTTPServer exposes local monitoring endpoints for the running client.
type HTTPServer struct {
	server     *http.Server
	logger     *slog.Logger
	config     *config.Config
	controller *session.Controller

	startTime time.Time
}

// NewHTTPServer creates the local status/metrics server.
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger,
	appConfig *config.Config, controller *session.Controller) *HTTPServer {

	h := &HTTPServer{
		logger:     logger,
		config:     appConfig,
		controller: controller,
		startTime:  time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Health check endpoint
	mux.HandleFunc("/health", h.handleHealth)

	// Current session state
	mux.HandleFunc("/session", h.handleSession)

	// Supported transcription languages
	mux.HandleFunc("/languages", h.handleLanguages)

	// Configuration endpoint
	mux.HandleFunc("/config", h.handleConfig)

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.handleRoot)
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

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "finchat-speech-client",
			"version": "1.0.0",
		},
		"session": map[string]interface{}{
			"state":      h.controller.State().String(),
			"session_id": h.controller.SessionID(),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleSession implements the /session endpoint
func (h *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	info := map[string]interface{}{
		"state":        h.controller.State().String(),
		"session_id":   h.controller.SessionID(),
		"last_partial": h.controller.LastPartial(),
		"retry_count":  h.controller.RetryCount(),
		"language":     h.config.Session.LanguageCode,
		"timestamp":    time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}

// handleLanguages implements the /languages endpoint
func (h *HTTPServer) handleLanguages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"languages": protocol.SupportedLanguages(),
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]interface{}{
		"backend": map[string]interface{}{
			"endpoint":        h.config.Backend.Endpoint,
			"connect_timeout": h.config.Backend.ConnectTimeout,
			// Note: auth token is intentionally omitted for security
		},
		"audio": map[string]interface{}{
			"device_sample_rate": h.config.Audio.DeviceSampleRate,
			"target_sample_rate": h.config.Audio.TargetSampleRate,
			"channels":           h.config.Audio.Channels,
			"frames_per_buffer":  h.config.Audio.FramesPerBuffer,
			"chunk_duration":     h.config.Audio.ChunkDuration,
		},
		"session": map[string]interface{}{
			"language_code":          h.config.Session.LanguageCode,
			"enable_partial_results": h.config.Session.EnablePartialResults,
			"grace_period":           h.config.Session.GracePeriod,
			"retry_budget":           h.config.Session.RetryBudget,
			"retry_backoff":          h.config.Session.RetryBackoff,
			"inter_chunk_delay_ms":   h.config.Session.InterChunkDelayMs,
		},
		"recording": map[string]interface{}{
			"enabled":   h.config.Recording.Enabled,
			"directory": h.config.Recording.Directory,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
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

	apiDoc := map[string]interface{}{
		"service": "FinChat Speech Streaming Client",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":          "API documentation",
			"GET /health":    "Client health check",
			"GET /session":   "Current session state",
			"GET /languages": "Supported transcription languages",
			"GET /config":    "Client configuration",
			"GET /metrics":   "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
