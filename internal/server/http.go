// Package server implements the HTTP diagnostics surface named in
// SPEC_FULL.md §10: health, a live pipeline snapshot, sanitized config,
// and Prometheus metrics. Route and middleware shape (withMetrics wrapping
// a plain http.HandlerFunc, a responseWriter that captures the status
// code) is carried from the teacher's own HTTP server.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/opus-rtp-pipeline/internal/config"
	"github.com/skypro1111/opus-rtp-pipeline/internal/metrics"
)

// Snapshot is a point-in-time view of the pipeline's running counters,
// supplied by cmd/server from whichever worker handles it has started.
type Snapshot struct {
	PacketsReceived uint64 `json:"packets_received"`
	PacketsDropped  uint64 `json:"packets_dropped"`

	FramesDecoded uint64 `json:"frames_decoded"`
	FramesPLC     uint64 `json:"frames_plc"`
	FramesFEC     uint64 `json:"frames_fec"`
	DecodeErrors  uint64 `json:"decode_errors"`

	FramesEncoded  uint64 `json:"frames_encoded"`
	EncodeErrors   uint64 `json:"encode_errors"`
	EncoderFlushes uint64 `json:"encoder_flushes"`

	PacketsWritten  uint64 `json:"packets_written"`
	RegressionDrops uint64 `json:"producer_regression_drops"`
	Rebases         uint64 `json:"producer_rebases"`
}

// SnapshotFunc returns the pipeline's current Snapshot. Supplied by the
// host process at construction time so this package never imports the
// root opusbridge package (which itself depends on nothing in server,
// but keeping the dependency one-directional mirrors how the teacher
// keeps server independent of its stream manager's internals beyond the
// narrow accessor surface it calls).
type SnapshotFunc func() Snapshot

// HTTPServer provides HTTP diagnostics endpoints.
type HTTPServer struct {
	server    *http.Server
	logger    *slog.Logger
	config    *config.Config
	snapshot  SnapshotFunc
	metrics   *metrics.Metrics
	startTime time.Time
}

// HTTPServerConfig contains HTTP server configuration.
type HTTPServerConfig struct {
	Address string
	Port    int
	Enabled bool
}

// NewHTTPServer creates a new HTTP diagnostics server.
func NewHTTPServer(cfg HTTPServerConfig, logger *slog.Logger, appConfig *config.Config, snapshot SnapshotFunc, m *metrics.Metrics) *HTTPServer {
	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		snapshot:  snapshot,
		metrics:   m,
		startTime: time.Now(),
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

func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/pipeline", h.withMetrics("/pipeline", h.handlePipeline))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with Prometheus request metrics.
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(start).Seconds()
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

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start begins serving in the background.
func (h *HTTPServer) Start() error {
	h.logger.Info("starting HTTP diagnostics server", slog.String("address", h.server.Addr))
	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("http server error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Stop gracefully shuts the HTTP server down.
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("stopping HTTP diagnostics server")
	return h.server.Shutdown(ctx)
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
	}
	writeJSON(w, resp)
}

func (h *HTTPServer) handlePipeline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, h.snapshot())
}

func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sanitized := map[string]any{
		"receive": map[string]any{
			"tick_interval_us": h.config.Receive.TickIntervalUs,
		},
		"decode": h.config.Decode,
		"encode": map[string]any{
			"input_sample_rate":   h.config.Encode.InputSampleRate,
			"bitrate":             h.config.Encode.Bitrate,
			"enable_fec":          h.config.Encode.EnableFec,
			"packet_loss_percent": h.config.Encode.PacketLossPercent,
		},
		"produce": map[string]any{
			"url":          h.config.Produce.URL,
			"ssrc":         h.config.Produce.SSRC,
			"payload_type": h.config.Produce.PayloadType,
			"crypto_suite": h.config.Produce.CryptoSuite,
			// key_base64 intentionally omitted
		},
		"logging": h.config.Logging,
	}
	writeJSON(w, sanitized)
}

func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, map[string]any{
		"service": "opus-rtp-pipeline",
		"endpoints": map[string]string{
			"GET /health":   "liveness check",
			"GET /pipeline": "per-worker packet / drop / PLC / FEC / encode / producer counters",
			"GET /config":   "sanitized configuration",
			"GET /metrics":  "Prometheus metrics",
		},
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
