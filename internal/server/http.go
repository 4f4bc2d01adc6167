package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/DaviBaechtold/Sistema-carro-voz/internal/config"
	"github.com/DaviBaechtold/Sistema-carro-voz/internal/metrics"
	"github.com/DaviBaechtold/Sistema-carro-voz/internal/recognizer"
	"github.com/DaviBaechtold/Sistema-carro-voz/internal/supervisor"
	"github.com/DaviBaechtold/Sistema-carro-voz/internal/transport"
)

// Device is the part of the supervisor the status API reads and probes
type Device interface {
	Status() supervisor.Status
	RequestStatus() error
}

// RecognizerStats reports recognizer client counters
type RecognizerStats interface {
	GetStats() recognizer.ClientStats
}

// Options wires the HTTP server to the rest of the process
type Options struct {
	Config     *config.Config
	Device     Device
	Recognizer RecognizerStats // optional
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer // nil serves the default registry
	Logger     *slog.Logger
}

// HTTPServer provides HTTP API endpoints for monitoring and management
type HTTPServer struct {
	server  *http.Server
	router  *mux.Router
	logger  *slog.Logger
	config  *config.Config
	device  Device
	recog   RecognizerStats
	metrics *metrics.Metrics

	startTime time.Time
	mu        sync.Mutex
	listener  net.Listener
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, opts Options) *HTTPServer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	h := &HTTPServer{
		router:    mux.NewRouter(),
		logger:    logger,
		config:    opts.Config,
		device:    opts.Device,
		recog:     opts.Recognizer,
		metrics:   opts.Metrics,
		startTime: time.Now(),
	}
	h.setupRoutes(opts.Gatherer)

	h.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port)),
		Handler:      h.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(gatherer prometheus.Gatherer) {
	h.router.HandleFunc("/health", h.withMetrics("/health", h.handleHealth)).Methods(http.MethodGet)
	h.router.HandleFunc("/status", h.withMetrics("/status", h.handleStatus)).Methods(http.MethodGet)
	h.router.HandleFunc("/config", h.withMetrics("/config", h.handleConfig)).Methods(http.MethodGet)
	h.router.HandleFunc("/device/status", h.withMetrics("/device/status", h.handleDeviceStatus)).Methods(http.MethodPost)

	if gatherer == nil {
		h.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	} else {
		h.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	h.router.HandleFunc("/", h.withMetrics("/", h.handleRoot)).Methods(http.MethodGet)
}

// Handler exposes the router, mainly for tests
func (h *HTTPServer) Handler() http.Handler {
	return h.router
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(ww.statusCode), duration)

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

// Start binds the listen address and serves in the background
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	h.mu.Lock()
	h.listener = ln
	h.mu.Unlock()

	h.logger.Info("Starting HTTP API server",
		slog.String("address", ln.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Addr returns the bound address once Start succeeded
func (h *HTTPServer) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")
	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint. The process is healthy even
// while the peripheral is away; the connection state is reported alongside.
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := h.device.Status()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    "car-voice-assistant",
			"version": "1.0.0",
		},
		"peripheral": map[string]any{
			"state":     st.State,
			"connected": st.State.Connected(),
			"transport": st.Transport,
		},
	})
}

// handleStatus implements the /status endpoint
func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"timestamp":  time.Now().UTC(),
		"uptime":     time.Since(h.startTime).String(),
		"supervisor": h.device.Status(),
	}
	if h.recog != nil {
		resp["recognizer"] = h.recog.GetStats()
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if h.config == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}

	sanitized := *h.config
	if sanitized.Recognizer.APIKey != "" {
		sanitized.Recognizer.APIKey = "***"
	}

	// Round-trip through YAML so keys match the config file
	raw, err := yaml.Marshal(&sanitized)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	var out map[string]any
	if err := yaml.Unmarshal(raw, &out); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, out)
}

// handleDeviceStatus implements POST /device/status
func (h *HTTPServer) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	if err := h.device.RequestStatus(); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, supervisor.ErrNotReady) || errors.Is(err, supervisor.ErrClosed) || transport.IsConnectionError(err) {
			code = http.StatusServiceUnavailable
		}
		h.logger.Warn("STATUS request failed", slog.String("error", err.Error()))
		writeJSON(w, code, map[string]any{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"requested": true,
		"timestamp": time.Now().UTC(),
	})
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "Car Voice Assistant Audio Ingest",
		"version": "1.0.0",
		"endpoints": map[string]any{
			"GET /":               "API documentation",
			"GET /health":         "Service health check",
			"GET /status":         "Peripheral connection, session and recognizer status",
			"GET /config":         "Service configuration (secrets masked)",
			"GET /metrics":        "Prometheus metrics",
			"POST /device/status": "Ask the peripheral for a STATUS line",
		},
		"timestamp": time.Now().UTC(),
	})
}
