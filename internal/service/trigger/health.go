package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dagucloud/blobtrigger/internal/cmn/logger"
	"github.com/dagucloud/blobtrigger/internal/cmn/logger/tag"
	"github.com/dagucloud/blobtrigger/internal/core/watermark"
)

// StatusProvider exposes the state served by the health server.
type StatusProvider interface {
	Status() Status
	Containers() []watermark.Entry
}

// HealthServer serves liveness, metrics and the watermark snapshot.
type HealthServer struct {
	server   *http.Server
	port     int
	listener net.Listener
	provider StatusProvider
	gatherer prometheus.Gatherer
	jsonLogs bool
}

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status string `json:"status"`
	Poll   Status `json:"poll"`
}

// HealthOption configures a HealthServer.
type HealthOption func(*HealthServer)

// WithHealthListener serves on a pre-bound listener instead of the port.
func WithHealthListener(l net.Listener) HealthOption {
	return func(h *HealthServer) {
		h.listener = l
	}
}

// WithJSONRequestLogs logs requests as JSON.
func WithJSONRequestLogs(enabled bool) HealthOption {
	return func(h *HealthServer) {
		h.jsonLogs = enabled
	}
}

// NewHealthServer creates a health server on port. Port 0 without a
// listener disables it.
func NewHealthServer(port int, provider StatusProvider, gatherer prometheus.Gatherer, opts ...HealthOption) *HealthServer {
	h := &HealthServer{
		port:     port,
		provider: provider,
		gatherer: gatherer,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handler returns the router of the health server.
func (h *HealthServer) Handler() http.Handler {
	requestLogger := httplog.NewLogger("health", httplog.Options{
		LogLevel:         slog.LevelDebug,
		JSON:             h.jsonLogs,
		Concise:          true,
		MessageFieldName: "msg",
		QuietDownRoutes:  []string{"/health", "/metrics"},
		QuietDownPeriod:  time.Minute,
	})

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(httplog.RequestLogger(requestLogger))
	router.Use(middleware.Recoverer)

	router.Get("/health", h.healthHandler)
	router.Get("/containers", h.containersHandler)
	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	return router
}

// Start starts serving in the background.
func (h *HealthServer) Start(ctx context.Context) error {
	if h.port == 0 && h.listener == nil {
		logger.Info(ctx, "Health server disabled (port=0)")
		return nil
	}

	listener := h.listener
	if listener == nil {
		var err error
		listener, err = net.Listen("tcp", fmt.Sprintf(":%d", h.port))
		if err != nil {
			return fmt.Errorf("failed to listen on port %d: %w", h.port, err)
		}
	}

	h.server = &http.Server{
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info(ctx, "Starting health server", tag.Endpoint(listener.Addr().String()))
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "Health server error", tag.Error(err))
		}
	}()

	return nil
}

// Stop gracefully stops the server.
func (h *HealthServer) Stop(ctx context.Context) error {
	if h.server == nil {
		return nil
	}

	logger.Info(ctx, "Stopping health server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := h.server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Failed to shutdown health server", tag.Error(err))
		return err
	}
	return nil
}

func (h *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := h.provider.Status()
	response := HealthResponse{Status: "healthy", Poll: status}
	code := http.StatusOK
	if status.ConsecutiveFailures > 0 {
		response.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(r.Context(), w, code, response)
}

func (h *HealthServer) containersHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, h.provider.Containers())
}

func writeJSON(ctx context.Context, w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error(ctx, "Failed to encode response", tag.Error(err))
	}
}
