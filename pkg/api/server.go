// Package api provides the HTTP surface of a mashup page: widget actions,
// resource snapshots, the event journal and live event streams.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/odvcencio/mashup/pkg/bus"
	mashuperrors "github.com/odvcencio/mashup/pkg/errors"
	"github.com/odvcencio/mashup/pkg/journal"
	"github.com/odvcencio/mashup/pkg/logging"
	"github.com/odvcencio/mashup/pkg/resource"
	"github.com/odvcencio/mashup/pkg/telemetry"
	"github.com/odvcencio/mashup/pkg/widget/dataprovider"
	"github.com/odvcencio/mashup/pkg/widget/tableeditor"
)

// ServerConfig configures the API server. Widget, store and journal
// fields are optional; their routes answer 503 when unset.
type ServerConfig struct {
	// Address to listen on (default: 127.0.0.1:8080)
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Transport carries the page's events for the stream endpoints.
	Transport bus.MessageBus

	Provider  *dataprovider.Widget
	Editor    *tableeditor.Widget
	Resources *resource.Store
	Journal   *journal.Journal

	// DataDir is served under /data/.
	DataDir string

	// UseRate and UseBurst limit item selection. A zero rate is unlimited.
	UseRate  float64
	UseBurst int

	Logger *logging.Logger
}

// Server is the mashup API server.
type Server struct {
	cfg        ServerConfig
	logger     *logging.Logger
	useLimiter *rate.Limiter
	router     chi.Router
	httpServer *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}

	limit := rate.Inf
	if cfg.UseRate > 0 {
		limit = rate.Limit(cfg.UseRate)
	}
	burst := cfg.UseBurst
	if burst <= 0 {
		burst = 1
	}

	s := &Server{
		cfg:        cfg,
		logger:     cfg.Logger,
		useLimiter: rate.NewLimiter(limit, burst),
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(telemetry.Middleware)
	router.Use(s.loggingMiddleware)
	router.Use(securityHeadersMiddleware)

	router.Get("/healthz", s.handleHealthz)
	router.Method(http.MethodGet, "/metrics", telemetry.MetricsHandler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/items", s.handleListItems)
		r.Post("/items/{index}/use", s.handleUseItem)
		r.Get("/selection", s.handleSelection)

		r.Get("/table", s.handleGetTable)
		r.Put("/table/cells", s.handlePutCells)

		r.Get("/resources", s.handleListResources)
		r.Get("/resources/{name}", s.handleGetResource)

		r.Get("/events", s.handleListEvents)
		r.Get("/stream", s.handleStream)
		r.Get("/ws", s.handleWebSocket)
	})

	if cfg.DataDir != "" {
		router.Handle("/data/*", http.StripPrefix("/data/", http.FileServer(http.Dir(cfg.DataDir))))
	}

	s.router = router
	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called. It returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	s.logger.Info(logging.CategoryServer, "listening", s.cfg.Address, nil)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug(logging.CategoryServer, "request", r.Method+" "+r.URL.Path, map[string]any{
			"remote":   r.RemoteAddr,
			"duration": time.Since(start).String(),
		})
	})
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()
		headers.Set("X-Content-Type-Options", "nosniff")
		headers.Set("X-Frame-Options", "DENY")
		headers.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Helpers
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeErr maps structured error codes to HTTP statuses.
func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch mashuperrors.GetCode(err) {
	case mashuperrors.ErrCodeInvalidInput:
		status = http.StatusBadRequest
	case mashuperrors.ErrCodeResourceUnknown:
		status = http.StatusConflict
	case mashuperrors.ErrCodeBusPublish:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  string(mashuperrors.GetCode(err)),
	})
}
