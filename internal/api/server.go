package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/figure-exporter/internal/clock/system"
	"github.com/JakeFAU/figure-exporter/internal/component"
	"github.com/JakeFAU/figure-exporter/internal/export"
	"github.com/JakeFAU/figure-exporter/internal/lifecycle"
	"github.com/JakeFAU/figure-exporter/internal/metrics"
	"github.com/JakeFAU/figure-exporter/internal/pool"
	"github.com/JakeFAU/figure-exporter/internal/progress"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultRequestTimeout = 50 * time.Second
	DefaultBodyLimit      = int64(1e9)
	shutdownTimeout       = 10 * time.Second
)

// errSocketTimeout is the cause attached to the per-request deadline.
var errSocketTimeout = errors.New("client socket timeout")

// Config controls request handling.
type Config struct {
	RequestTimeout time.Duration
	BodyLimit      int64
	CORS           bool
	// APIKey, when non-empty, is required in X-API-Key on every request.
	APIKey string
	// RequestLimit closes Exhausted after that many exports; 0 disables.
	RequestLimit int
}

// Deps are the collaborators a Server needs. Table and Pool are required.
type Deps struct {
	Table   *component.Table
	Pool    *pool.Pool
	IDs     export.IDGenerator
	Clock   export.Clock
	Hasher  export.Hasher
	Metrics *metrics.Metrics
	Emitter progress.Emitter
	Logger  *zap.Logger
}

// Server routes export requests to the renderer pool.
type Server struct {
	router  chi.Router
	deps    Deps
	cfg     Config
	logger  *zap.Logger
	pending *lifecycle.Pending

	served        atomic.Int64
	exhausted     chan struct{}
	exhaustedOnce sync.Once
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg Config) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = DefaultBodyLimit
	}
	s := &Server{
		deps:      deps,
		cfg:       cfg,
		logger:    deps.Logger,
		pending:   &lifecycle.Pending{},
		exhausted: make(chan struct{}),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}
	if cfg.CORS {
		r.Use(corsMiddleware)
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Get("/status", s.status)
		r.Get(component.PingRoute, s.ping)
		r.Post(component.PingRoute, s.ping)
		for _, comp := range deps.Table.Components() {
			r.HandleFunc(comp.Route, s.exportHandler(comp))
		}
	})
	r.NotFound(s.notFound)
	r.MethodNotAllowed(s.notFound)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Pending reports exports currently in flight.
func (s *Server) Pending() int64 {
	return s.pending.Value()
}

// Exhausted is closed once RequestLimit exports have completed.
func (s *Server) Exhausted() <-chan struct{} {
	return s.exhausted
}

func (s *Server) countServed() {
	if s.cfg.RequestLimit <= 0 {
		return
	}
	if s.served.Add(1) >= int64(s.cfg.RequestLimit) {
		s.exhaustedOnce.Do(func() {
			s.logger.Info("request limit reached", zap.Int("limit", s.cfg.RequestLimit))
			close(s.exhausted)
		})
	}
}

// Serve accepts connections on ln until ctx ends, the request limit is
// reached or the listener faults. startup is reported in after-connect.
func (s *Server) Serve(ctx context.Context, ln net.Listener, startup time.Duration) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	port := 0
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	}
	s.deps.Emitter.Emit(progress.Event{
		TS:     s.deps.Clock.Now(),
		Stage:  progress.StageAfterConnect,
		Port:   port,
		Dur:    startup,
		Routes: s.deps.Table.Routes(),
	})
	s.logger.Info("export server listening",
		zap.Int("port", port),
		zap.Strings("routes", s.deps.Table.Routes()),
		zap.Duration("startup", startup),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	case <-s.exhausted:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if !s.deps.Pool.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "loading"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	rec := export.Record{
		Route:  r.URL.Path,
		Method: r.Method,
		Code:   export.CodeInvalidRoute,
		Msg:    export.StatusText(export.CodeInvalidRoute),
	}
	if s.deps.IDs != nil {
		rec.ID, _ = s.deps.IDs.NewID()
	}
	s.deps.Emitter.Emit(progress.FromRecord(progress.StageExportError, rec, s.deps.Clock.Now()))
	simpleReply(w, export.CodeInvalidRoute, rec.Msg)
}

// simpleReply writes a plain-text status reply.
func simpleReply(w http.ResponseWriter, code export.Code, msg string) {
	if msg == "" {
		msg = export.StatusText(code)
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(code.HTTPStatus())
	_, _ = w.Write([]byte(msg))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
