package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/flashbots/inbox-arena/metrics"
	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/atomic"
)

// RouteRegistrar mounts an API on the shared router.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// HTTPServerConfig configures the API listener and its metrics sidecar.
type HTTPServerConfig struct {
	ListenAddr string
	Log        *slog.Logger

	// MetricsAddr serves /metrics on its own listener. Empty disables it.
	MetricsAddr string

	// EnablePprof mounts /debug/pprof on the API router.
	EnablePprof bool

	// DrainDuration is how long Shutdown reports not-ready before it stops
	// accepting connections.
	DrainDuration time.Duration

	GracefulShutdownDuration time.Duration
	ReadTimeout              time.Duration

	// WriteTimeout must stay zero while live streams are served: it would cut
	// every stream after that long.
	WriteTimeout time.Duration
}

// BaseServer wraps the arena API with operational endpoints, request logging
// and a separate metrics listener.
type BaseServer struct {
	cfg   *HTTPServerConfig
	log   *slog.Logger
	ready atomic.Bool

	api     *http.Server
	sidecar *metrics.MetricsServer
}

// Handler returns the full router, for tests and embedding.
func (srv *BaseServer) Handler() http.Handler {
	return srv.api.Handler
}

// IsReady reports whether the server is accepting traffic.
func (srv *BaseServer) IsReady() bool {
	return srv.ready.Load()
}

// New creates a BaseServer. Every registrar adds its routes to the shared router.
func New(cfg *HTTPServerConfig, routeRegistrars ...RouteRegistrar) (*BaseServer, error) {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	sidecar, err := metrics.New(cfg.MetricsAddr)
	if err != nil {
		return nil, err
	}

	srv := &BaseServer{cfg: cfg, log: log, sidecar: sidecar}
	srv.ready.Store(true)
	srv.api = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.createRouter(routeRegistrars),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
	return srv, nil
}

// createRouter mounts the registrars behind the common middleware and adds the
// operational endpoints.
func (srv *BaseServer) createRouter(routeRegistrars []RouteRegistrar) http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	for _, r := range routeRegistrars {
		r.RegisterRoutes(mux)
	}

	ops := mux.With(srv.httpLogger)
	ops.Get("/livez", srv.handleLivenessCheck)
	ops.Get("/readyz", srv.handleReadinessCheck)
	ops.Get("/drain", srv.setReady(false))
	ops.Get("/undrain", srv.setReady(true))

	if srv.cfg.EnablePprof {
		srv.log.Info("mounting pprof", "path", "/debug/pprof")
		mux.Mount("/debug", middleware.Profiler())
	}

	return mux
}

func (srv *BaseServer) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(srv.log, next)
}

// writeStatus answers the operational endpoints with {"status": status}.
func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, "{\"status\":%q}\n", status)
}

func (srv *BaseServer) handleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, "alive")
}

// handleReadinessCheck fails while the server is draining.
func (srv *BaseServer) handleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if !srv.ready.Load() {
		writeStatus(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeStatus(w, http.StatusOK, "ready")
}

// setReady flips readiness. Draining stops load balancers from routing new
// participants here while running sessions and live streams carry on.
func (srv *BaseServer) setReady(ready bool) http.HandlerFunc {
	now, already := "draining", "already draining"
	if ready {
		now, already = "ready", "already ready"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if srv.ready.Swap(ready) == ready {
			writeStatus(w, http.StatusOK, already)
			return
		}
		srv.log.Info("readiness changed", "ready", ready)
		writeStatus(w, http.StatusOK, now)
	}
}

// RunInBackground starts the HTTP and metrics servers in separate goroutines.
func (srv *BaseServer) RunInBackground() {
	if srv.cfg.MetricsAddr != "" {
		go srv.serve("metrics", srv.cfg.MetricsAddr, srv.sidecar.ListenAndServe)
	}
	go srv.serve("http", srv.cfg.ListenAddr, srv.api.ListenAndServe)
}

func (srv *BaseServer) serve(name, addr string, listen func() error) {
	srv.log.Info("listening", "server", name, "addr", addr)
	if err := listen(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		srv.log.Error("server failed", "server", name, "err", err)
	}
}

// Shutdown drains for DrainDuration, then stops the HTTP and metrics
// servers, each within GracefulShutdownDuration.
func (srv *BaseServer) Shutdown() {
	if srv.ready.Swap(false) && srv.cfg.DrainDuration > 0 {
		srv.log.Info("draining before shutdown", "duration", srv.cfg.DrainDuration)
		time.Sleep(srv.cfg.DrainDuration)
	}

	srv.stop("http", srv.api.Shutdown)
	if srv.cfg.MetricsAddr != "" {
		srv.stop("metrics", srv.sidecar.Shutdown)
	}
}

func (srv *BaseServer) stop(name string, shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		srv.log.Error("graceful shutdown failed", "server", name, "err", err)
		return
	}
	srv.log.Info("server stopped", "server", name)
}
