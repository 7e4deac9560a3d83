// Package gateway is the HTTP front door of the federation service.
//
// Routes:
//
//	POST /federate                 run a federation request
//	GET  /federations/{requestID}  read an archived result
//	GET  /healthz                  liveness
//	GET  /metrics                  Prometheus exposition
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pithecene-io/fedsearch/archive"
	"github.com/pithecene-io/fedsearch/federator"
	"github.com/pithecene-io/fedsearch/log"
	"github.com/pithecene-io/fedsearch/metrics"
	"github.com/pithecene-io/fedsearch/notify"
	"github.com/pithecene-io/fedsearch/types"
)

// Defaults.
const (
	DefaultAddr          = ":8080"
	DefaultShutdownGrace = 10 * time.Second
)

// Server serves federation requests over HTTP.
type Server struct {
	dispatcher *federator.Dispatcher
	hooks      *notify.Hooks
	archive    *archive.Archive
	metrics    *metrics.Collector
	logger     *log.Logger
	prepare    func(*types.FederationRequest)

	// pending tracks completion hooks still running after their response.
	pending sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithHooks sets the completion hooks run after each federation.
func WithHooks(h *notify.Hooks) Option {
	return func(s *Server) {
		s.hooks = h
		if h != nil {
			s.archive = h.Archive
		}
	}
}

// WithRequestDefaults sets a function that fills per-target settings into
// every decoded request before it is dispatched.
func WithRequestDefaults(fn func(*types.FederationRequest)) Option {
	return func(s *Server) { s.prepare = fn }
}

// WithMetrics sets the collector exposed on /metrics.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) { s.metrics = c }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a server dispatching through d.
func New(d *federator.Dispatcher, opts ...Option) *Server {
	s := &Server{dispatcher: d}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewCollector()
	}
	if s.logger == nil {
		s.logger = log.Nop()
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": types.Version})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
		metrics.Registry(s.metrics),
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	))
	r.Post("/federate", s.federate)
	r.Get("/federations/{requestID}", s.lookup)
	return r
}

func (s *Server) federate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	req, err := federator.DecodeRequest(r.Body)
	if err != nil {
		s.metrics.IncRequestRejected()
		writeError(w, http.StatusBadRequest, "invalid federation request", err.Error())
		return
	}
	if s.prepare != nil {
		s.prepare(&req)
	}

	status := http.StatusOK
	result, err := s.dispatcher.Dispatch(r.Context(), req)
	switch {
	case errors.Is(err, federator.ErrNoUsableTarget):
		status = http.StatusUnprocessableEntity
	case err != nil:
		writeError(w, http.StatusBadRequest, "federation failed", err.Error())
		return
	}

	s.complete(r.Context(), result, time.Since(start))
	w.Header().Set("X-Request-ID", result.RequestID)
	writeJSON(w, status, result)
}

// complete runs the hooks in the background so archive writes and notifier
// retries never delay the response.
func (s *Server) complete(ctx context.Context, result *types.FederationResult, elapsed time.Duration) {
	if s.hooks == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		s.hooks.Completed(ctx, result, elapsed)
	}()
}

// Wait blocks until the hooks of every answered request have finished.
func (s *Server) Wait() {
	s.pending.Wait()
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusNotFound, "archive not configured", "")
		return
	}
	requestID := chi.URLParam(r, "requestID")
	records, err := s.archive.Lookup(r.Context(), requestID, r.URL.Query().Get("target"))
	switch {
	case errors.Is(err, archive.ErrNotArchived):
		writeError(w, http.StatusNotFound, "federation not archived", requestID)
	case err != nil:
		s.logger.Error("archive lookup failed", map[string]any{
			"request_id": requestID,
			"error":      err.Error(),
		})
		writeError(w, http.StatusBadGateway, "archive lookup failed", err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]any{"requestId": requestID, "targets": records})
	}
}

// accessLog logs one line per HTTP request.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request", map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"bytes":       ww.BytesWritten(),
			"elapsed_ms":  time.Since(start).Milliseconds(),
			"http_req_id": middleware.GetReqID(r.Context()),
		})
	})
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", map[string]any{"addr": addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultShutdownGrace)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Wait()
	if err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, detail string) {
	resp := map[string]string{"error": message}
	if detail != "" {
		resp["detail"] = detail
	}
	writeJSON(w, status, resp)
}
