// Package api exposes the HTTP interface for the snapshot gateway.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jusanz/snapgate/internal/config"
	"github.com/jusanz/snapgate/internal/crawlqueue"
	"github.com/jusanz/snapgate/internal/gateway"
	"github.com/jusanz/snapgate/internal/metrics"
	"github.com/jusanz/snapgate/internal/snapshot"
)

// Server wires HTTP handlers to the content store, crawl queue, and
// snapshot writer.
type Server struct {
	router   chi.Router
	store    gateway.ContentStore
	selector *crawlqueue.Selector
	marker   *crawlqueue.Marker
	writer   *snapshot.Writer
	logger   *zap.Logger
	cfg      config.Config
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	store gateway.ContentStore,
	selector *crawlqueue.Selector,
	marker *crawlqueue.Marker,
	writer *snapshot.Writer,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:    store,
		selector: selector,
		marker:   marker,
		writer:   writer,
		logger:   logger,
		cfg:      cfg,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/urls", s.createURL)
		r.Get("/urls", s.listURLs)
		r.Get("/url", s.nextURL)
		r.Post("/url/delete", s.deleteURL)
		r.Post("/snapshots", s.createSnapshot)
		r.Get("/snapshots", s.snapshotHistory)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(s.logger, w, http.StatusServiceUnavailable, "store unreachable")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}

type urlRequest struct {
	URL string `json:"url"`
}

type snapshotRequest struct {
	URL  string `json:"url"`
	HTML string `json:"html"`
}

func (s *Server) createURL(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(s.logger, w, http.StatusBadRequest, "missing url")
		return
	}
	if !gateway.IsAbsoluteWithHost(req.URL) {
		metrics.ObserveURLSubmission("rejected")
		writeError(s.logger, w, http.StatusBadRequest, "only absolute urls are allowed")
		return
	}
	url, err := gateway.NormalizeURL(req.URL)
	if err != nil {
		metrics.ObserveURLSubmission("rejected")
		writeError(s.logger, w, http.StatusBadRequest, "invalid url")
		return
	}
	created, err := s.store.InsertURL(r.Context(), url)
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "failed to store url")
		return
	}
	if !created {
		metrics.ObserveURLSubmission("exists")
		writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "exists"})
		return
	}
	metrics.ObserveURLSubmission("created")
	writeJSON(s.logger, w, http.StatusCreated, map[string]string{"status": "created"})
}

func (s *Server) listURLs(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListURLs(r.Context())
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "failed to list urls")
		return
	}
	metrics.SetTrackedURLs(len(entries))
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"data": entries})
}

func (s *Server) nextURL(w http.ResponseWriter, r *http.Request) {
	entry, err := s.selector.Next(r.Context())
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			writeError(s.logger, w, http.StatusNotFound, "no urls registered")
			return
		}
		writeError(s.logger, w, http.StatusInternalServerError, "failed to select url")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"data": entry})
}

func (s *Server) deleteURL(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(s.logger, w, http.StatusBadRequest, "missing url")
		return
	}
	url, err := gateway.NormalizeURL(req.URL)
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid url")
		return
	}
	if err := s.store.DeleteURL(r.Context(), url); err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "failed to delete url")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) createSnapshot(w http.ResponseWriter, r *http.Request) {
	var req snapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(s.logger, w, http.StatusBadRequest, "missing url")
		return
	}
	if !gateway.IsAbsoluteWithHost(req.URL) {
		writeError(s.logger, w, http.StatusBadRequest, "only absolute urls are allowed")
		return
	}
	url, err := gateway.NormalizeURL(req.URL)
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid url")
		return
	}
	if err := s.marker.MarkCrawled(r.Context(), url); err != nil {
		writeError(s.logger, w, statusFromError(err), "failed to mark url crawled")
		return
	}
	outcome, err := s.writer.Record(r.Context(), url, []byte(req.HTML))
	if err != nil {
		writeError(s.logger, w, statusFromError(err), "failed to record snapshot")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}

func (s *Server) snapshotHistory(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		writeError(s.logger, w, http.StatusBadRequest, "missing url query parameter")
		return
	}
	url, err := gateway.NormalizeURL(raw)
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid url")
		return
	}
	snaps, err := s.store.ListSnapshots(r.Context(), url)
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "failed to list snapshots")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"data": snaps})
}

func statusFromError(err error) int {
	switch {
	case errors.Is(err, gateway.ErrInvalidURL):
		return http.StatusBadRequest
	case errors.Is(err, gateway.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			elapsed := time.Since(start)
			metrics.ObserveHTTPRequest(r.Method, routePattern(r), ww.status, elapsed)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", elapsed.Milliseconds()),
			)
		})
	}
}

// routePattern returns the matched chi pattern so the metrics label
// stays bounded; unmatched requests collapse into one bucket.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(logger, w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(zap.NewNop(), w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
