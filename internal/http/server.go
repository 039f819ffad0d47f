// Package http exposes the cost ledger over a JSON API. Handlers hold no
// domain logic; they parse transport input, call into the core, and map
// the error taxonomy onto status codes.
package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"costbook/internal/rates"
	"costbook/internal/report"
	"costbook/internal/services"
)

type Server struct {
	http.Server

	costs   *services.CostService
	engine  *report.Engine
	rates   *rates.Provider
	limiter *limiter
}

type ServerOption func(*Server)

// WithRateLimit caps each client address at perMinute API requests.
// Zero or negative disables limiting.
func WithRateLimit(perMinute int) ServerOption {
	return func(s *Server) {
		if perMinute > 0 {
			s.limiter = newLimiter(perMinute)
		}
	}
}

func NewServer(addr string, costs *services.CostService, engine *report.Engine, provider *rates.Provider, opts ...ServerOption) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		costs:  costs,
		engine: engine,
		rates:  provider,
	}
	for _, opt := range opts {
		opt(s)
	}

	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/readyz", handleReady)
	mux.HandleFunc("/api/costs", s.withRequestLog(s.handleCosts))
	mux.HandleFunc("/api/report", s.withRequestLog(s.handleReport))
	mux.HandleFunc("/api/charts/categories", s.withRequestLog(s.handleCategoryChart))
	mux.HandleFunc("/api/charts/months", s.withRequestLog(s.handleMonthChart))
	mux.HandleFunc("/api/settings/rates-url", s.withRequestLog(s.handleRatesURL))

	return s
}

// withRequestLog tags each request with an id, enforces the rate limit
// when one is configured, and logs duration and status.
func (s *Server) withRequestLog(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := newRequestID()

		if s.limiter != nil && !s.limiter.allow(clientIP(r)) {
			slog.WarnContext(r.Context(), "Rate limit exceeded",
				"request_id", requestID, "client_ip", clientIP(r), "path", r.URL.Path)
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next(rec, r)

		slog.InfoContext(r.Context(), "Request handled",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	}
}

func newRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b)
}

// Shutdown stops the limiter sweep before draining connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.stop()
	}
	return s.Server.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
