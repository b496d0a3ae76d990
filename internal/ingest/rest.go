package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"bruteguard/internal/logging"
	"bruteguard/internal/metrics"
)

type RESTServer struct {
	gateway      *Gateway
	maxBodyBytes int64
	limiter      *RateLimiter
	logger       *slog.Logger
}

type RouterOption func(*RESTServer)

// WithRateLimit throttles POST /api/logs per client IP. A nil limiter is a no-op.
func WithRateLimit(l *RateLimiter) RouterOption {
	return func(s *RESTServer) { s.limiter = l }
}

func NewRouter(g *Gateway, maxBodyBytes int64, logger *slog.Logger, opts ...RouterOption) http.Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	s := &RESTServer{gateway: g, maxBodyBytes: maxBodyBytes, logger: logging.OrDiscard(logger)}
	for _, opt := range opts {
		opt(s)
	}
	r := chi.NewRouter()
	r.Post("/api/logs", s.handleLogs)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

// StartREST serves handler on addr until ctx ends.
func StartREST(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) *http.Server {
	logger = logging.OrDiscard(logger)
	httpServer := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		logger.Info("http server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "addr", addr, "err", err)
		}
	}()
	return httpServer
}

func (s *RESTServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	ip := remoteHost(r.RemoteAddr)
	if !s.limiter.Allow(ip) {
		metrics.IngestRequestsTotal.WithLabelValues(StatusRateLimited).Inc()
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": StatusRateLimited})
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload_too_large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_payload"})
		return
	}

	res := s.gateway.Accept(r.Context(), body, RequestContext{
		UserAgent: r.UserAgent(),
		RequestIP: ip,
	})
	switch res.Status {
	case StatusQueued:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": StatusQueued})
	case StatusUnavailable:
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": StatusUnavailable})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": StatusInvalid, "details": res.Details})
	}
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
