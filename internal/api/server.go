package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bruteguard/internal/config"
	"bruteguard/internal/logging"
	"bruteguard/internal/model"
	"bruteguard/internal/outcome"
)

// DetectRunner is satisfied by *engine.Detector.
type DetectRunner interface {
	Run(ctx context.Context, w model.DetectionWindow) (model.DetectionResult, error)
}

type Server struct {
	cfg      *config.Manager
	detector DetectRunner
	outcomes *outcome.Store
	logger   *slog.Logger
	version  string
	started  time.Time

	mu   sync.RWMutex
	last *lastRun
}

type lastRun struct {
	At         time.Time `json:"at"`
	Detections int       `json:"detections"`
	Alerted    bool      `json:"alerted"`
	Error      string    `json:"error,omitempty"`
}

type statusResponse struct {
	Status        string          `json:"status"`
	Time          string          `json:"time"`
	Uptime        string          `json:"uptime"`
	Version       string          `json:"version"`
	ConfigPath    string          `json:"config_path"`
	Transport     transportStatus `json:"transport"`
	Storage       storageStatus   `json:"storage"`
	Detection     detectionStatus `json:"detection"`
	Notifier      notifierStatus  `json:"notifier"`
	Outcomes      outcomeStatus   `json:"outcomes"`
	LastDetection *lastRun        `json:"last_detection,omitempty"`
}

type transportStatus struct {
	Driver string `json:"driver"`
	Topic  string `json:"topic"`
}

type storageStatus struct {
	Driver  string `json:"driver"`
	Dataset string `json:"dataset"`
	Table   string `json:"table"`
	Dedupe  bool   `json:"dedupe"`
}

type detectionStatus struct {
	WindowMinutes    int    `json:"window_minutes"`
	FailureThreshold int    `json:"failure_threshold"`
	EventType        string `json:"event_type"`
	Interval         string `json:"interval"`
	AlertCooldown    string `json:"alert_cooldown"`
}

type notifierStatus struct {
	Configured bool `json:"configured"`
	Recipients int  `json:"recipients"`
}

type outcomeStatus struct {
	Seen     int `json:"seen"`
	Failures int `json:"failures"`
}

// NewServer builds the admin API. detector and outcomes may be nil in
// processes that do not run them.
func NewServer(cfg *config.Manager, detector DetectRunner, outcomes *outcome.Store, logger *slog.Logger, version string) *Server {
	return &Server{
		cfg:      cfg,
		detector: detector,
		outcomes: outcomes,
		logger:   logging.OrDiscard(logger),
		version:  version,
		started:  time.Now().UTC(),
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/status", s.handleStatus)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Post("/api/detect", s.handleDetect)
	r.Get("/api/publish/failures", s.handleFailures)
	r.Post("/admin/clear", s.handleClear)
	return r
}

// Start serves the admin API until ctx ends. It returns nil when the API is
// disabled.
func Start(ctx context.Context, s *Server) *http.Server {
	current := s.cfg.Get().API
	if !current.Enabled {
		s.logger.Info("api disabled")
		return nil
	}
	s.logger.Info("api enabled", "addr", current.Addr)
	httpServer := &http.Server{Addr: current.Addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", "err", err)
		}
	}()
	return httpServer
}

// RecordResult stores the outcome of a detection run for /status.
func (s *Server) RecordResult(res model.DetectionResult, err error) {
	run := &lastRun{At: time.Now().UTC(), Detections: res.Detections, Alerted: res.AlertAttempted && res.AlertError == ""}
	if err != nil {
		run.Error = err.Error()
	}
	s.mu.Lock()
	s.last = run
	s.mu.Unlock()
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Uptime:     time.Since(s.started).Round(time.Second).String(),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Transport:  transportStatus{Driver: cfg.Transport.Driver, Topic: cfg.Transport.Topic},
		Storage: storageStatus{
			Driver:  cfg.Storage.Driver,
			Dataset: cfg.Storage.Dataset,
			Table:   cfg.Storage.Table,
			Dedupe:  cfg.Storage.Dedupe,
		},
		Detection: detectionStatus{
			WindowMinutes:    cfg.Detection.WindowMinutes,
			FailureThreshold: cfg.Detection.FailureThreshold,
			EventType:        cfg.Detection.EventType,
			Interval:         cfg.Detection.Interval.String(),
			AlertCooldown:    cfg.Detection.AlertCooldown.String(),
		},
		Notifier: notifierStatus{Configured: cfg.Notifier.Configured(), Recipients: len(cfg.Notifier.To)},
	}
	if s.outcomes != nil {
		resp.Outcomes = outcomeStatus{Seen: s.outcomes.Seen(), Failures: len(s.outcomes.List(0))}
	}
	s.mu.RLock()
	if s.last != nil {
		last := *s.last
		resp.LastDetection = &last
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, resp)
}

type detectRequest struct {
	WindowMinutes    int    `json:"windowMinutes"`
	FailureThreshold int    `json:"failureThreshold"`
	EventType        string `json:"eventType"`
}

type detectResponse struct {
	Detections int               `json:"detections"`
	Candidates []model.Candidate `json:"candidates"`
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	if s.detector == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "detection_disabled"})
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	var req detectRequest
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
			return
		}
	}
	cfg := s.cfg.Get().Detection
	window := model.DetectionWindow{
		WindowMinutes:    firstPositive(req.WindowMinutes, cfg.WindowMinutes),
		FailureThreshold: firstPositive(req.FailureThreshold, cfg.FailureThreshold),
		EventType:        firstNonEmpty(req.EventType, cfg.EventType),
	}

	ctx := r.Context()
	if cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.QueryTimeout)
		defer cancel()
	}
	res, err := s.detector.Run(ctx, window)
	s.RecordResult(res, err)
	if err != nil {
		s.logger.Error("detect request failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "detection_failed"})
		return
	}
	candidates := res.Candidates
	if candidates == nil {
		candidates = []model.Candidate{}
	}
	writeJSON(w, http.StatusOK, detectResponse{Detections: res.Detections, Candidates: candidates})
}

func (s *Server) handleFailures(w http.ResponseWriter, r *http.Request) {
	if s.outcomes == nil {
		writeJSON(w, http.StatusOK, map[string]any{"failures": []model.PublishOutcome{}, "count": 0})
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var list []model.PublishOutcome
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
			return
		}
		list = s.outcomes.Since(ts)
	} else {
		list = s.outcomes.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"failures": list,
		"count":    len(list),
	})
}

func (s *Server) handleClear(w http.ResponseWriter, _ *http.Request) {
	if s.outcomes != nil {
		s.outcomes.Clear()
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
