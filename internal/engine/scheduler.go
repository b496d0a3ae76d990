package engine

import (
	"context"
	"log/slog"
	"time"

	"bruteguard/internal/logging"
	"bruteguard/internal/model"
)

// Scheduler triggers Detector.Run on a fixed interval. The window is read
// on every tick so config reloads take effect.
type Scheduler struct {
	detector *Detector
	interval time.Duration
	window   func() model.DetectionWindow
	timeout  time.Duration
	logger   *slog.Logger
	onResult func(model.DetectionResult, error)
}

func NewScheduler(detector *Detector, interval, timeout time.Duration, window func() model.DetectionWindow, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		detector: detector,
		interval: interval,
		window:   window,
		timeout:  timeout,
		logger:   logging.OrDiscard(logger),
	}
}

// OnResult registers a callback invoked after every run.
func (s *Scheduler) OnResult(fn func(model.DetectionResult, error)) {
	s.onResult = fn
}

// Run blocks until ctx ends. The first pass runs immediately.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.tick(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	// AsOf stays zero so every tick evaluates the window ending now.
	res, err := s.detector.Run(runCtx, s.window())
	if err != nil {
		s.logger.Error("scheduled detection failed", "err", err)
	}
	if s.onResult != nil {
		s.onResult(res, err)
	}
}
