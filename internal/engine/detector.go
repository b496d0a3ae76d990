package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bruteguard/internal/logging"
	"bruteguard/internal/metrics"
	"bruteguard/internal/model"
	"bruteguard/internal/notify"
)

// ErrDetectionFailed wraps any aggregation or storage failure during Run.
var ErrDetectionFailed = errors.New("detection failed")

const AlertSubject = "Security Alert: Possible brute-force"

type Detector struct {
	agg         *Aggregator
	notifier    notify.Notifier
	cooldown    Cooldown
	cooldownTTL time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

type Option func(*Detector)

// WithCooldown suppresses repeat alerts for a principal within ttl. The
// returned candidate list is never filtered.
func WithCooldown(c Cooldown, ttl time.Duration) Option {
	return func(d *Detector) {
		d.cooldown = c
		d.cooldownTTL = ttl
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		d.now = now
		d.agg.now = now
	}
}

func NewDetector(agg *Aggregator, notifier notify.Notifier, logger *slog.Logger, opts ...Option) *Detector {
	d := &Detector{
		agg:      agg,
		notifier: notifier,
		logger:   logging.OrDiscard(logger),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// BuildAlert renders the aggregate alert for n principals over threshold.
func BuildAlert(n int, w model.DetectionWindow) model.Alert {
	return model.Alert{
		Subject:        AlertSubject,
		Body:           fmt.Sprintf("Brute-force suspicion: %d principals exceeded %d failed logins in %dm.", n, w.FailureThreshold, w.WindowMinutes),
		CandidateCount: n,
	}
}

// Run performs one detection pass. A notifier failure is logged and
// reported in the result but does not fail the run.
func (d *Detector) Run(ctx context.Context, w model.DetectionWindow) (model.DetectionResult, error) {
	w = w.WithDefaults(d.now())
	result := model.DetectionResult{Window: w}
	started := time.Now()
	defer func() { metrics.DetectionDuration.Observe(time.Since(started).Seconds()) }()

	candidates := make([]model.Candidate, 0)
	for c, err := range d.agg.Detect(ctx, w) {
		if err != nil {
			metrics.DetectionRunsTotal.WithLabelValues("failed").Inc()
			d.logger.Error("detection query failed", "event_type", w.EventType, "err", err)
			return result, fmt.Errorf("%w: %w", ErrDetectionFailed, err)
		}
		candidates = append(candidates, c)
	}
	metrics.DetectionRunsTotal.WithLabelValues("ok").Inc()
	metrics.DetectionCandidates.Set(float64(len(candidates)))

	result.Detections = len(candidates)
	result.Candidates = candidates
	if len(candidates) == 0 {
		d.logger.Info("no brute-force candidates",
			"window_minutes", w.WindowMinutes,
			"failure_threshold", w.FailureThreshold,
		)
		return result, nil
	}

	taken := d.unsuppressed(ctx, candidates)
	result.Suppressed = len(candidates) - len(taken)
	if len(taken) == 0 {
		metrics.AlertsTotal.WithLabelValues("suppressed").Inc()
		d.logger.Info("alert suppressed by cooldown", "detections", result.Detections)
		return result, nil
	}

	alert := BuildAlert(result.Detections, w)
	result.AlertAttempted = true
	if err := d.notifier.Send(ctx, alert.Subject, alert.Body); err != nil {
		metrics.AlertsTotal.WithLabelValues("failed").Inc()
		result.AlertError = err.Error()
		d.logger.Error("alert delivery failed", "detections", result.Detections, "err", err)
		d.release(ctx, taken)
		return result, nil
	}
	metrics.AlertsTotal.WithLabelValues("sent").Inc()
	d.logger.Warn("brute-force alert sent",
		"detections", result.Detections,
		"window_minutes", w.WindowMinutes,
		"failure_threshold", w.FailureThreshold,
	)
	return result, nil
}

// unsuppressed returns the keys of candidates outside their cooldown. A
// cooldown backend error lets the candidate through.
func (d *Detector) unsuppressed(ctx context.Context, candidates []model.Candidate) []string {
	keys := make([]string, 0, len(candidates))
	for _, c := range candidates {
		key := c.PrincipalKey.String()
		if d.cooldown == nil || d.cooldownTTL <= 0 {
			keys = append(keys, key)
			continue
		}
		ok, err := d.cooldown.Allow(ctx, key, d.cooldownTTL)
		if err != nil {
			d.logger.Warn("cooldown check failed", "principal", key, "err", err)
			ok = true
		}
		if ok {
			keys = append(keys, key)
		}
	}
	return keys
}

// release returns cooldown keys after a failed send so the alert is retried
// on the next run.
func (d *Detector) release(ctx context.Context, keys []string) {
	if d.cooldown == nil || d.cooldownTTL <= 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, key := range keys {
		if err := d.cooldown.Release(ctx, key); err != nil {
			d.logger.Warn("cooldown release failed", "principal", key, "err", err)
		}
	}
}
