package engine

import (
	"context"
	"errors"
	"iter"
	"strings"
	"testing"
	"time"

	"bruteguard/internal/model"
	"bruteguard/internal/notify"
	"bruteguard/internal/storage"
)

var asOf = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return asOf }

func seed(t *testing.T, store storage.EventStore, user, event string, n int, at time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		ev := model.LogEvent{
			EventID:    user + event + at.String() + string(rune('a'+i)),
			CustomerID: "acme",
			UserID:     user,
			Event:      event,
			IP:         "203.0.113.7",
			Device:     "web",
			Metadata:   map[string]any{},
			ReceivedAt: at,
			EventTime:  at,
		}
		if err := store.Insert(context.Background(), ev); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
}

func newDetector(store storage.EventStore, n notify.Notifier, opts ...Option) *Detector {
	opts = append([]Option{WithClock(clock)}, opts...)
	return NewDetector(NewAggregator(store), n, nil, opts...)
}

func defaultWindow() model.DetectionWindow {
	return model.DetectionWindow{WindowMinutes: 5, FailureThreshold: 5, EventType: model.EventLoginFailed}
}

func TestThresholdIsInclusive(t *testing.T) {
	store := storage.NewMemory(false)
	seed(t, store, "below", model.EventLoginFailed, 4, asOf.Add(-time.Minute))
	seed(t, store, "at", model.EventLoginFailed, 5, asOf.Add(-time.Minute))
	rec := &notify.Recorder{}
	res, err := newDetector(store, rec).Run(context.Background(), defaultWindow())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Detections != 1 || res.Candidates[0].PrincipalKey.UserID != "at" || res.Candidates[0].FailedCount != 5 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestWindowBoundaryIncluded(t *testing.T) {
	store := storage.NewMemory(false)
	seed(t, store, "edge", model.EventLoginFailed, 5, asOf.Add(-5*time.Minute))
	seed(t, store, "stale", model.EventLoginFailed, 5, asOf.Add(-5*time.Minute-time.Nanosecond))
	res, err := newDetector(store, &notify.Recorder{}).Run(context.Background(), defaultWindow())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Detections != 1 || res.Candidates[0].PrincipalKey.UserID != "edge" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestAggregatorIsIdempotent(t *testing.T) {
	store := storage.NewMemory(false)
	seed(t, store, "u1", model.EventLoginFailed, 6, asOf)
	seed(t, store, "u2", model.EventLoginFailed, 9, asOf)
	agg := NewAggregator(store)
	w := defaultWindow()
	w.AsOf = asOf
	run := func() []model.Candidate {
		var out []model.Candidate
		for c, err := range agg.Detect(context.Background(), w) {
			if err != nil {
				t.Fatalf("detect: %v", err)
			}
			out = append(out, c)
		}
		return out
	}
	first, second := run(), run()
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("expected 2 candidates, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("runs differ at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestFiveFailuresRaiseOneAlert(t *testing.T) {
	store := storage.NewMemory(false)
	seed(t, store, "victim", model.EventLoginFailed, 5, asOf.Add(-30*time.Second))
	rec := &notify.Recorder{}
	res, err := newDetector(store, rec).Run(context.Background(), defaultWindow())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	sent := rec.Sent()
	if len(sent) != 1 || !res.AlertAttempted {
		t.Fatalf("expected exactly one alert, got %d", len(sent))
	}
	if sent[0].Subject != AlertSubject {
		t.Fatalf("subject: %q", sent[0].Subject)
	}
	want := "Brute-force suspicion: 1 principals exceeded 5 failed logins in 5m."
	if sent[0].Body != want {
		t.Fatalf("body: got %q want %q", sent[0].Body, want)
	}
}

func TestSuccessfulLoginsNeverAlert(t *testing.T) {
	store := storage.NewMemory(false)
	seed(t, store, "happy", model.EventLoginSuccess, 20, asOf.Add(-time.Minute))
	rec := &notify.Recorder{}
	res, err := newDetector(store, rec).Run(context.Background(), defaultWindow())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Detections != 0 || res.AlertAttempted || len(rec.Sent()) != 0 {
		t.Fatalf("expected no alert, got %+v", res)
	}
}

func TestGeneratorBurstScenario(t *testing.T) {
	store := storage.NewMemory(false)
	seed(t, store, "user-1", model.EventLoginFailed, 7, asOf.Add(-10*time.Second))
	seed(t, store, "user-1", model.EventLoginSuccess, 3, asOf.Add(-5*time.Second))
	rec := &notify.Recorder{}
	res, err := newDetector(store, rec).Run(context.Background(), defaultWindow())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Detections != 1 || res.Candidates[0].FailedCount != 7 || len(rec.Sent()) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestNotifierFailureIsSwallowed(t *testing.T) {
	store := storage.NewMemory(false)
	seed(t, store, "victim", model.EventLoginFailed, 5, asOf)
	rec := &notify.Recorder{Err: errors.New("smtp down")}
	res, err := newDetector(store, rec).Run(context.Background(), defaultWindow())
	if err != nil {
		t.Fatalf("notifier errors must not fail the run: %v", err)
	}
	if res.Detections != 1 || !res.AlertAttempted || !strings.Contains(res.AlertError, "smtp down") {
		t.Fatalf("unexpected result %+v", res)
	}
}

type brokenStore struct {
	*storage.MemoryStore
}

func (brokenStore) FailedLogins(context.Context, storage.Query) iter.Seq2[model.Candidate, error] {
	return func(yield func(model.Candidate, error) bool) {
		yield(model.Candidate{}, errors.New("connection refused"))
	}
}

func TestStorageFailureIsDetectionFailed(t *testing.T) {
	rec := &notify.Recorder{}
	_, err := newDetector(brokenStore{storage.NewMemory(false)}, rec).Run(context.Background(), defaultWindow())
	if !errors.Is(err, ErrDetectionFailed) {
		t.Fatalf("expected ErrDetectionFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("cause should be wrapped: %v", err)
	}
	if len(rec.Sent()) != 0 {
		t.Fatalf("no alert on failure")
	}
}

func TestDefaultsApplied(t *testing.T) {
	store := storage.NewMemory(false)
	seed(t, store, "victim", model.EventLoginFailed, 5, asOf)
	res, err := newDetector(store, &notify.Recorder{}).Run(context.Background(), model.DetectionWindow{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	w := res.Window
	if w.WindowMinutes != 5 || w.FailureThreshold != 5 || w.EventType != model.EventLoginFailed || !w.AsOf.Equal(asOf) {
		t.Fatalf("defaults not applied: %+v", w)
	}
	if res.Detections != 1 {
		t.Fatalf("expected detection with defaults, got %+v", res)
	}
}

func TestCooldownSuppressesRepeatAlertsOnly(t *testing.T) {
	store := storage.NewMemory(false)
	seed(t, store, "victim", model.EventLoginFailed, 5, asOf)
	rec := &notify.Recorder{}
	d := newDetector(store, rec, WithCooldown(NewMemoryCooldown(), time.Hour))

	if _, err := d.Run(context.Background(), defaultWindow()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	res, err := d.Run(context.Background(), defaultWindow())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(rec.Sent()) != 1 {
		t.Fatalf("cooldown should suppress the second alert, got %d", len(rec.Sent()))
	}
	if res.Detections != 1 || len(res.Candidates) != 1 || res.Suppressed != 1 || res.AlertAttempted {
		t.Fatalf("candidates must still be reported: %+v", res)
	}
}

func TestFailedAlertDoesNotStartCooldown(t *testing.T) {
	store := storage.NewMemory(false)
	seed(t, store, "victim", model.EventLoginFailed, 5, asOf)
	rec := &notify.Recorder{Err: errors.New("smtp down")}
	d := newDetector(store, rec, WithCooldown(NewMemoryCooldown(), time.Hour))

	first, err := d.Run(context.Background(), defaultWindow())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if !first.AlertAttempted || first.AlertError == "" {
		t.Fatalf("first send should fail: %+v", first)
	}

	rec.Err = nil
	second, err := d.Run(context.Background(), defaultWindow())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !second.AlertAttempted || second.Suppressed != 0 || second.AlertError != "" {
		t.Fatalf("alert should be retried after a failed send: %+v", second)
	}
	if len(rec.Sent()) != 2 {
		t.Fatalf("expected two send attempts, got %d", len(rec.Sent()))
	}

	third, _ := d.Run(context.Background(), defaultWindow())
	if third.AlertAttempted || third.Suppressed != 1 {
		t.Fatalf("delivered alert should start the cooldown: %+v", third)
	}
}

func TestMemoryCooldownRelease(t *testing.T) {
	c := NewMemoryCooldown()
	ctx := context.Background()
	c.Allow(ctx, "k", time.Hour)
	if err := c.Release(ctx, "k"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := c.Allow(ctx, "k", time.Hour); !ok {
		t.Fatalf("released key should be allowed again")
	}
}

func TestMemoryCooldownExpires(t *testing.T) {
	c := NewMemoryCooldown()
	now := asOf
	c.now = func() time.Time { return now }
	ctx := context.Background()
	if ok, _ := c.Allow(ctx, "k", time.Minute); !ok {
		t.Fatalf("first allow should pass")
	}
	if ok, _ := c.Allow(ctx, "k", time.Minute); ok {
		t.Fatalf("second allow within ttl should be blocked")
	}
	now = now.Add(time.Minute)
	if ok, _ := c.Allow(ctx, "k", time.Minute); !ok {
		t.Fatalf("allow after ttl should pass")
	}
	if ok, _ := c.Allow(ctx, "other", 0); !ok {
		t.Fatalf("zero ttl disables cooldown")
	}
}

func TestSchedulerRunsImmediately(t *testing.T) {
	store := storage.NewMemory(false)
	seed(t, store, "victim", model.EventLoginFailed, 5, asOf)
	d := newDetector(store, &notify.Recorder{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results := make(chan model.DetectionResult, 4)
	s := NewScheduler(d, time.Hour, time.Second, defaultWindow, nil)
	s.OnResult(func(res model.DetectionResult, err error) {
		if err == nil {
			results <- res
		}
	})
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	select {
	case res := <-results:
		if res.Detections != 1 {
			t.Fatalf("unexpected scheduled result %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("scheduler did not run")
	}
	cancel()
	<-done
}

func TestBuildAlertBody(t *testing.T) {
	a := BuildAlert(3, model.DetectionWindow{WindowMinutes: 10, FailureThreshold: 8})
	if a.Body != "Brute-force suspicion: 3 principals exceeded 8 failed logins in 10m." || a.CandidateCount != 3 {
		t.Fatalf("unexpected alert %+v", a)
	}
}
