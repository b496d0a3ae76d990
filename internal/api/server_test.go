package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"bruteguard/internal/config"
	"bruteguard/internal/model"
	"bruteguard/internal/outcome"
)

type fakeDetector struct {
	got model.DetectionWindow
	res model.DetectionResult
	err error
}

func (f *fakeDetector) Run(_ context.Context, w model.DetectionWindow) (model.DetectionResult, error) {
	f.got = w
	return f.res, f.err
}

func newTestServer(det DetectRunner, outcomes *outcome.Store) *Server {
	return NewServer(config.NewStaticManager(config.DefaultConfig()), det, outcomes, nil, "test")
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestDetectUsesConfigDefaults(t *testing.T) {
	det := &fakeDetector{}
	rr := do(t, newTestServer(det, nil), http.MethodPost, "/api/detect", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: %d", rr.Code)
	}
	if det.got.WindowMinutes != 5 || det.got.FailureThreshold != 5 || det.got.EventType != model.EventLoginFailed {
		t.Fatalf("unexpected window %+v", det.got)
	}
	var body detectResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Detections != 0 || body.Candidates == nil {
		t.Fatalf("expected empty candidate list, got %s", rr.Body.String())
	}
}

func TestDetectOverridesAndCandidates(t *testing.T) {
	cand := model.Candidate{PrincipalKey: model.PrincipalKey{CustomerID: "c", UserID: "u", IP: "ip"}, FailedCount: 9, LastEventTime: time.Now().UTC()}
	det := &fakeDetector{res: model.DetectionResult{Detections: 1, Candidates: []model.Candidate{cand}}}
	rr := do(t, newTestServer(det, nil), http.MethodPost, "/api/detect", `{"windowMinutes":15,"failureThreshold":8,"eventType":"mfa_failed"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: %d", rr.Code)
	}
	if det.got.WindowMinutes != 15 || det.got.FailureThreshold != 8 || det.got.EventType != "mfa_failed" {
		t.Fatalf("overrides ignored: %+v", det.got)
	}
	var body detectResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &body)
	if body.Detections != 1 || len(body.Candidates) != 1 || body.Candidates[0].FailedCount != 9 {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestDetectFailureIs500(t *testing.T) {
	s := newTestServer(&fakeDetector{err: errors.New("detection failed: db gone")}, nil)
	rr := do(t, s, http.MethodPost, "/api/detect", "{}")
	if rr.Code != http.StatusInternalServerError || !strings.Contains(rr.Body.String(), "detection_failed") {
		t.Fatalf("unexpected response %d %s", rr.Code, rr.Body.String())
	}
	status := do(t, s, http.MethodGet, "/status", "")
	if !strings.Contains(status.Body.String(), "db gone") {
		t.Fatalf("status should report the last failure: %s", status.Body.String())
	}
}

func TestDetectRejectsBadBody(t *testing.T) {
	rr := do(t, newTestServer(&fakeDetector{}, nil), http.MethodPost, "/api/detect", "{not json")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: %d", rr.Code)
	}
}

func TestPublishFailuresEndpoint(t *testing.T) {
	store := outcome.NewStore(10)
	store.Add(model.PublishOutcome{EventID: "e1", Topic: "security-logs", Error: "timeout", At: time.Now().UTC()})
	s := newTestServer(nil, store)
	rr := do(t, s, http.MethodGet, "/api/publish/failures?limit=5", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"e1"`) {
		t.Fatalf("unexpected response %d %s", rr.Code, rr.Body.String())
	}
	bad := do(t, s, http.MethodGet, "/api/publish/failures?since=yesterday", "")
	if bad.Code != http.StatusBadRequest || !strings.Contains(bad.Body.String(), `"invalid_request"`) {
		t.Fatalf("bad since should be rejected with a JSON error, got %d %q", bad.Code, bad.Body.String())
	}
	do(t, s, http.MethodPost, "/admin/clear", "")
	if len(store.List(0)) != 0 {
		t.Fatalf("clear should empty the store")
	}
}

func TestStatusAndMetrics(t *testing.T) {
	s := newTestServer(nil, outcome.NewStore(1))
	rr := do(t, s, http.MethodGet, "/status", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: %d", rr.Code)
	}
	var body statusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Version != "test" || body.Storage.Driver != "sqlite" {
		t.Fatalf("unexpected status %+v", body)
	}
	m := do(t, s, http.MethodGet, "/metrics", "")
	if m.Code != http.StatusOK || !strings.Contains(m.Body.String(), "go_goroutines") {
		t.Fatalf("metrics endpoint: %d", m.Code)
	}
}

func TestDetectDisabledWithoutDetector(t *testing.T) {
	rr := do(t, newTestServer(nil, nil), http.MethodPost, "/api/detect", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status: %d", rr.Code)
	}
}
