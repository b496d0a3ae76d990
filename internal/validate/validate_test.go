package validate

import (
	"errors"
	"testing"
	"time"
)

func mustValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New()
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}
	return v
}

func TestValidMinimalPayloadDefaults(t *testing.T) {
	v := mustValidator(t)
	ev, err := v.DecodeAndValidate([]byte(`{"customerId":"c1","userId":"u1","event":"login_failed","ip":"1.2.3.4","device":"web"}`))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if ev.CustomerID != "c1" || ev.UserID != "u1" || ev.Event != "login_failed" || ev.IP != "1.2.3.4" || ev.Device != "web" {
		t.Fatalf("fields not mapped: %+v", ev)
	}
	if ev.Metadata == nil {
		t.Fatalf("metadata should default to an empty map")
	}
	if !ev.EventTime.IsZero() {
		t.Fatalf("eventTime should be left for the gateway, got %s", ev.EventTime)
	}
	if ev.UserAgent != "" || ev.RequestIP != "" {
		t.Fatalf("transport fields must not come from the payload")
	}
}

func TestValidFullPayload(t *testing.T) {
	v := mustValidator(t)
	body := `{"customerId":"c1","userId":"u1","event":"login_failed","ip":"1.2.3.4","device":"web",
		"metadata":{"attempt":3,"ratio":0.5,"tags":["a"]},"eventTime":"2026-02-23T12:34:56.5+01:00"}`
	ev, err := v.DecodeAndValidate([]byte(body))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	want := time.Date(2026, 2, 23, 11, 34, 56, 500_000_000, time.UTC)
	if !ev.EventTime.Equal(want) {
		t.Fatalf("eventTime: got %s want %s", ev.EventTime, want)
	}
	if got, ok := ev.Metadata["attempt"].(int64); !ok || got != 3 {
		t.Fatalf("attempt: %#v", ev.Metadata["attempt"])
	}
	if got, ok := ev.Metadata["ratio"].(float64); !ok || got != 0.5 {
		t.Fatalf("ratio: %#v", ev.Metadata["ratio"])
	}
}

func TestNullEventTimeAccepted(t *testing.T) {
	v := mustValidator(t)
	ev, err := v.DecodeAndValidate([]byte(`{"customerId":"c1","userId":"u1","event":"x","ip":"::1","device":"d","eventTime":null}`))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !ev.EventTime.IsZero() {
		t.Fatalf("null eventTime should stay unset")
	}
}

func TestRejections(t *testing.T) {
	v := mustValidator(t)
	cases := []struct {
		name   string
		body   string
		fields []string
	}{
		{"missing userId", `{"customerId":"c1","event":"e","ip":"1.2.3.4","device":"d"}`, []string{"userId"}},
		{"missing several", `{"customerId":"c1","event":"e"}`, []string{"userId", "ip", "device"}},
		{"undeclared field", `{"customerId":"c1","userId":"u1","event":"e","ip":"1.2.3.4","device":"d","role":"admin"}`, []string{"role"}},
		{"spoofed requestIp", `{"customerId":"c1","userId":"u1","event":"e","ip":"1.2.3.4","device":"d","requestIp":"10.0.0.1"}`, []string{"requestIp"}},
		{"empty string", `{"customerId":"","userId":"u1","event":"e","ip":"1.2.3.4","device":"d"}`, []string{"customerId"}},
		{"short ip", `{"customerId":"c1","userId":"u1","event":"e","ip":"12","device":"d"}`, []string{"ip"}},
		{"wrong type", `{"customerId":"c1","userId":42,"event":"e","ip":"1.2.3.4","device":"d"}`, []string{"userId"}},
		{"metadata not object", `{"customerId":"c1","userId":"u1","event":"e","ip":"1.2.3.4","device":"d","metadata":"x"}`, []string{"metadata"}},
		{"bad eventTime", `{"customerId":"c1","userId":"u1","event":"e","ip":"1.2.3.4","device":"d","eventTime":"yesterday"}`, []string{"eventTime"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.DecodeAndValidate([]byte(tc.body))
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			for _, f := range tc.fields {
				if !verr.HasField(f) {
					t.Fatalf("expected error for %q, got %+v", f, verr.Fields)
				}
			}
		})
	}
}

func TestMalformedJSON(t *testing.T) {
	v := mustValidator(t)
	for _, body := range []string{"", "{", "not json"} {
		_, err := v.DecodeAndValidate([]byte(body))
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("%q: expected ValidationError, got %v", body, err)
		}
		if len(verr.Fields) == 0 || verr.Fields[0].Keyword != "json" {
			t.Fatalf("%q: unexpected details %+v", body, verr.Fields)
		}
	}
}

func TestNonObjectRejected(t *testing.T) {
	v := mustValidator(t)
	if _, err := v.DecodeAndValidate([]byte(`[{"customerId":"c1"}]`)); err == nil {
		t.Fatalf("arrays must be rejected")
	}
}

func TestValidateIsPure(t *testing.T) {
	v := mustValidator(t)
	raw := map[string]any{"customerId": "c1", "userId": "u1", "event": "e", "ip": "1.2.3.4", "device": "d"}
	if _, err := v.Validate(raw); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(raw) != 5 {
		t.Fatalf("input mutated: %+v", raw)
	}
}
