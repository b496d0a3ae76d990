package normalize

import (
	"testing"
	"time"

	"bruteguard/internal/model"
)

func TestApplyDefaultsFillsEverything(t *testing.T) {
	now := time.Date(2026, 2, 23, 12, 0, 0, 0, time.UTC)
	ev := model.LogEvent{CustomerID: "c1", UserID: "u1", Event: "login_failed", IP: "1.2.3.4", Device: "web"}
	ApplyDefaults(&ev, now)
	if ev.Metadata == nil {
		t.Fatalf("metadata should default to empty map")
	}
	if !ev.ReceivedAt.Equal(now) || !ev.EventTime.Equal(now) {
		t.Fatalf("timestamps: received=%s event=%s", ev.ReceivedAt, ev.EventTime)
	}
	if ev.EventID == "" {
		t.Fatalf("event id should be derived")
	}
}

func TestApplyDefaultsEventTimeFollowsReceivedAt(t *testing.T) {
	now := time.Date(2026, 2, 23, 12, 0, 0, 0, time.UTC)
	received := now.Add(-time.Minute)
	ev := model.LogEvent{ReceivedAt: received}
	ApplyDefaults(&ev, now)
	if !ev.EventTime.Equal(received) {
		t.Fatalf("eventTime should default to receivedAt, got %s", ev.EventTime)
	}
}

func TestApplyDefaultsKeepsValues(t *testing.T) {
	now := time.Now().UTC()
	eventTime := now.Add(-2 * time.Minute)
	ev := model.LogEvent{EventID: "abc", EventTime: eventTime, Metadata: map[string]any{"k": "v"}}
	ApplyDefaults(&ev, now)
	if ev.EventID != "abc" || !ev.EventTime.Equal(eventTime) || ev.Metadata["k"] != "v" {
		t.Fatalf("existing values overwritten: %+v", ev)
	}
}

func TestContentHashDeterministic(t *testing.T) {
	ts := time.Date(2026, 2, 23, 12, 0, 0, 0, time.UTC)
	a := model.LogEvent{CustomerID: "c1", UserID: "u1", Event: "login_failed", IP: "1.2.3.4", EventTime: ts,
		Metadata: map[string]any{"b": 2, "a": "x"}}
	b := a
	b.Metadata = map[string]any{"a": "x", "b": 2}
	if ContentHash(a) != ContentHash(b) {
		t.Fatalf("hash should not depend on map order")
	}
	b.IP = "5.6.7.8"
	if ContentHash(a) == ContentHash(b) {
		t.Fatalf("hash should change with content")
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2026, 2, 23, 12, 34, 56, 0, time.UTC)
	cases := []string{
		"2026-02-23T12:34:56Z",
		"2026-02-23T14:34:56+02:00",
		"2026-02-23 12:34:56",
		"1771850096",
		"1771850096000",
	}
	for _, in := range cases {
		got, err := ParseTimestamp(in)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if !got.Equal(want) {
			t.Fatalf("%q: got %s want %s", in, got, want)
		}
	}
	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseRFC3339Strict(t *testing.T) {
	if _, err := ParseRFC3339("2026-02-23 12:34:56"); err == nil {
		t.Fatalf("space separated time must be rejected")
	}
	got, err := ParseRFC3339("2026-02-23T12:34:56.123456789Z")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Nanosecond() != 123456789 {
		t.Fatalf("nanos lost: %d", got.Nanosecond())
	}
}
