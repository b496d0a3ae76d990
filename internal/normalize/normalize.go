package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"bruteguard/internal/model"
)

// ApplyDefaults fills every optional field of ev that is still at its zero
// value. The gateway and the persister share this policy.
func ApplyDefaults(ev *model.LogEvent, now time.Time) {
	if ev.Metadata == nil {
		ev.Metadata = map[string]any{}
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = now
	}
	if ev.EventTime.IsZero() {
		ev.EventTime = ev.ReceivedAt
	}
	ev.ReceivedAt = ev.ReceivedAt.UTC()
	ev.EventTime = ev.EventTime.UTC()
	if ev.EventID == "" {
		ev.EventID = ContentHash(*ev)
	}
}

// ContentHash is a deterministic identifier for events arriving without one.
func ContentHash(ev model.LogEvent) string {
	parts := []string{
		ev.CustomerID,
		ev.UserID,
		ev.Event,
		ev.IP,
		ev.Device,
		ev.EventTime.UTC().Format(time.RFC3339Nano),
		canonicalMetadata(ev.Metadata),
	}
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h[:])
}

func canonicalMetadata(m map[string]any) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		v, _ := json.Marshal(m[k])
		b.WriteString(k)
		b.WriteByte('=')
		b.Write(v)
		b.WriteByte(';')
	}
	return b.String()
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
}

// ParseTimestamp accepts RFC 3339, a handful of common variants without a
// zone (read as UTC), and unix seconds or milliseconds.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

// ParseRFC3339 is the strict parser used for client supplied event times.
func ParseRFC3339(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
