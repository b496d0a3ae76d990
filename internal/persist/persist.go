// Package persist turns delivered transport messages into stored events.
package persist

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"

	"bruteguard/internal/logging"
	"bruteguard/internal/metrics"
	"bruteguard/internal/model"
	"bruteguard/internal/normalize"
	"bruteguard/internal/storage"
	"bruteguard/internal/transport"
)

// ErrMalformed marks a message whose body can never be stored. Such messages
// are acknowledged so they are not redelivered forever.
var ErrMalformed = errors.New("malformed message body")

// RetryableError wraps a failure the transport should redeliver for.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return "retryable: " + e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

type Persister struct {
	store  storage.EventStore
	logger *slog.Logger
	now    func() time.Time
}

func New(store storage.EventStore, logger *slog.Logger) *Persister {
	return &Persister{store: store, logger: logging.OrDiscard(logger), now: func() time.Time { return time.Now().UTC() }}
}

// OnMessage satisfies transport.Handler. nil acknowledges the message.
func (p *Persister) OnMessage(ctx context.Context, msg transport.Message) error {
	ev, err := Decode(msg.Data)
	if err != nil {
		metrics.PersistMessagesTotal.WithLabelValues("malformed").Inc()
		p.logger.Warn("dropping malformed message", "message_id", msg.ID, "err", err)
		return nil
	}
	normalize.ApplyDefaults(&ev, p.now())

	if err := p.store.Insert(ctx, ev); err != nil {
		metrics.PersistMessagesTotal.WithLabelValues("retry").Inc()
		p.logger.Error("insert failed", "message_id", msg.ID, "event_id", ev.EventID, "err", err)
		return &RetryableError{Err: fmt.Errorf("insert event %s: %w", ev.EventID, err)}
	}
	metrics.PersistMessagesTotal.WithLabelValues("stored").Inc()
	p.logger.Debug("event stored",
		"message_id", msg.ID,
		"event_id", ev.EventID,
		"customer_id", ev.CustomerID,
		"event", ev.Event,
	)
	return nil
}

type wireEvent struct {
	EventID    string         `json:"eventId"`
	CustomerID string         `json:"customerId"`
	UserID     string         `json:"userId"`
	Event      string         `json:"event"`
	IP         string         `json:"ip"`
	Device     string         `json:"device"`
	Metadata   map[string]any `json:"metadata"`
	UserAgent  string         `json:"userAgent"`
	RequestIP  string         `json:"requestIp"`
	ReceivedAt any            `json:"receivedAt"`
	EventTime  any            `json:"eventTime"`
}

// Decode maps a transport payload onto a LogEvent. Missing fields are left
// at their zero value for ApplyDefaults; only an absent or undecodable body
// is an error.
func Decode(data []byte) (model.LogEvent, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return model.LogEvent{}, fmt.Errorf("%w: empty body", ErrMalformed)
	}
	var w wireEvent
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return model.LogEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return model.LogEvent{
		EventID:    w.EventID,
		CustomerID: w.CustomerID,
		UserID:     w.UserID,
		Event:      w.Event,
		IP:         w.IP,
		Device:     w.Device,
		Metadata:   w.Metadata,
		UserAgent:  w.UserAgent,
		RequestIP:  w.RequestIP,
		ReceivedAt: lenientTime(w.ReceivedAt),
		EventTime:  lenientTime(w.EventTime),
	}, nil
}

// lenientTime accepts the formats of normalize.ParseTimestamp and numeric
// epochs. Anything else is treated as absent.
func lenientTime(v any) time.Time {
	switch t := v.(type) {
	case string:
		ts, err := normalize.ParseTimestamp(t)
		if err != nil {
			return time.Time{}
		}
		return ts
	case float64:
		if t >= 1e12 {
			return time.UnixMilli(int64(t)).UTC()
		}
		return time.Unix(int64(t), 0).UTC()
	default:
		return time.Time{}
	}
}
