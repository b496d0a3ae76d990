// Package notify delivers detection alerts to operators.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"bruteguard/internal/logging"
)

// Notifier delivers one alert. Implementations must be safe for concurrent use.
type Notifier interface {
	Send(ctx context.Context, subject, body string) error
}

// LogNotifier writes alerts to the log instead of delivering them.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logging.OrDiscard(logger)}
}

func (n *LogNotifier) Send(_ context.Context, subject, body string) error {
	n.logger.Warn("alert", "subject", subject, "body", body)
	return nil
}

// Message is an alert captured by a Recorder.
type Message struct {
	Subject string
	Body    string
}

// Recorder keeps every alert in memory, optionally failing each send.
type Recorder struct {
	mu   sync.Mutex
	sent []Message
	Err  error
}

func (r *Recorder) Send(_ context.Context, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Message{Subject: subject, Body: body})
	return r.Err
}

func (r *Recorder) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.sent))
	copy(out, r.sent)
	return out
}
