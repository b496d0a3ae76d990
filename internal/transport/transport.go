// Package transport adapts message brokers to the publish and delivery
// contracts the gateway and persister rely on. Delivery is at-least-once:
// a message is acknowledged only after its handler returns nil.
package transport

import (
	"context"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Publisher sends a JSON payload to a topic and returns the broker-side
// message id. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) (string, error)
	Close() error
}

// Message is one delivered payload. Data is nil when the broker delivered
// something that could not be unwrapped.
type Message struct {
	ID          string
	Data        []byte
	Attributes  map[string]string
	PublishTime time.Time
}

// Handler processes a delivered message. A nil return acknowledges it; any
// error causes redelivery.
type Handler func(ctx context.Context, msg Message) error

// Envelope is the wire wrapper around a payload. Data is base64 on the wire.
type Envelope struct {
	MessageID   string            `json:"messageId"`
	Data        []byte            `json:"data"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	PublishTime time.Time         `json:"publishTime"`
}

func NewEnvelope(payload []byte) Envelope {
	return Envelope{MessageID: uuid.NewString(), Data: payload, PublishTime: time.Now().UTC()}
}

func EncodeEnvelope(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func (e Envelope) Message() Message {
	return Message{ID: e.MessageID, Data: e.Data, Attributes: e.Attributes, PublishTime: e.PublishTime}
}

// LogPublisher only logs payloads. It is the local fallback when no broker
// is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, topic string, payload []byte) (string, error) {
	id := uuid.NewString()
	if p.logger != nil {
		p.logger.Info("publish (log transport)", "topic", topic, "message_id", id, "bytes", len(payload))
	}
	return id, nil
}

func (p *LogPublisher) Close() error { return nil }
