package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var ErrBusClosed = errors.New("memory bus closed")

// Bus is an in-process broker. Subscribers on the same topic compete for
// messages, like members of one consumer group.
type Bus struct {
	mu     sync.Mutex
	topics map[string]chan Message
	buffer int
	closed bool
	retry  RetryPolicy
	logger *slog.Logger
}

func NewBus(buffer int, retry RetryPolicy, logger *slog.Logger) *Bus {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Bus{topics: make(map[string]chan Message), buffer: buffer, retry: retry, logger: logger}
}

func (b *Bus) topic(name string) (chan Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	ch, ok := b.topics[name]
	if !ok {
		ch = make(chan Message, b.buffer)
		b.topics[name] = ch
	}
	return ch, nil
}

// Publish a copy of payload through the same envelope path used on the wire.
func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) (string, error) {
	ch, err := b.topic(topic)
	if err != nil {
		return "", err
	}
	env := NewEnvelope(append([]byte(nil), payload...))
	encoded, err := EncodeEnvelope(env)
	if err != nil {
		return "", err
	}
	decoded, err := DecodeEnvelope(encoded)
	if err != nil {
		return "", err
	}
	select {
	case ch <- decoded.Message():
		return env.MessageID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Subscribe delivers messages on topic to h until ctx ends.
func (b *Bus) Subscribe(ctx context.Context, topic string, h Handler) error {
	ch, err := b.topic(topic)
	if err != nil {
		return err
	}
	for {
		select {
		case msg := <-ch:
			if !Deliver(ctx, h, msg, b.retry, b.logger) {
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Pending is the number of queued, undelivered messages on topic.
func (b *Bus) Pending(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.topics[topic]; ok {
		return len(ch)
	}
	return 0
}

// Close stops accepting publishes. Queued messages stay available to
// running subscribers.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
