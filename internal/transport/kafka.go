package transport

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

const headerMessageID = "message-id"

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, batchTimeout time.Duration) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka publisher requires at least one broker")
	}
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: batchTimeout,
		},
	}, nil
}

// Publish blocks until the broker acknowledges the write or ctx ends.
func (p *KafkaPublisher) Publish(ctx context.Context, topic string, payload []byte) (string, error) {
	env := NewEnvelope(payload)
	value, err := EncodeEnvelope(env)
	if err != nil {
		return "", err
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Value:   value,
		Time:    env.PublishTime,
		Headers: []kafka.Header{{Key: headerMessageID, Value: []byte(env.MessageID)}},
	})
	if err != nil {
		return "", err
	}
	return env.MessageID, nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// messageReader is the part of *kafka.Reader the consumer loop uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaConsumer struct {
	reader messageReader
	retry  RetryPolicy
	logger *slog.Logger
}

func NewKafkaConsumer(brokers []string, topic, groupID string, retry RetryPolicy, logger *slog.Logger) (*KafkaConsumer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka consumer requires at least one broker")
	}
	if topic == "" || groupID == "" {
		return nil, errors.New("kafka consumer requires topic and group id")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	return &KafkaConsumer{reader: reader, retry: retry, logger: logger}, nil
}

// Run consumes until ctx ends. Offsets are committed only after h accepts
// the message, so a crash mid-delivery leads to redelivery.
func (c *KafkaConsumer) Run(ctx context.Context, h Handler) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if c.logger != nil {
				c.logger.Warn("kafka fetch error", "err", err)
			}
			if !BackoffSleep(ctx, c.retry.withDefaults().InitialBackoff) {
				return nil
			}
			continue
		}
		msg := c.toMessage(m)
		if !Deliver(ctx, h, msg, c.retry, c.logger) {
			return nil
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if c.logger != nil {
				c.logger.Warn("kafka commit error", "message_id", msg.ID, "err", err)
			}
		}
	}
}

func (c *KafkaConsumer) toMessage(m kafka.Message) Message {
	fallbackID := m.Topic + "/" + strconv.Itoa(m.Partition) + "/" + strconv.FormatInt(m.Offset, 10)
	env, err := DecodeEnvelope(m.Value)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("kafka envelope undecodable", "message_id", fallbackID, "err", err)
		}
		return Message{ID: fallbackID, PublishTime: m.Time}
	}
	msg := env.Message()
	if msg.ID == "" {
		msg.ID = fallbackID
	}
	return msg
}

func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
