// Package app wires configured components for the cmd binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"bruteguard/internal/config"
	"bruteguard/internal/engine"
	"bruteguard/internal/logging"
	"bruteguard/internal/model"
	"bruteguard/internal/notify"
	"bruteguard/internal/storage"
	"bruteguard/internal/transport"
)

func RetryPolicy(cfg *config.Config) transport.RetryPolicy {
	return transport.RetryPolicy{
		InitialBackoff: cfg.Transport.Retry.InitialBackoff,
		MaxBackoff:     cfg.Transport.Retry.MaxBackoff,
	}
}

// Publisher builds the configured publisher. bus is required for the
// memory driver.
func Publisher(cfg *config.Config, bus *transport.Bus, logger *slog.Logger) (transport.Publisher, error) {
	switch strings.ToLower(cfg.Transport.Driver) {
	case "kafka":
		return transport.NewKafkaPublisher(cfg.Transport.Kafka.Brokers, cfg.Transport.Kafka.BatchTimeout)
	case "memory":
		if bus == nil {
			return nil, errors.New("memory transport requires an in-process bus")
		}
		return bus, nil
	case "log":
		return transport.NewLogPublisher(logger), nil
	default:
		return nil, fmt.Errorf("unsupported transport driver: %q", cfg.Transport.Driver)
	}
}

// Consume feeds h from the configured transport until ctx ends.
func Consume(ctx context.Context, cfg *config.Config, bus *transport.Bus, h transport.Handler, logger *slog.Logger) error {
	switch strings.ToLower(cfg.Transport.Driver) {
	case "kafka":
		consumer, err := transport.NewKafkaConsumer(cfg.Transport.Kafka.Brokers, cfg.Transport.Topic, cfg.Transport.Kafka.GroupID, RetryPolicy(cfg), logger)
		if err != nil {
			return err
		}
		defer func() { _ = consumer.Close() }()
		return consumer.Run(ctx, h)
	case "memory":
		if bus == nil {
			return errors.New("memory transport requires an in-process bus")
		}
		return bus.Subscribe(ctx, cfg.Transport.Topic, h)
	default:
		return fmt.Errorf("transport driver %q cannot be consumed", cfg.Transport.Driver)
	}
}

// Store opens the configured store and creates its schema.
func Store(ctx context.Context, cfg *config.Config) (storage.EventStore, error) {
	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init %s store: %w", cfg.Storage.Driver, err)
	}
	return store, nil
}

// Notifier returns the SMTP notifier behind a circuit breaker, or a log
// notifier when SMTP is not configured.
func Notifier(cfg *config.Config, logger *slog.Logger) notify.Notifier {
	logger = logging.OrDiscard(logger)
	if !cfg.Notifier.Configured() {
		logger.Warn("smtp credentials or recipients missing, alerts will only be logged")
		return notify.NewLogNotifier(logger)
	}
	smtp := notify.NewSMTPNotifier(cfg.Notifier, logger)
	return notify.NewBreakerNotifier(smtp, cfg.Notifier.Breaker, logger)
}

// Cooldown returns nil when alert cooldown is disabled.
func Cooldown(cfg *config.Config) (engine.Cooldown, func() error, error) {
	noop := func() error { return nil }
	if cfg.Detection.AlertCooldown <= 0 {
		return nil, noop, nil
	}
	switch strings.ToLower(cfg.Detection.CooldownStore) {
	case "", "memory":
		return engine.NewMemoryCooldown(), noop, nil
	case "redis":
		client, err := engine.ConnectRedis(cfg.Detection.RedisAddr)
		if err != nil {
			return nil, noop, err
		}
		return engine.NewRedisCooldown(client), client.Close, nil
	default:
		return nil, noop, fmt.Errorf("unsupported cooldown store: %q", cfg.Detection.CooldownStore)
	}
}

// Detector assembles aggregator, notifier and cooldown. The returned func
// releases the cooldown backend.
func Detector(cfg *config.Config, store storage.EventStore, n notify.Notifier, logger *slog.Logger) (*engine.Detector, func() error, error) {
	cd, closeFn, err := Cooldown(cfg)
	if err != nil {
		return nil, nil, err
	}
	var opts []engine.Option
	if cd != nil {
		opts = append(opts, engine.WithCooldown(cd, cfg.Detection.AlertCooldown))
	}
	return engine.NewDetector(engine.NewAggregator(store), n, logger, opts...), closeFn, nil
}

// Window is the detection window described by cfg, ending now.
func Window(cfg *config.Config) model.DetectionWindow {
	return model.DetectionWindow{
		WindowMinutes:    cfg.Detection.WindowMinutes,
		FailureThreshold: cfg.Detection.FailureThreshold,
		EventType:        cfg.Detection.EventType,
	}
}
