package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"bruteguard/internal/app"
	"bruteguard/internal/config"
	"bruteguard/internal/logging"
	"bruteguard/internal/persist"
)

func main() {
	configPath := flag.String("config", "", "path to YAML or JSON config")
	flag.Parse()

	cfg, err := config.Load(config.ResolvePath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat).With("service", "persister")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := app.Store(ctx, cfg)
	if err != nil {
		logger.Error("open store", "driver", cfg.Storage.Driver, "err", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	logger.Info("persister started", "transport", cfg.Transport.Driver, "topic", cfg.Transport.Topic, "storage", cfg.Storage.Driver)
	p := persist.New(store, logger)
	if err := app.Consume(ctx, cfg, nil, p.OnMessage, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer stopped", "err", err)
		os.Exit(1)
	}
	logger.Info("persister stopped")
}
