package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bruteguard/internal/api"
	"bruteguard/internal/app"
	"bruteguard/internal/config"
	"bruteguard/internal/ingest"
	"bruteguard/internal/logging"
	"bruteguard/internal/outcome"
	"bruteguard/internal/transport"
	"bruteguard/internal/validate"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to YAML or JSON config")
	flag.Parse()

	mgr, err := config.NewManager(config.ResolvePath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	cfg := mgr.Get()
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat).With("service", "ingest-api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Without a broker the gateway still validates and acknowledges.
	pub, err := app.Publisher(cfg, nil, logger)
	if err != nil {
		logger.Warn("publisher unavailable, falling back to log publisher", "driver", cfg.Transport.Driver, "err", err)
		pub = transport.NewLogPublisher(logger)
	}
	defer func() { _ = pub.Close() }()

	v, err := validate.New()
	if err != nil {
		logger.Error("compile schema", "err", err)
		os.Exit(1)
	}
	gw := ingest.NewGateway(v, pub, ingest.GatewayConfig{
		Topic:          cfg.Transport.Topic,
		PublishTimeout: cfg.Ingest.PublishTimeout,
		OutcomeBuffer:  cfg.Ingest.OutcomeBuffer,
	}, logger)

	outcomes := outcome.NewStore(cfg.Outcomes.StoreLimit)
	go outcomes.Consume(ctx, gw.Outcomes())

	api.Start(ctx, api.NewServer(mgr, nil, outcomes, logger, version))
	limiter := ingest.NewRateLimiter(cfg.Ingest.RateLimit, cfg.Ingest.RateBurst)
	router := ingest.NewRouter(gw, cfg.Ingest.MaxBodyBytes, logger, ingest.WithRateLimit(limiter))
	ingest.StartREST(ctx, cfg.Ingest.Addr, router, logger)
	logger.Info("ingest api started", "version", version, "transport", cfg.Transport.Driver)

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gw.Close(shutdownCtx); err != nil {
		logger.Warn("in-flight publishes abandoned", "err", err)
	}
}
