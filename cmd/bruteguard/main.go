// Command bruteguard runs gateway, persister and detector in one process
// connected by the in-process bus.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"bruteguard/internal/api"
	"bruteguard/internal/app"
	"bruteguard/internal/config"
	"bruteguard/internal/engine"
	"bruteguard/internal/ingest"
	"bruteguard/internal/logging"
	"bruteguard/internal/model"
	"bruteguard/internal/outcome"
	"bruteguard/internal/persist"
	"bruteguard/internal/transport"
	"bruteguard/internal/validate"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to YAML or JSON config")
	writeConfig := flag.String("write-config", "", "write the default config to this path and exit")
	flag.Parse()

	if *writeConfig != "" {
		if err := config.Save(*writeConfig, config.DefaultConfig()); err != nil {
			fmt.Fprintf(os.Stderr, "write config: %v\n", err)
			os.Exit(1)
		}
		return
	}

	mgr, err := config.NewManager(config.ResolvePath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	cfg := mgr.Get()
	cfg.Transport.Driver = "memory"
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := app.Store(ctx, cfg)
	if err != nil {
		logger.Error("open store", "driver", cfg.Storage.Driver, "err", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	bus := transport.NewBus(cfg.Ingest.OutcomeBuffer, app.RetryPolicy(cfg), logger)
	defer func() { _ = bus.Close() }()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p := persist.New(store, logger.With("service", "persister"))
		if err := app.Consume(ctx, cfg, bus, p.OnMessage, logger); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("consumer stopped", "err", err)
		}
	}()

	gw := ingest.NewGateway(validate.MustNew(), bus, ingest.GatewayConfig{
		Topic:          cfg.Transport.Topic,
		PublishTimeout: cfg.Ingest.PublishTimeout,
		OutcomeBuffer:  cfg.Ingest.OutcomeBuffer,
	}, logger.With("service", "ingest-api"))
	outcomes := outcome.NewStore(cfg.Outcomes.StoreLimit)
	go outcomes.Consume(ctx, gw.Outcomes())

	det, closeCooldown, err := app.Detector(cfg, store, app.Notifier(cfg, logger), logger.With("service", "detector"))
	if err != nil {
		logger.Error("build detector", "err", err)
		os.Exit(1)
	}
	defer func() { _ = closeCooldown() }()

	srv := api.NewServer(mgr, det, outcomes, logger, version)
	api.Start(ctx, srv)
	limiter := ingest.NewRateLimiter(cfg.Ingest.RateLimit, cfg.Ingest.RateBurst)
	router := ingest.NewRouter(gw, cfg.Ingest.MaxBodyBytes, logger, ingest.WithRateLimit(limiter))
	ingest.StartREST(ctx, cfg.Ingest.Addr, router, logger)

	if cfg.Detection.Interval > 0 {
		sched := engine.NewScheduler(det, cfg.Detection.Interval, cfg.Detection.QueryTimeout, func() model.DetectionWindow {
			return app.Window(mgr.Get())
		}, logger)
		sched.OnResult(srv.RecordResult)
		go sched.Run(ctx)
	}
	logger.Info("bruteguard started", "version", version, "ingest_addr", cfg.Ingest.Addr, "storage", cfg.Storage.Driver)

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gw.Close(shutdownCtx); err != nil {
		logger.Warn("in-flight publishes abandoned", "err", err)
	}
	wg.Wait()
}
