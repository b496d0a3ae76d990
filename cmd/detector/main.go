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
	"bruteguard/internal/engine"
	"bruteguard/internal/logging"
	"bruteguard/internal/model"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to YAML or JSON config")
	once := flag.Bool("once", false, "run a single detection pass and exit")
	flag.Parse()

	mgr, err := config.NewManager(config.ResolvePath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	cfg := mgr.Get()
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat).With("service", "detector")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := app.Store(ctx, cfg)
	if err != nil {
		logger.Error("open store", "driver", cfg.Storage.Driver, "err", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	det, closeCooldown, err := app.Detector(cfg, store, app.Notifier(cfg, logger), logger)
	if err != nil {
		logger.Error("build detector", "err", err)
		os.Exit(1)
	}
	defer func() { _ = closeCooldown() }()

	if *once {
		runCtx, cancel := context.WithTimeout(ctx, cfg.Detection.QueryTimeout)
		defer cancel()
		res, err := det.Run(runCtx, app.Window(cfg))
		if err != nil {
			logger.Error("detection failed", "err", err)
			os.Exit(1)
		}
		logger.Info("detection complete", "detections", res.Detections, "alert_attempted", res.AlertAttempted, "suppressed", res.Suppressed)
		return
	}

	srv := api.NewServer(mgr, det, nil, logger, version)
	api.Start(ctx, srv)

	// Window parameters follow config reloads. Interval and storage do not.
	go mgr.Watch(0, func(c *config.Config) {
		logger.Info("config reloaded", "window_minutes", c.Detection.WindowMinutes, "failure_threshold", c.Detection.FailureThreshold)
	}, func(err error) {
		logger.Warn("config reload failed", "err", err)
	}, ctx.Done())

	interval := cfg.Detection.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	sched := engine.NewScheduler(det, interval, cfg.Detection.QueryTimeout, func() model.DetectionWindow {
		return app.Window(mgr.Get())
	}, logger)
	sched.OnResult(srv.RecordResult)
	logger.Info("detector started", "version", version, "interval", interval.String())
	sched.Run(ctx)
	logger.Info("detector stopped")
}
