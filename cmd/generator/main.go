package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"bruteguard/internal/generator"
	"bruteguard/internal/logging"
)

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	def := generator.DefaultConfig()
	cfg := def
	flag.StringVar(&cfg.URL, "url", envOrDefault("API_URL", def.URL), "ingest endpoint")
	flag.StringVar(&cfg.CustomerID, "customer", envOrDefault("CUSTOMER_ID", def.CustomerID), "customer id")
	flag.IntVar(&cfg.Failures, "failures", def.Failures, "failed logins for the target principal")
	flag.IntVar(&cfg.Successes, "successes", def.Successes, "successful logins from random principals")
	flag.DurationVar(&cfg.Delay, "delay", def.Delay, "pause between requests")
	flag.Parse()

	logger := logging.NewLogger(envOrDefault("LOG_LEVEL", "info"), "text")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sum, err := generator.New(cfg, nil, logger).Run(ctx)
	if err != nil {
		logger.Error("generator interrupted", "sent", sum.Sent, "err", err)
		os.Exit(1)
	}
	logger.Info("done", "sent", sum.Sent, "accepted", sum.Accepted, "target_user", sum.Target.UserID, "target_ip", sum.Target.IP)
}
