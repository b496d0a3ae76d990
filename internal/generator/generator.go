// Package generator produces demo traffic for the ingestion gateway: one
// burst of failed logins for a single principal followed by successful
// logins from random principals.
package generator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"bruteguard/internal/logging"
	"bruteguard/internal/model"
)

var (
	Users   = []string{"user1", "user2", "user3"}
	IPs     = []string{"1.2.3.4", "5.6.7.8", "9.9.9.9"}
	Devices = []string{"web", "mobile", "desktop"}
)

type Config struct {
	URL        string
	CustomerID string
	Failures   int
	Successes  int
	Delay      time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:        "http://localhost:8080/api/logs",
		CustomerID: "demo-corp",
		Failures:   7,
		Successes:  3,
		Delay:      500 * time.Millisecond,
	}
}

type Generator struct {
	cfg    Config
	client *http.Client
	rng    *rand.Rand
	logger *slog.Logger
	now    func() time.Time
}

func New(cfg Config, client *http.Client, logger *slog.Logger) *Generator {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Generator{
		cfg:    cfg,
		client: client,
		rng:    rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
		logger: logging.OrDiscard(logger),
		now:    time.Now,
	}
}

type Summary struct {
	Sent     int
	Accepted int
	Target   model.PrincipalKey
}

// Run sends the burst and then the noise. Request errors are logged and
// counted, never fatal.
func (g *Generator) Run(ctx context.Context) (Summary, error) {
	target := model.PrincipalKey{CustomerID: g.cfg.CustomerID, UserID: g.pick(Users), IP: g.pick(IPs)}
	sum := Summary{Target: target}
	g.logger.Info("sending events", "url", g.cfg.URL, "target_user", target.UserID, "target_ip", target.IP)

	for i := 0; i < g.cfg.Failures; i++ {
		if err := g.step(ctx, &sum, model.EventLoginFailed, target.UserID, target.IP); err != nil {
			return sum, err
		}
	}
	for i := 0; i < g.cfg.Successes; i++ {
		if err := g.step(ctx, &sum, model.EventLoginSuccess, g.pick(Users), g.pick(IPs)); err != nil {
			return sum, err
		}
	}
	return sum, nil
}

func (g *Generator) step(ctx context.Context, sum *Summary, event, user, ip string) error {
	sum.Sent++
	status, err := g.send(ctx, event, user, ip)
	if err != nil {
		g.logger.Warn("request error", "event", event, "err", err)
	} else if status == http.StatusAccepted {
		sum.Accepted++
	}
	if g.cfg.Delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(g.cfg.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Generator) send(ctx context.Context, event, user, ip string) (int, error) {
	payload := map[string]any{
		"customerId": g.cfg.CustomerID,
		"userId":     user,
		"event":      event,
		"ip":         ip,
		"device":     g.pick(Devices),
		"eventTime":  g.now().UTC().Format(time.RFC3339Nano),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post %s: %w", g.cfg.URL, err)
	}
	defer resp.Body.Close()
	text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	g.logger.Info("response", "event", event, "status", resp.StatusCode, "body", string(bytes.TrimSpace(text)))
	return resp.StatusCode, nil
}

func (g *Generator) pick(values []string) string {
	return values[g.rng.IntN(len(values))]
}
