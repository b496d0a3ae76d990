package notify

import (
	"context"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"bruteguard/internal/config"
	"bruteguard/internal/logging"
)

// BreakerNotifier stops calling next after repeated failures and fails fast
// with gobreaker.ErrOpenState until the open timeout passes.
type BreakerNotifier struct {
	next Notifier
	cb   *gobreaker.CircuitBreaker[struct{}]
}

func NewBreakerNotifier(next Notifier, cfg config.BreakerConfig, logger *slog.Logger) *BreakerNotifier {
	logger = logging.OrDiscard(logger)
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 3
	}
	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	settings := gobreaker.Settings{
		Name:        "notifier",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	}
	return &BreakerNotifier{next: next, cb: gobreaker.NewCircuitBreaker[struct{}](settings)}
}

func (b *BreakerNotifier) Send(ctx context.Context, subject, body string) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, b.next.Send(ctx, subject, body)
	})
	return err
}

func (b *BreakerNotifier) State() string {
	return b.cb.State().String()
}
