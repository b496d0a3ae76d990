package transport

import (
	"context"
	"log/slog"
	"time"
)

type RetryPolicy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 200 * time.Millisecond
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	return p
}

// Deliver runs h until it succeeds, backing off exponentially between
// attempts. It returns false only when ctx ends first, in which case the
// message must not be acknowledged.
func Deliver(ctx context.Context, h Handler, msg Message, policy RetryPolicy, logger *slog.Logger) bool {
	policy = policy.withDefaults()
	backoff := policy.InitialBackoff
	for attempt := 1; ; attempt++ {
		err := h(ctx, msg)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		if logger != nil {
			logger.Warn("message handler failed, will redeliver",
				"message_id", msg.ID,
				"attempt", attempt,
				"backoff", backoff.String(),
				"err", err,
			)
		}
		if !BackoffSleep(ctx, backoff) {
			return false
		}
		backoff *= 2
		if backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
