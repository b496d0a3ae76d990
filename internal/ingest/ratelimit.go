package ingest

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter applies a token bucket per client IP. Idle buckets are
// evicted on access once they have been unused for idleTTL.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	lastGC   time.Time
	now      func() time.Time
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewRateLimiter allows perSecond sustained requests per IP with the given
// burst. A non-positive perSecond returns nil, which allows everything.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = max(1, int(perSecond))
	}
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		idleTTL:  10 * time.Minute,
		now:      time.Now,
	}
}

func (rl *RateLimiter) Allow(ip string) bool {
	if rl == nil {
		return true
	}
	rl.mu.Lock()
	now := rl.now()
	if now.Sub(rl.lastGC) > rl.idleTTL {
		for k, e := range rl.limiters {
			if now.Sub(e.lastAccess) > rl.idleTTL {
				delete(rl.limiters, k)
			}
		}
		rl.lastGC = now
	}
	entry, ok := rl.limiters[ip]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[ip] = entry
	}
	entry.lastAccess = now
	rl.mu.Unlock()
	return entry.limiter.AllowN(now, 1)
}

// Tracked is the number of live per-IP buckets.
func (rl *RateLimiter) Tracked() int {
	if rl == nil {
		return 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}
