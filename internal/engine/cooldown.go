package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cooldown decides whether a principal may be alerted on again. Allow
// reports true at most once per key per ttl. Release drops a key taken by
// Allow so the next run may alert again.
type Cooldown interface {
	Allow(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type MemoryCooldown struct {
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

func NewMemoryCooldown() *MemoryCooldown {
	return &MemoryCooldown{last: make(map[string]time.Time), now: time.Now}
}

func (c *MemoryCooldown) Allow(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return true, nil
	}
	now := c.now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.last[key]; ok && now.Sub(ts) < ttl {
		return false, nil
	}
	c.last[key] = now
	c.evict(now, ttl)
	return true, nil
}

func (c *MemoryCooldown) Release(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.last, key)
	return nil
}

// evict drops entries older than ttl so the map tracks only live cooldowns.
func (c *MemoryCooldown) evict(now time.Time, ttl time.Duration) {
	for k, ts := range c.last {
		if now.Sub(ts) >= ttl {
			delete(c.last, k)
		}
	}
}

const redisCooldownPrefix = "bruteguard:cooldown:"

// RedisCooldown shares cooldowns between detector instances.
type RedisCooldown struct {
	client *redis.Client
}

func NewRedisCooldown(client *redis.Client) *RedisCooldown {
	return &RedisCooldown{client: client}
}

// ConnectRedis accepts either a redis:// URL or host:port.
func ConnectRedis(addr string) (*redis.Client, error) {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opt, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: addr}), nil
}

func (c *RedisCooldown) Allow(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return true, nil
	}
	return c.client.SetNX(ctx, redisCooldownPrefix+key, time.Now().UTC().Unix(), ttl).Result()
}

func (c *RedisCooldown) Release(ctx context.Context, key string) error {
	return c.client.Del(ctx, redisCooldownPrefix+key).Err()
}
