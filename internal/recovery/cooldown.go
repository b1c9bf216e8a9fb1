package recovery

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/CartPipe/internal/store"
	"github.com/redis/go-redis/v9"
)

const cooldownKeyPrefix = "cartpipe:cooldown:"

// CooldownCache remembers recently messaged phones in Redis with a TTL equal
// to the cooldown window. A nil *CooldownCache is valid and does nothing.
type CooldownCache struct {
	client *redis.Client
}

// NewRedisCooldownCache connects to redisURL and verifies the connection.
func NewRedisCooldownCache(redisURL string) (*CooldownCache, error) {
	url := strings.TrimSpace(redisURL)
	if url == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &CooldownCache{client: client}, nil
}

// NewCooldownCache wraps an existing client.
func NewCooldownCache(client *redis.Client) *CooldownCache {
	return &CooldownCache{client: client}
}

// Mark records that phone was messaged; the key expires after ttl.
func (c *CooldownCache) Mark(ctx context.Context, phone string, ttl time.Duration) error {
	if c == nil || c.client == nil || ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, cooldownKeyPrefix+phone, time.Now().UTC().Format(time.RFC3339), ttl).Err()
}

// Active reports whether phone has an unexpired cooldown key.
func (c *CooldownCache) Active(ctx context.Context, phone string) (bool, error) {
	if c == nil || c.client == nil {
		return false, nil
	}
	n, err := c.client.Exists(ctx, cooldownKeyPrefix+phone).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *CooldownCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Cooldown decides whether a phone was messaged too recently. The tracking
// events table is authoritative; the cache only answers positive hits early.
type Cooldown struct {
	events store.EventRepo
	cache  *CooldownCache
}

// NewCooldown creates a Cooldown. cache may be nil.
func NewCooldown(events store.EventRepo, cache *CooldownCache) *Cooldown {
	return &Cooldown{events: events, cache: cache}
}

// InCooldown reports whether the newest sent event for phone, across all
// carts, is younger than window at now. A non-positive window disables the check.
func (c *Cooldown) InCooldown(ctx context.Context, phone string, window time.Duration, now time.Time) (bool, error) {
	if window <= 0 || phone == "" {
		return false, nil
	}

	hit, err := c.cache.Active(ctx, phone)
	if err != nil {
		slog.Warn("Cooldown.InCooldown: cache lookup failed, using database", "error", err)
	} else if hit {
		return true, nil
	}

	last, ok, err := c.events.LastSentAtForPhone(ctx, phone)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return now.Sub(last) < window, nil
}

// Record notes a successful send in the cache. Failures are logged only.
func (c *Cooldown) Record(ctx context.Context, phone string, window time.Duration) {
	if err := c.cache.Mark(ctx, phone, window); err != nil {
		slog.Warn("Cooldown.Record: cache write failed", "error", err)
	}
}
