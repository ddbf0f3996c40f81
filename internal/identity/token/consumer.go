// Package token enforces single use of disclosure tokens. The JWT layer
// proves scope and expiry; this layer makes the first use the only use.
package token

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"veil/pkg/platform/sentinel"
)

// Consumer records a token JTI as used. Consume must be atomic: exactly one
// caller wins for a given JTI.
type Consumer interface {
	// Consume marks the JTI used. Returns sentinel.ErrAlreadyUsed if some
	// earlier call already consumed it.
	Consume(ctx context.Context, jti string, ttl time.Duration) error
}

// RedisConsumer tracks consumption in Redis so single use holds across
// engine replicas. The TTL only bounds key growth; it matches the token's
// own expiry so a key never outlives the token it guards by less.
type RedisConsumer struct {
	client *redis.Client
}

func NewRedisConsumer(client *redis.Client) *RedisConsumer {
	return &RedisConsumer{client: client}
}

func (c *RedisConsumer) Consume(ctx context.Context, jti string, ttl time.Duration) error {
	ok, err := c.client.SetNX(ctx, "veil:disclosure:jti:"+jti, "used", ttl).Result()
	if err != nil {
		return fmt.Errorf("consume token: %w", sentinel.ErrUnavailable)
	}
	if !ok {
		return fmt.Errorf("token %s: %w", jti, sentinel.ErrAlreadyUsed)
	}
	return nil
}

// MemoryConsumer is the single-process implementation for tests and dev.
type MemoryConsumer struct {
	mu   sync.Mutex
	used map[string]time.Time
}

func NewMemoryConsumer() *MemoryConsumer {
	return &MemoryConsumer{used: make(map[string]time.Time)}
}

func (c *MemoryConsumer) Consume(_ context.Context, jti string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if expiry, ok := c.used[jti]; ok && now.Before(expiry) {
		return fmt.Errorf("token %s: %w", jti, sentinel.ErrAlreadyUsed)
	}
	c.used[jti] = now.Add(ttl)
	return nil
}
