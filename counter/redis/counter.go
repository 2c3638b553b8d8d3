// Package redis implements counter.Counter on Redis so that branches
// running in different processes can share one join counter.
//
// Usage:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	c := redis.New(client)
//	if err := c.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/forkjoin/counter"
)

// Compile-time interface check.
var _ counter.Counter = (*Counter)(nil)

// decrIfExists decrements KEYS[1] only when it exists. A plain DECR would
// recreate an expired key at -1.
var decrIfExists = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return redis.call("DECR", KEYS[1])
end
return false
`)

// Option configures the Counter.
type Option func(*Counter)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Counter) { c.logger = l }
}

// Counter is a join counter backed by Redis integer keys.
type Counter struct {
	client goredis.Cmdable
	logger *slog.Logger
}

// New creates a Redis-backed counter. The caller owns the client lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Counter {
	c := &Counter{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Client returns the underlying Redis client.
func (c *Counter) Client() goredis.Cmdable { return c.client }

// Ping verifies the Redis connection is alive.
func (c *Counter) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Reset sets key to n with a PX expiry in a single SET.
func (c *Counter) Reset(ctx context.Context, key string, n int64, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, key, n, ttl).Err(); err != nil {
		return fmt.Errorf("forkjoin/redis: reset %s: %w", key, err)
	}
	return nil
}

// DecrementAndGet atomically decrements key and returns the new value.
// It returns counter.ErrNotFound when the key has expired or was never set.
func (c *Counter) DecrementAndGet(ctx context.Context, key string) (int64, error) {
	v, err := decrIfExists.Run(ctx, c.client, []string{key}).Int64()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return 0, counter.ErrNotFound
		}
		return 0, fmt.Errorf("forkjoin/redis: decrement %s: %w", key, err)
	}
	return v, nil
}

// Expire sets a TTL on key. Missing keys are ignored.
func (c *Counter) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ok, err := c.client.PExpire(ctx, key, ttl).Result()
	if err != nil {
		return fmt.Errorf("forkjoin/redis: expire %s: %w", key, err)
	}
	if !ok {
		c.logger.Debug("expire on missing join counter", slog.String("key", key))
	}
	return nil
}

// Delete removes key.
func (c *Counter) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("forkjoin/redis: delete %s: %w", key, err)
	}
	return nil
}
