// Package redisinfra holds the Redis-backed fixed-window throttles.
package redisinfra

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kyc-access/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Throttle is a fixed-window counter: the first hit in a window sets the
// expiry, every hit past limit is rejected until the key expires.
type Throttle struct {
	client *redis.Client
	prefix string
	limit  int64
	window time.Duration
}

func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewThrottle(client *redis.Client, prefix string, limit int, window time.Duration) *Throttle {
	return &Throttle{client: client, prefix: prefix, limit: int64(limit), window: window}
}

// Allow counts one hit for key. It returns ErrTooManyRequests past the
// limit and a wrapped store error if Redis is unreachable; callers treat
// both as a refusal.
func (t *Throttle) Allow(ctx context.Context, key string) error {
	k := t.prefix + ":" + key
	count, err := t.client.Incr(ctx, k).Result()
	if err != nil {
		return fmt.Errorf("throttle incr: %w", err)
	}
	if count == 1 {
		if err := t.client.Expire(ctx, k, t.window).Err(); err != nil {
			return fmt.Errorf("throttle expire: %w", err)
		}
	}
	if count > t.limit {
		return fmt.Errorf("%s limit reached: %w", t.prefix, domain.ErrTooManyRequests)
	}
	return nil
}
