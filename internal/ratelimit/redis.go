package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis enforces the attempt budget through a shared counter keyed per admin
// with a TTL equal to the window, so the budget holds across instances.
type Redis struct {
	client      *redis.Client
	maxAttempts int
	window      time.Duration
}

func NewRedis(client *redis.Client, maxAttempts int, window time.Duration) *Redis {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if window <= 0 {
		window = DefaultWindow
	}

	return &Redis{client: client, maxAttempts: maxAttempts, window: window}
}

func (r *Redis) key(k string) string {
	return "admin2fa:att:" + k
}

func (r *Redis) Status(ctx context.Context, key string, _ time.Time) (Status, error) {
	count, err := r.client.Get(ctx, r.key(key)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Status{Allowed: true, Remaining: r.maxAttempts}, nil
		}
		return Status{}, fmt.Errorf("read attempt counter: %w", err)
	}

	if count >= r.maxAttempts {
		retryAfter, err := r.client.PTTL(ctx, r.key(key)).Result()
		if err != nil {
			return Status{}, fmt.Errorf("read attempt counter ttl: %w", err)
		}
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Status{Allowed: false, RetryAfter: retryAfter}, nil
	}

	return Status{Allowed: true, Remaining: r.maxAttempts - count}, nil
}

func (r *Redis) RecordFailure(ctx context.Context, key string, _ time.Time) (int, error) {
	count, err := r.client.Incr(ctx, r.key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("increment attempt counter: %w", err)
	}
	if count == 1 {
		if err := r.client.Expire(ctx, r.key(key), r.window).Err(); err != nil {
			return 0, fmt.Errorf("expire attempt counter: %w", err)
		}
	}

	remaining := r.maxAttempts - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return remaining, nil
}

func (r *Redis) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("reset attempt counter: %w", err)
	}

	return nil
}
