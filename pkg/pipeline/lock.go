package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
)

var ErrLockBusy = errors.New("reconciliation for this date is already running")

// Unlock releases a lock obtained from a DateLocker.
type Unlock func(ctx context.Context) error

// DateLocker serializes runs that share a calendar date, which keeps two
// concurrent batches from both claiming the same order.
type DateLocker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

type noopLocker struct{}

// NoopLocker lets runs for the same date proceed in parallel.
func NoopLocker() DateLocker {
	return noopLocker{}
}

func (noopLocker) Lock(context.Context, string) (Unlock, error) {
	return func(context.Context) error { return nil }, nil
}

// RedisLocker backs DateLocker with redislock so the serialization holds
// across service instances.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	wait   time.Duration
}

func NewRedisLocker(client redislock.RedisClient, ttl, wait time.Duration) *RedisLocker {
	return &RedisLocker{client: redislock.New(client), ttl: ttl, wait: wait}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	retries := int(l.wait / (100 * time.Millisecond))
	lock, err := l.client.Obtain(ctx, "reconcile:"+key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), retries),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrLockBusy, key)
	}
	if err != nil {
		return nil, fmt.Errorf("obtaining lock %s: %w", key, err)
	}
	return func(ctx context.Context) error {
		if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return err
		}
		return nil
	}, nil
}
