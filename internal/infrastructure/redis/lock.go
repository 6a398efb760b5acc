package redis

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/honeynil/SubscriptionShopBot/pkg/errors"
)

// Locker serializes work on a key across callers. Unlock is safe to call
// more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// RedisLocker is a SetNX lease lock. Each holder writes a unique token so an
// expired holder cannot release a lock that has since been taken by someone else.
type RedisLocker struct {
	client RedisClient
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

func NewRedisLocker(client RedisClient, ttl, wait time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl, wait: wait, retry: 25 * time.Millisecond}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := "lock:" + key
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, l.ttl)
		if err != nil {
			slog.Error("failed to acquire lock", "lock_key", lockKey, "error", err)
			return nil, err
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			slog.Warn("lock is busy", "lock_key", lockKey)
			return nil, pkgerrors.ErrBusy
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if _, err := l.client.DelIfEqual(context.Background(), lockKey, token); err != nil {
				slog.Error("failed to release lock", "lock_key", lockKey, "error", err)
			}
		})
	}, nil
}
