// File: internal/infra/redis/lock.go
package redis

import (
	"context"
	"time"

	"comment-refiner/internal/domain"
	"comment-refiner/internal/domain/ports/repository"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var _ repository.Locker = (*RedisLocker)(nil)

const (
	lockAttempts  = 5
	lockRetryWait = 50 * time.Millisecond
)

type RedisLocker struct {
	cli   *redis.Client
	setNX func(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	wait  time.Duration
}

func NewLocker(c *Client) *RedisLocker {
	return &RedisLocker{
		cli: c.cli,
		setNX: func(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
			return c.cli.SetNX(ctx, key, token, ttl).Result()
		},
		wait: lockRetryWait,
	}
}

// TryLock retries briefly so a turn arriving just as the previous one finishes still gets through.
// A failed SETNX waits like a held lock does before the next attempt.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	var lastErr error
	for i := 0; i < lockAttempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(l.wait):
			}
		}
		ok, err := l.setNX(ctx, key, token, ttl)
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			return token, nil
		}
		lastErr = nil
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", domain.ErrTurnInProgress
}

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	_, err := luaUnlock.Run(ctx, l.cli, []string{key}, token).Result()
	return err
}
