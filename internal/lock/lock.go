// Package lock keeps scheduled jobs from running on two instances at once.
package lock

import (
	"context"
	"time"

	"car-rental-backend/internal/logger"
	"car-rental-backend/internal/pkg/errs"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired means another holder owns the lock.
var ErrNotAcquired = errs.New("lock is held elsewhere")

// Release gives a lock back. It is safe to call after the lease expired.
type Release func(ctx context.Context) error

type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Release, error)
}

// releaseScript deletes the key only if it still carries our token.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

type RedisLocker struct {
	client redisClient
	prefix string
}

func NewRedisLocker(client redisClient, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "car-rental:lock:"
	}
	return &RedisLocker{client: client, prefix: prefix}
}

// Dial parses a redis:// URL and returns a connected client.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errs.Wrap(err, "invalid redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errs.Wrap(err, "failed to reach redis")
	}
	return client, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Release, error) {
	key := l.prefix + name
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, errs.Wrapf(err, "failed to acquire lock %s", name)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	logger.Debug("Lock acquired", "lock", name, "ttl", ttl)
	return func(ctx context.Context) error {
		if err := l.client.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
			return errs.Wrapf(err, "failed to release lock %s", name)
		}
		return nil
	}, nil
}

// NoopLocker always grants the lock. Used when only one instance runs jobs.
type NoopLocker struct{}

func (NoopLocker) Acquire(context.Context, string, time.Duration) (Release, error) {
	return func(context.Context) error { return nil }, nil
}
