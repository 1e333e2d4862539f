package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	values map[string]string
	ttls   map[string]time.Duration
	setErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	if f.setErr != nil {
		return redis.NewBoolResult(false, f.setErr)
	}
	if _, held := f.values[key]; held {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = value.(string)
	f.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Eval(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	if f.values[keys[0]] == args[0].(string) {
		delete(f.values, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()

	t.Run("Second holder is refused until release", func(t *testing.T) {
		client := newFakeRedis()
		l := NewRedisLocker(client, "")

		release, err := l.Acquire(ctx, "reconciliation", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, time.Minute, client.ttls["car-rental:lock:reconciliation"])

		_, err = l.Acquire(ctx, "reconciliation", time.Minute)
		assert.ErrorIs(t, err, ErrNotAcquired)

		require.NoError(t, release(ctx))
		_, err = l.Acquire(ctx, "reconciliation", time.Minute)
		assert.NoError(t, err)
	})

	t.Run("Release leaves a newer holder alone", func(t *testing.T) {
		client := newFakeRedis()
		l := NewRedisLocker(client, "jobs:")

		release, err := l.Acquire(ctx, "late", time.Minute)
		require.NoError(t, err)
		client.values["jobs:late"] = "someone-else"

		require.NoError(t, release(ctx))
		assert.Equal(t, "someone-else", client.values["jobs:late"])
	})

	t.Run("Redis errors surface", func(t *testing.T) {
		client := newFakeRedis()
		client.setErr = errors.New("connection refused")
		_, err := NewRedisLocker(client, "").Acquire(ctx, "late", time.Minute)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotAcquired)
	})
}

func TestNoopLocker(t *testing.T) {
	release, err := NoopLocker{}.Acquire(context.Background(), "any", time.Second)
	require.NoError(t, err)
	assert.NoError(t, release(context.Background()))
}
