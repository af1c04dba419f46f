package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RecordLocker serializes cross-instance writers of one call record. The
// in-process key lock already serializes writers inside one process; this
// guards deployments running more than one instance.
type RecordLocker interface {
	// Acquire blocks until the lock is held or ctx is done, and returns a
	// release function.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// redisRecordLocker implements RecordLocker with SET NX and an owner token
// so a lock is only ever released by its holder.
type redisRecordLocker struct {
	client *redis.Client
	logger *zap.Logger
	retry  time.Duration
}

// NewRedisRecordLocker creates a redis-backed record locker.
func NewRedisRecordLocker(client *redis.Client, logger *zap.Logger) RecordLocker {
	return &redisRecordLocker{
		client: client,
		logger: logger,
		retry:  20 * time.Millisecond,
	}
}

// releaseScript deletes the lock only when the owner token still matches.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

func (l *redisRecordLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	lockKey := LockPrefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquiring record lock: %w", err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquiring record lock: %w", ctx.Err())
		case <-time.After(l.retry):
		}
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{lockKey}, token).Err(); err != nil {
			l.logger.Warn("record lock release failed",
				zap.String("key", key),
				zap.Error(err))
		}
	}
	return release, nil
}
