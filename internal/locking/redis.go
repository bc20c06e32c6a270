package locking

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"loan-orchestrator/internal/common/errors"
	"loan-orchestrator/internal/common/logger"
	"loan-orchestrator/internal/common/metrics"
)

const (
	keyPrefix         = "loan:lock:"
	defaultRetryDelay = 50 * time.Millisecond
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every process pointing at the same Redis.
// Locks expire after ttl so a crashed holder cannot block an application forever.
type RedisLocker struct {
	client     redis.Cmdable
	ttl        time.Duration
	wait       time.Duration
	retryDelay time.Duration
	logger     logger.Logger
}

func NewRedisLocker(client redis.Cmdable, ttl, wait time.Duration, log logger.Logger) *RedisLocker {
	return &RedisLocker{
		client:     client,
		ttl:        ttl,
		wait:       wait,
		retryDelay: defaultRetryDelay,
		logger:     log.WithFields(map[string]interface{}{"component": "redis-locker"}),
	}
}

func (r *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	redisKey := keyPrefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(r.wait)
	waited := false

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, errors.NewDatabaseConnectionFailedError(err)
		}
		if ok {
			break
		}

		if !waited {
			waited = true
			metrics.LockContention.WithLabelValues("redis", "waited").Inc()
		}
		if time.Now().After(deadline) {
			metrics.LockContention.WithLabelValues("redis", "gave_up").Inc()
			return nil, errors.NewConcurrentModificationError(key)
		}

		timer := time.NewTimer(r.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			metrics.LockContention.WithLabelValues("redis", "gave_up").Inc()
			return nil, errors.NewConcurrentModificationError(key).WithMetadata("cause", ctx.Err().Error())
		case <-timer.C:
		}
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		// The caller's context may already be done; release on a fresh one.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, r.client, []string{redisKey}, token).Err(); err != nil && err != redis.Nil {
			r.logger.Warn("Failed to release lock", map[string]interface{}{
				"key":   key,
				"error": err,
			})
		}
	}, nil
}
