package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"
)

// RedisLocker serializes writers across processes. Each aggregate key is
// backed by one redislock entry with a TTL guarding against crashed holders.
// Intended for multi-writer deployments where the in-process KeyedMutex is
// not enough.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: redislock.New(client), ttl: ttl}
}

func (r *RedisLocker) Acquire(ctx context.Context, keys []string) (func(), error) {
	sorted := dedupSorted(keys)
	retry := redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 50)

	held := make([]*redislock.Lock, 0, len(sorted))
	releaseHeld := func() {
		for i := len(held) - 1; i >= 0; i-- {
			_ = held[i].Release(context.WithoutCancel(ctx))
		}
	}

	for _, key := range sorted {
		lock, err := r.client.Obtain(ctx, "ledger:"+key, r.ttl, &redislock.Options{RetryStrategy: retry})
		if err != nil {
			releaseHeld()
			if err == redislock.ErrNotObtained {
				return nil, fmt.Errorf("could not obtain lock for %s", key)
			}
			return nil, err
		}
		held = append(held, lock)
	}

	return releaseHeld, nil
}
