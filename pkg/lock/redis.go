package lock

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	lockKeyPrefix = "otc:settlement:lock:"
	retryDelay    = 50 * time.Millisecond
)

// releaseScript deletes the lock only when it is still held by this owner,
// so an expired lock re-acquired by another instance is never released here.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a distributed Locker backed by Redis SET NX with a TTL.
// Each acquisition is tagged with an owner token derived from the hostname
// and a fresh UUID.
type RedisLocker struct {
	client *redis.Client
	podID  string
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	hostname, _ := os.Hostname()
	return &RedisLocker{
		client: client,
		podID:  fmt.Sprintf("%s-%d", hostname, os.Getpid()),
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	redisKey := lockKeyPrefix + key
	owner := l.podID + "-" + uuid.New().String()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, owner, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock acquire: %w", err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}

	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, owner).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to release distributed lock")
		}
	}
	return release, nil
}
