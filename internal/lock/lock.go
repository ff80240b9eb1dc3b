package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Locker is a TTL-bounded mutual exclusion primitive scoped by key.
// Allocation writes take one lock per (parent, dimension) so two
// sibling writes cannot validate against the same stale total.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisLocker implements Locker on redis SETNX with token-checked
// release, so a lock that expired mid-hold cannot release a
// successor's lock.
type RedisLocker struct {
	client *redis.Client
	script *redis.Script
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	if client == nil {
		return nil
	}
	return &RedisLocker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
	}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, errors.New("lock client not configured")
	}
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}
