package store

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
	meterdomain "github.com/smallbiznis/flowgate/internal/meter/domain"
)

// incrIfBelowScript gates the increment on the current count so
// concurrent callers cannot race a read-then-increment past the limit.
// Returns {count, incremented}.
const incrIfBelowScript = `
local limit = tonumber(ARGV[1])
local expireAt = tonumber(ARGV[2])

local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if limit >= 0 and current >= limit then
  return {current, 0}
end

local count = redis.call("INCR", KEYS[1])
if count == 1 and expireAt > 0 then
  redis.call("EXPIREAT", KEYS[1], expireAt)
end
return {count, 1}
`

// RedisCounterStore implements meterdomain.CounterStore on redis.
type RedisCounterStore struct {
	client *redis.Client
	script *redis.Script
}

func NewRedisCounterStore(client *redis.Client) *RedisCounterStore {
	if client == nil {
		return nil
	}
	return &RedisCounterStore{
		client: client,
		script: redis.NewScript(incrIfBelowScript),
	}
}

func (s *RedisCounterStore) IncrIfBelow(ctx context.Context, key string, limit int64, expireAt time.Time) (int64, bool, error) {
	if s == nil || s.client == nil {
		return 0, false, errors.New("counter store not configured")
	}
	if key == "" {
		return 0, false, errors.New("counter key is empty")
	}

	var expireUnix int64
	if !expireAt.IsZero() {
		expireUnix = expireAt.Unix()
	}
	res, err := s.script.Run(ctx, s.client, []string{key}, limit, expireUnix).Slice()
	if err != nil {
		return 0, false, err
	}
	if len(res) < 2 {
		return 0, false, errors.New("invalid counter script response")
	}

	count, _ := res[0].(int64)
	incremented, _ := res[1].(int64)
	return count, incremented == 1, nil
}

func (s *RedisCounterStore) Get(ctx context.Context, key string) (int64, error) {
	if s == nil || s.client == nil {
		return 0, errors.New("counter store not configured")
	}
	value, err := s.client.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return value, nil
}

var _ meterdomain.CounterStore = (*RedisCounterStore)(nil)
