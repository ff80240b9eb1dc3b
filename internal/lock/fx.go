package lock

import (
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("lock",
	fx.Provide(NewLocker),
)

// NewLocker returns the redis-backed locker when a client is
// configured, the in-process one otherwise.
func NewLocker(client *redis.Client) Locker {
	if client != nil {
		return NewRedisLocker(client)
	}
	return NewMemoryLocker()
}
