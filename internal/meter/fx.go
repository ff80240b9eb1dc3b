package meter

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/flowgate/internal/clock"
	meterdomain "github.com/smallbiznis/flowgate/internal/meter/domain"
	"github.com/smallbiznis/flowgate/internal/meter/service"
	"github.com/smallbiznis/flowgate/internal/meter/store"
	"go.uber.org/fx"
)

var Module = fx.Module("meter",
	fx.Provide(NewCounterStore),
	fx.Provide(service.New),
)

// NewCounterStore returns the redis-backed store when a client is
// configured, the in-process one otherwise.
func NewCounterStore(client *redis.Client, clk clock.Clock) meterdomain.CounterStore {
	if client != nil {
		return store.NewRedisCounterStore(client)
	}
	return store.NewMemoryCounterStore(clk)
}
