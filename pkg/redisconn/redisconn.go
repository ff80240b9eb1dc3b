package redisconn

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/flowgate/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides the shared redis client. The client is nil when no
// address is configured; consumers fall back to in-process stores.
var Module = fx.Module("redisconn",
	fx.Provide(New),
)

func New(cfg config.Config, log *zap.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		log.Named("redisconn").Warn("redis not configured, counter and lock stores run in-process")
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}
