package lock

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/aitime/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewRedisClient returns nil when no redis address is configured; the
// scheduler then falls back to local-only guarding.
func NewRedisClient(cfg config.Config, log *zap.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		log.Info("redis not configured; maintenance jobs run unguarded")
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
}

var Module = fx.Module("lock",
	fx.Provide(
		NewRedisClient,
		NewLocker,
	),
)
