package ratelimit

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/valkyrie/internal/clock"
	"github.com/smallbiznis/valkyrie/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewRedisClient),
	fx.Provide(NewStore),
	fx.Provide(NewLocker),
	fx.Provide(func(store Store, clk clock.Clock, log *zap.Logger, cfg config.Config) *Limiter {
		return NewLimiter(store, clk, log, cfg.DefaultAPIRateLimit)
	}),
	fx.Provide(func(clk clock.Clock, cfg config.Config) *IPThrottle {
		return NewIPThrottle(clk, cfg.AuthIPRate, cfg.AuthIPBurst)
	}),
)

// NewRedisClient returns nil when no redis address is configured.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		log.Info("redis not configured, rate limits are per process")
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				log.Warn("redis ping failed", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client
}

func NewStore(client *redis.Client, clk clock.Clock) Store {
	if client == nil {
		return NewMemoryStore(clk)
	}
	return NewRedisStore(client)
}

func NewLocker(client *redis.Client, clk clock.Clock) Locker {
	if client == nil {
		return NewLocalLocker(clk)
	}
	return NewRedisLocker(client)
}
