package cache

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"stockfolio/internal/cache/kv"
	"stockfolio/internal/config"
	"stockfolio/internal/provider"
)

var Module = fx.Module("cache",
	fx.Provide(
		func(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (kv.KV, error) {
			return OpenDurable(lc, cfg.Cache, log)
		},
		func(cfg config.Config, durable kv.KV, log *zap.Logger) *Store[provider.Quote] {
			return New[provider.Quote](durable, StoreOptions(cfg.Cache, log)...)
		},
		func(cfg config.Config, durable kv.KV, log *zap.Logger) *Store[provider.Series] {
			return New[provider.Series](durable, StoreOptions(cfg.Cache, log)...)
		},
	),
)

// OpenDurable picks Redis when a URL is configured and the directory store
// otherwise.
func OpenDurable(lc fx.Lifecycle, cfg config.Cache, log *zap.Logger) (kv.KV, error) {
	if cfg.RedisURL == "" {
		log.Info("durable cache on disk", zap.String("dir", cfg.Dir), zap.Int64("quota_bytes", cfg.QuotaBytes))
		return kv.NewDir(cfg.Dir, cfg.QuotaBytes)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := kv.DialRedis(ctx, cfg.RedisURL, cfg.RedisPrefix)
	if err != nil {
		return nil, err
	}
	if lc != nil {
		lc.Append(fx.StopHook(r.Close))
	}
	log.Info("durable cache on redis", zap.String("prefix", cfg.RedisPrefix))
	return r, nil
}

// StoreOptions translates cache configuration into Store options.
func StoreOptions(cfg config.Cache, log *zap.Logger) []Option {
	return []Option{
		WithLogger(log.Named("cache")),
		WithRehydrateTTL(time.Duration(cfg.RehydrateMillis) * time.Millisecond),
		WithRetention(time.Duration(cfg.MemoryRetentionSec) * time.Second),
	}
}
