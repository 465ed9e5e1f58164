package portfolio

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"stockfolio/internal/config"
)

var Module = fx.Module("portfolio",
	fx.Provide(NewStore),
)

// NewStore keeps portfolios in Redis when the cache is configured for
// Redis, and in memory otherwise.
func NewStore(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (Store, error) {
	if cfg.Cache.RedisURL == "" {
		log.Warn("portfolio store is in memory, saved portfolios are lost on restart")
		return NewMemoryStore(), nil
	}
	opts, err := redis.ParseURL(cfg.Cache.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	lc.Append(fx.StopHook(client.Close))
	return NewRedisStore(client, cfg.Cache.RedisPrefix+"portfolio:"), nil
}
