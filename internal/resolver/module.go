package resolver

import (
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"stockfolio/internal/apistate"
	"stockfolio/internal/cache"
	"stockfolio/internal/config"
	"stockfolio/internal/httpx"
	"stockfolio/internal/metrics"
	"stockfolio/internal/provider"
	"stockfolio/internal/provider/alphavantage"
	"stockfolio/internal/provider/finnhub"
	"stockfolio/internal/provider/ratelimit"
	"stockfolio/internal/provider/twelvedata"
)

var Module = fx.Module("resolver",
	fx.Provide(
		func() *apistate.State { return apistate.New() },
		metrics.New,
		NewProviders,
		func(
			cfg config.Config,
			providers []provider.Provider,
			quotes *cache.Store[provider.Quote],
			series *cache.Store[provider.Series],
			state *apistate.State,
			m *metrics.Metrics,
			log *zap.Logger,
		) *Resolver {
			p := ConfigParams(cfg)
			p.Providers = providers
			p.Quotes = quotes
			p.Series = series
			p.State = state
			p.Metrics = m
			p.Logger = log.Named("resolver")
			return New(p)
		},
	),
)

// NewProviders builds every known adapter over one shared HTTP client and
// applies the configured rate limits. Adapters without a key are returned
// disabled so routing can skip them.
func NewProviders(cfg config.Config, log *zap.Logger) []provider.Provider {
	hc := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)

	providers := []provider.Provider{
		limit(finnhub.New(cfg.Finnhub.APIKey,
			finnhub.WithHTTPClient(hc), finnhub.WithBaseURL(cfg.Finnhub.BaseURL)), cfg.Finnhub),
		limit(alphavantage.New(cfg.AlphaVantage.APIKey,
			alphavantage.WithHTTPClient(hc), alphavantage.WithBaseURL(cfg.AlphaVantage.BaseURL)), cfg.AlphaVantage),
		limit(twelvedata.New(cfg.TwelveData.APIKey,
			twelvedata.WithHTTPClient(hc), twelvedata.WithBaseURL(cfg.TwelveData.BaseURL)), cfg.TwelveData),
	}
	for _, p := range providers {
		log.Info("provider", zap.String("name", p.Name()), zap.Bool("enabled", p.Enabled()))
	}
	if !cfg.HasCredentials() {
		log.Warn("no provider API keys configured, serving cache and mock data only")
	}
	return providers
}

func limit(p provider.Provider, cfg config.Provider) provider.Provider {
	return ratelimit.Wrap(p, cfg.MaxRequestsPerMinute, cfg.Burst, time.Duration(cfg.MinRequestIntervalSec)*time.Second)
}

// ConfigParams fills the routing and TTL fields of Params from cfg. A zero
// fallback_ttl_sec disables remembering fallback answers.
func ConfigParams(cfg config.Config) Params {
	fallback := time.Duration(cfg.Cache.FallbackTTLSec) * time.Second
	if fallback <= 0 {
		fallback = -1
	}
	return Params{
		Routes:      cfg.Routes,
		QuoteTTL:    time.Duration(cfg.Cache.QuoteTTLSec) * time.Second,
		SeriesTTL:   time.Duration(cfg.Cache.SeriesTTLSec) * time.Second,
		FallbackTTL: fallback,
	}
}
