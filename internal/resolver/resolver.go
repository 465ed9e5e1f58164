// Package resolver answers quote and series lookups. It consults the cache,
// walks the provider chain for the symbol's market and, when every provider
// fails, degrades to stale cache and then to mock data. Callers never see an
// error; failures are reported through apistate.
package resolver

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"stockfolio/internal/apistate"
	"stockfolio/internal/cache"
	"stockfolio/internal/config"
	"stockfolio/internal/metrics"
	"stockfolio/internal/mockdata"
	"stockfolio/internal/provider"
	"stockfolio/internal/symbol"
)

const (
	opQuote  = "quote"
	opSeries = "series"

	defaultOutputCount = 30
)

// Params carries the dependencies of a Resolver. Zero TTLs take the
// configuration defaults; a negative FallbackTTL disables remembering
// fallback answers.
type Params struct {
	Providers   []provider.Provider
	Routes      config.Routes
	Quotes      *cache.Store[provider.Quote]
	Series      *cache.Store[provider.Series]
	State       *apistate.State
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	QuoteTTL    time.Duration
	SeriesTTL   time.Duration
	FallbackTTL time.Duration
	Now         func() time.Time
}

type Resolver struct {
	providers map[string]provider.Provider
	routes    config.Routes

	quotes *cache.Store[provider.Quote]
	series *cache.Store[provider.Series]
	state  *apistate.State

	metrics *metrics.Metrics
	log     *zap.Logger

	quoteTTL    time.Duration
	seriesTTL   time.Duration
	fallbackTTL time.Duration
	now         func() time.Time
}

func New(p Params) *Resolver {
	defaults := config.Default()
	r := &Resolver{
		providers:   make(map[string]provider.Provider, len(p.Providers)),
		routes:      p.Routes,
		quotes:      p.Quotes,
		series:      p.Series,
		state:       p.State,
		metrics:     p.Metrics,
		log:         p.Logger,
		quoteTTL:    p.QuoteTTL,
		seriesTTL:   p.SeriesTTL,
		fallbackTTL: p.FallbackTTL,
		now:         p.Now,
	}
	for _, prov := range p.Providers {
		r.providers[prov.Name()] = prov
	}
	if r.quotes == nil {
		r.quotes = cache.New[provider.Quote](nil)
	}
	if r.series == nil {
		r.series = cache.New[provider.Series](nil)
	}
	if r.state == nil {
		r.state = apistate.New()
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	if r.quoteTTL <= 0 {
		r.quoteTTL = time.Duration(defaults.Cache.QuoteTTLSec) * time.Second
	}
	if r.seriesTTL <= 0 {
		r.seriesTTL = time.Duration(defaults.Cache.SeriesTTLSec) * time.Second
	}
	if r.fallbackTTL == 0 {
		r.fallbackTTL = time.Duration(defaults.Cache.FallbackTTLSec) * time.Second
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// State returns the API state the resolver reports to.
func (r *Resolver) State() *apistate.State { return r.state }

// FetchQuote returns the quote for sym. An empty symbol yields the zero
// quote without touching the network or the cache.
func (r *Resolver) FetchQuote(ctx context.Context, sym string) provider.Quote {
	sym = symbol.Normalize(sym)
	if sym == "" {
		return provider.Quote{}
	}
	return resolve(ctx, r, lookup[provider.Quote]{
		op:    opQuote,
		sym:   sym,
		key:   cache.QuoteKey(sym),
		store: r.quotes,
		ttl:   r.quoteTTL,
		fetch: func(ctx context.Context, p provider.Provider) (provider.Quote, error) {
			q, err := p.FetchQuote(ctx, sym)
			return provider.CanonicalQuote(q), err
		},
		usable: func(q provider.Quote) bool { return !q.IsZero() },
		mock: func() (provider.Quote, bool) {
			return mockdata.Quote(sym)
		},
	})
}

// FetchSeries returns up to outputCount closes for sym, oldest first.
func (r *Resolver) FetchSeries(ctx context.Context, sym string, interval provider.Interval, outputCount int) provider.Series {
	sym = symbol.Normalize(sym)
	if sym == "" {
		return provider.Series{}
	}
	if interval == "" {
		interval = provider.Daily
	}
	if outputCount <= 0 {
		outputCount = defaultOutputCount
	}
	return resolve(ctx, r, lookup[provider.Series]{
		op:    opSeries,
		sym:   sym,
		key:   cache.SeriesKey(sym, interval, outputCount),
		store: r.series,
		ttl:   r.seriesTTL,
		fetch: func(ctx context.Context, p provider.Provider) (provider.Series, error) {
			s, err := p.FetchSeries(ctx, sym, interval, outputCount)
			return provider.CanonicalSeries(s, outputCount), err
		},
		usable: func(s provider.Series) bool { return len(s) > 0 },
		mock: func() (provider.Series, bool) {
			s := mockdata.Series(sym, interval, outputCount, r.now())
			return s, len(s) > 0
		},
		zero: provider.Series{},
	})
}

// lookup describes one resolution of a value of type T.
type lookup[T any] struct {
	op    string
	sym   string
	key   string
	store *cache.Store[T]
	ttl   time.Duration
	// fetch returns the canonical value from one provider.
	fetch  func(context.Context, provider.Provider) (T, error)
	usable func(T) bool
	mock   func() (T, bool)
	zero   T
}

func resolve[T any](ctx context.Context, r *Resolver, l lookup[T]) T {
	log := r.log.With(zap.String("op", l.op), zap.String("symbol", l.sym))

	if v, ok := l.store.Read(ctx, l.key); ok {
		r.metrics.Lookup(l.op, true)
		log.Debug("cache hit")
		return v
	}
	r.metrics.Lookup(l.op, false)

	chain := r.chain(l.sym)
	if len(chain) == 0 {
		r.state.MarkNoProviders()
		log.Debug("no provider configured")
		return fallback(ctx, r, log, l)
	}

	var (
		attempts int
		lastErr  error
		invalid  bool
	)
	for _, p := range chain {
		if ctx.Err() != nil {
			break
		}
		attempts++
		v, err := l.fetch(ctx, p)
		if err == nil && l.usable(v) {
			r.metrics.Attempt(p.Name(), l.op, metrics.OutcomeOK)
			l.store.Write(ctx, l.key, v, l.ttl)
			log.Debug("resolved", zap.String("provider", p.Name()))
			return v
		}
		if err == nil {
			err = provider.Errorf(p.Name(), provider.KindNotFound, "empty %s for %s", l.op, l.sym)
			r.metrics.Attempt(p.Name(), l.op, metrics.OutcomeEmpty)
		} else {
			r.metrics.Attempt(p.Name(), l.op, string(provider.KindOf(err)))
		}
		if provider.IsAuth(err) {
			invalid = true
		}
		lastErr = err
		log.Warn("provider failed", zap.String("provider", p.Name()), zap.Error(err))
	}

	switch {
	case lastErr == nil:
		// canceled before the first attempt
	case errors.Is(lastErr, context.Canceled) && ctx.Err() != nil:
		log.Debug("resolution abandoned", zap.Error(lastErr))
	default:
		r.state.RecordFailure(lastErr.Error(), invalid)
		log.Error("all providers failed", zap.Int("attempts", attempts), zap.Bool("invalid_key", invalid), zap.Error(lastErr))
	}
	return fallback(ctx, r, log, l)
}

// fallback serves stale cache, then mock data, then the zero value. The
// answer is remembered in memory for the fallback TTL so a burst of lookups
// does not rerun a failing chain.
func fallback[T any](ctx context.Context, r *Resolver, log *zap.Logger, l lookup[T]) T {
	if v, ok := l.store.ReadAllowingStale(ctx, l.key); ok {
		r.metrics.Fallback(l.op, metrics.FallbackStale)
		log.Info("serving stale value")
		l.store.Remember(l.key, v, r.fallbackTTL)
		return v
	}
	if v, ok := l.mock(); ok {
		r.metrics.Fallback(l.op, metrics.FallbackMock)
		log.Info("serving mock value")
		l.store.Remember(l.key, v, r.fallbackTTL)
		return v
	}
	r.metrics.Fallback(l.op, metrics.FallbackZero)
	return l.zero
}

// chain returns the enabled providers routed for sym, in attempt order.
func (r *Resolver) chain(sym string) []provider.Provider {
	route := r.routes.Default
	if symbol.MarketOf(sym) == symbol.MarketTSX {
		route = r.routes.TSX
	}
	out := make([]provider.Provider, 0, len(route))
	for _, name := range route {
		p, ok := r.providers[name]
		if !ok || !p.Enabled() {
			continue
		}
		out = append(out, p)
	}
	return out
}
