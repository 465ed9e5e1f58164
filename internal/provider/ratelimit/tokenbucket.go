package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"stockfolio/internal/provider"
)

// NewTokenBucket returns a limiter refilling perMinute tokens each minute
// with room for burst. The bucket starts full.
func NewTokenBucket(perMinute, burst int) *rate.Limiter {
	if burst <= 0 {
		burst = 1
	}
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, burst)
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60), burst)
}

// TokenBucketProvider wraps a Provider and gates calls using a token bucket.
type TokenBucketProvider struct {
	P  provider.Provider
	TB *rate.Limiter
}

var _ provider.Provider = (*TokenBucketProvider)(nil)

func (t *TokenBucketProvider) Name() string  { return t.P.Name() }
func (t *TokenBucketProvider) Enabled() bool { return t.P.Enabled() }

func (t *TokenBucketProvider) FetchQuote(ctx context.Context, sym string) (provider.Quote, error) {
	if err := t.wait(ctx); err != nil {
		return provider.Quote{}, err
	}
	return t.P.FetchQuote(ctx, sym)
}

func (t *TokenBucketProvider) FetchSeries(ctx context.Context, sym string, interval provider.Interval, outputCount int) (provider.Series, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return t.P.FetchSeries(ctx, sym, interval, outputCount)
}

// wait reports a limiter that cannot admit the call before the context
// deadline as a rate-limit failure so the resolver moves on to the next
// provider in the chain.
func (t *TokenBucketProvider) wait(ctx context.Context) error {
	if t.TB == nil {
		return nil
	}
	if err := t.TB.Wait(ctx); err != nil {
		return provider.Wrap(t.P.Name(), provider.KindRateLimit, "waiting for rate limit", err)
	}
	return nil
}

// Wrap applies the configured limits to p. A zero interval and a zero rate
// leave p undecorated.
func Wrap(p provider.Provider, perMinute, burst int, minInterval time.Duration) provider.Provider {
	if perMinute > 0 {
		p = &TokenBucketProvider{P: p, TB: NewTokenBucket(perMinute, burst)}
	}
	if minInterval > 0 {
		p = &MinInterval{P: p, Interval: minInterval}
	}
	return p
}
