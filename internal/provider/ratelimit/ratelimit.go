// Package ratelimit decorates providers with client-side pacing so the free
// tiers of upstream APIs are not exhausted by a burst of lookups.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"stockfolio/internal/provider"
)

// MinInterval wraps a provider and enforces a minimum time between calls.
// Concurrent calls wait until the interval has elapsed since the last call,
// or return early if the context is canceled.
type MinInterval struct {
	P        provider.Provider
	Interval time.Duration

	mu   sync.Mutex
	last time.Time
}

var _ provider.Provider = (*MinInterval)(nil)

func (m *MinInterval) Name() string  { return m.P.Name() }
func (m *MinInterval) Enabled() bool { return m.P.Enabled() }

func (m *MinInterval) FetchQuote(ctx context.Context, sym string) (provider.Quote, error) {
	if err := m.gate(ctx); err != nil {
		return provider.Quote{}, err
	}
	defer m.mark()
	return m.P.FetchQuote(ctx, sym)
}

func (m *MinInterval) FetchSeries(ctx context.Context, sym string, interval provider.Interval, outputCount int) (provider.Series, error) {
	if err := m.gate(ctx); err != nil {
		return nil, err
	}
	defer m.mark()
	return m.P.FetchSeries(ctx, sym, interval, outputCount)
}

func (m *MinInterval) gate(ctx context.Context) error {
	if m.Interval <= 0 {
		return nil
	}
	m.mu.Lock()
	wait := time.Until(m.last.Add(m.Interval))
	m.mu.Unlock()
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return provider.Wrap(m.P.Name(), provider.KindRateLimit, "waiting for rate limit", ctx.Err())
	case <-t.C:
		return nil
	}
}

func (m *MinInterval) mark() {
	if m.Interval <= 0 {
		return
	}
	m.mu.Lock()
	m.last = time.Now()
	m.mu.Unlock()
}
