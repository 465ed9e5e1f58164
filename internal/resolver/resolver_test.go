package resolver_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap/zaptest"

	"stockfolio/internal/apistate"
	"stockfolio/internal/cache"
	"stockfolio/internal/cache/kv"
	"stockfolio/internal/config"
	"stockfolio/internal/metrics"
	"stockfolio/internal/mockdata"
	"stockfolio/internal/provider"
	"stockfolio/internal/provider/providermock"
	"stockfolio/internal/resolver"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	resolver *resolver.Resolver
	state    *apistate.State
	metrics  *metrics.Metrics
	clock    *clock
	durable  kv.KV
}

func newMock(ctrl *gomock.Controller, name string, enabled bool) *providermock.MockProvider {
	p := providermock.NewMockProvider(ctrl)
	p.EXPECT().Name().Return(name).AnyTimes()
	p.EXPECT().Enabled().Return(enabled).AnyTimes()
	return p
}

func setup(t *testing.T, routes config.Routes, providers ...provider.Provider) *fixture {
	t.Helper()

	f := &fixture{
		state:   apistate.New(),
		metrics: metrics.New(),
		clock:   &clock{now: time.Date(2025, 1, 6, 15, 0, 0, 0, time.UTC)},
		durable: kv.NewMemory(0),
	}
	f.resolver = resolver.New(resolver.Params{
		Providers:   providers,
		Routes:      routes,
		Quotes:      cache.New[provider.Quote](f.durable, cache.WithClock(f.clock.Now)),
		Series:      cache.New[provider.Series](f.durable, cache.WithClock(f.clock.Now)),
		State:       f.state,
		Metrics:     f.metrics,
		Logger:      zaptest.NewLogger(t),
		QuoteTTL:    time.Hour,
		SeriesTTL:   2 * time.Hour,
		FallbackTTL: 30 * time.Second,
		Now:         f.clock.Now,
	})
	return f
}

func defaultRoutes() config.Routes { return config.Default().Routes }

func ptr(v float64) *float64 { return &v }

func TestFetchQuote_EmptySymbol(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	fh := newMock(ctrl, config.Finnhub, true)
	f := setup(t, defaultRoutes(), fh)

	require.Equal(t, provider.Quote{}, f.resolver.FetchQuote(t.Context(), "   "))
	require.Equal(t, provider.Series{}, f.resolver.FetchSeries(t.Context(), "", provider.Daily, 10))
	require.Equal(t, apistate.Snapshot{}, f.state.Snapshot())
}

func TestFetchQuote_TSXNeverHitsPrimary(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	fh := newMock(ctrl, config.Finnhub, true)
	av := newMock(ctrl, config.AlphaVantage, true)
	td := newMock(ctrl, config.TwelveData, true)

	fh.EXPECT().FetchQuote(gomock.Any(), gomock.Any()).Times(0)
	want := provider.Quote{Price: 24.5, PreviousClose: 24.3, ChangePercent: ptr(0.82)}
	gomock.InOrder(
		av.EXPECT().FetchQuote(gomock.Any(), "AC.TO").
			Return(provider.Quote{}, provider.Errorf(config.AlphaVantage, provider.KindRateLimit, "Note: 5 calls per minute")),
		td.EXPECT().FetchQuote(gomock.Any(), "AC.TO").Return(want, nil),
	)

	f := setup(t, defaultRoutes(), fh, av, td)

	// Act
	got := f.resolver.FetchQuote(t.Context(), " ac.to")

	// Assert
	require.Equal(t, want, got)
	require.Equal(t, apistate.Snapshot{}, f.state.Snapshot())
}

func TestFetchQuote_SoleProviderFailsServesMock(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	fh := newMock(ctrl, config.Finnhub, true)
	fh.EXPECT().FetchQuote(gomock.Any(), "AAPL").
		Return(provider.Quote{}, provider.Errorf(config.Finnhub, provider.KindUpstream, "HTTP 502"))

	f := setup(t, config.Routes{Default: []string{config.Finnhub}}, fh)

	got := f.resolver.FetchQuote(t.Context(), "AAPL")

	want, _ := mockdata.Quote("AAPL")
	require.Equal(t, want, got)
	snap := f.state.Snapshot()
	require.Equal(t, "finnhub: HTTP 502", snap.LastError)
	require.False(t, snap.InvalidKey)
	require.False(t, snap.NoProviders)
	require.True(t, f.state.Recent(apistate.DefaultRecentWindow))
	require.InDelta(t, 1, testutil.ToFloat64(f.metrics.Fallbacks.WithLabelValues("quote", metrics.FallbackMock)), 0)
}

func TestFetchQuote_UnknownSymbolFallsToZero(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	fh := newMock(ctrl, config.Finnhub, true)
	fh.EXPECT().FetchQuote(gomock.Any(), "ZZZZ").
		Return(provider.Quote{}, provider.Errorf(config.Finnhub, provider.KindNotFound, "no quote"))

	f := setup(t, config.Routes{Default: []string{config.Finnhub}}, fh)

	require.Equal(t, provider.Quote{}, f.resolver.FetchQuote(t.Context(), "zzzz"))
	require.NotEmpty(t, f.state.Snapshot().LastError)
}

func TestFetchQuote_SecondProviderResultIsCached(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	fh := newMock(ctrl, config.Finnhub, true)
	td := newMock(ctrl, config.TwelveData, true)
	fh.EXPECT().FetchQuote(gomock.Any(), "MSFT").
		Return(provider.Quote{}, provider.Errorf(config.Finnhub, provider.KindTransport, "connection refused")).Times(1)
	td.EXPECT().FetchQuote(gomock.Any(), "MSFT").
		Return(provider.Quote{Price: 420.1, PreviousClose: 415.5}, nil).Times(1)

	f := setup(t, defaultRoutes(), fh, td)

	// Act
	first := f.resolver.FetchQuote(t.Context(), "MSFT")
	f.clock.Advance(time.Hour - time.Second)
	second := f.resolver.FetchQuote(t.Context(), "msft")

	// Assert
	want := provider.Quote{Price: 420.1, PreviousClose: 415.5}
	require.Equal(t, want, first)
	require.Equal(t, want, second)
	require.Equal(t, apistate.Snapshot{}, f.state.Snapshot())
}

func TestFetchQuote_RefetchesAfterExpiry(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	fh := newMock(ctrl, config.Finnhub, true)
	gomock.InOrder(
		fh.EXPECT().FetchQuote(gomock.Any(), "NVDA").Return(provider.Quote{Price: 100}, nil),
		fh.EXPECT().FetchQuote(gomock.Any(), "NVDA").Return(provider.Quote{Price: 101}, nil),
	)

	f := setup(t, defaultRoutes(), fh)

	require.Equal(t, 100.0, f.resolver.FetchQuote(t.Context(), "NVDA").Price)
	f.clock.Advance(time.Hour)
	require.Equal(t, 101.0, f.resolver.FetchQuote(t.Context(), "NVDA").Price)
}

func TestFetchQuote_MalformedTSXIsNotAKeyProblem(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	av := newMock(ctrl, config.AlphaVantage, true)
	av.EXPECT().FetchQuote(gomock.Any(), "AC.TO").
		Return(provider.Quote{}, provider.Errorf(config.AlphaVantage, provider.KindMalformed, "response without Global Quote"))

	f := setup(t, config.Routes{TSX: []string{config.AlphaVantage}}, av)

	got := f.resolver.FetchQuote(t.Context(), "AC.TO")

	assert.Equal(t, 24.50, got.Price)
	assert.Equal(t, 24.30, got.PreviousClose)
	snap := f.state.Snapshot()
	assert.False(t, snap.InvalidKey)
	assert.NotEmpty(t, snap.LastError)
}

func TestFetchQuote_AuthFailureRaisesInvalidKey(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	fh := newMock(ctrl, config.Finnhub, true)
	td := newMock(ctrl, config.TwelveData, true)
	fh.EXPECT().FetchQuote(gomock.Any(), "AAPL").
		Return(provider.Quote{}, provider.Errorf(config.Finnhub, provider.KindAuth, "Invalid API key"))
	td.EXPECT().FetchQuote(gomock.Any(), "AAPL").
		Return(provider.Quote{}, provider.Errorf(config.TwelveData, provider.KindRateLimit, "out of credits"))

	f := setup(t, defaultRoutes(), fh, td)
	f.resolver.FetchQuote(t.Context(), "AAPL")

	snap := f.state.Snapshot()
	require.True(t, snap.InvalidKey)
	require.Equal(t, "twelvedata: out of credits", snap.LastError)
}

func TestFetchQuote_NoProvidersServedFromMemory(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	fh := newMock(ctrl, config.Finnhub, false)
	td := newMock(ctrl, config.TwelveData, false)
	fh.EXPECT().FetchQuote(gomock.Any(), gomock.Any()).Times(0)
	td.EXPECT().FetchQuote(gomock.Any(), gomock.Any()).Times(0)

	f := setup(t, defaultRoutes(), fh, td)

	// Act: two requests within one second
	first := f.resolver.FetchQuote(t.Context(), "AAPL")
	f.clock.Advance(500 * time.Millisecond)
	second := f.resolver.FetchQuote(t.Context(), "AAPL")

	// Assert
	want, _ := mockdata.Quote("AAPL")
	require.Equal(t, want, first)
	require.Equal(t, want, second)
	require.InDelta(t, 1, testutil.ToFloat64(f.metrics.CacheLookups.WithLabelValues("quote", "hit")), 0)

	snap := f.state.Snapshot()
	require.True(t, snap.NoProviders)
	require.Empty(t, snap.LastError)

	// the fallback never reaches the durable tier
	_, err := f.durable.Get(t.Context(), cache.QuoteKey("AAPL"))
	require.ErrorIs(t, err, kv.ErrNotFound)
}

func TestFetchQuote_DisabledProviderIsSkipped(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	fh := newMock(ctrl, config.Finnhub, false)
	td := newMock(ctrl, config.TwelveData, true)
	td.EXPECT().FetchQuote(gomock.Any(), "TSLA").
		Return(provider.Quote{}, provider.Errorf(config.TwelveData, provider.KindNotFound, "symbol not found"))

	f := setup(t, defaultRoutes(), fh, td)
	f.resolver.FetchQuote(t.Context(), "TSLA")

	snap := f.state.Snapshot()
	require.Equal(t, "twelvedata: symbol not found", snap.LastError)
	require.False(t, snap.NoProviders)
}

func TestFetchQuote_TrivialResultIsAFailure(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	fh := newMock(ctrl, config.Finnhub, true)
	td := newMock(ctrl, config.TwelveData, true)
	fh.EXPECT().FetchQuote(gomock.Any(), "GOOGL").Return(provider.Quote{}, nil)
	td.EXPECT().FetchQuote(gomock.Any(), "GOOGL").Return(provider.Quote{Price: 150}, nil)

	f := setup(t, defaultRoutes(), fh, td)
	require.Equal(t, 150.0, f.resolver.FetchQuote(t.Context(), "GOOGL").Price)
	require.InDelta(t, 1, testutil.ToFloat64(f.metrics.ProviderAttempts.WithLabelValues("finnhub", "quote", metrics.OutcomeEmpty)), 0)
}

func TestFetchQuote_CanonicalizesProviderValues(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	fh := newMock(ctrl, config.Finnhub, true)
	fh.EXPECT().FetchQuote(gomock.Any(), "AMZN").Return(provider.Quote{Price: 180, PreviousClose: -1}, nil)

	f := setup(t, defaultRoutes(), fh)
	got := f.resolver.FetchQuote(t.Context(), "AMZN")
	require.Equal(t, provider.Quote{Price: 180}, got)
}

func TestFetchQuote_StalePreferredOverMock(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	fh := newMock(ctrl, config.Finnhub, true)
	gomock.InOrder(
		fh.EXPECT().FetchQuote(gomock.Any(), "AAPL").Return(provider.Quote{Price: 201, PreviousClose: 200}, nil),
		fh.EXPECT().FetchQuote(gomock.Any(), "AAPL").
			Return(provider.Quote{}, provider.Errorf(config.Finnhub, provider.KindRateLimit, "API limit reached")),
	)

	f := setup(t, config.Routes{Default: []string{config.Finnhub}}, fh)
	f.resolver.FetchQuote(t.Context(), "AAPL")
	f.clock.Advance(2 * time.Hour)

	got := f.resolver.FetchQuote(t.Context(), "AAPL")
	require.Equal(t, provider.Quote{Price: 201, PreviousClose: 200}, got)
	require.InDelta(t, 1, testutil.ToFloat64(f.metrics.Fallbacks.WithLabelValues("quote", metrics.FallbackStale)), 0)
}

// flakyKV fails the first failures reads and then serves the wrapped KV.
type flakyKV struct {
	kv.KV
	failures atomic.Int32
}

func (f *flakyKV) Get(ctx context.Context, key string) ([]byte, error) {
	if f.failures.Add(-1) >= 0 {
		return nil, errors.New("connection reset")
	}
	return f.KV.Get(ctx, key)
}

func TestFetchQuote_StaleRecoveredAfterDurableOutage(t *testing.T) {
	t.Parallel()

	// Arrange: a real quote from an earlier process has expired in the
	// durable tier, and the next two durable reads fail
	clk := &clock{now: time.Date(2025, 1, 6, 15, 0, 0, 0, time.UTC)}
	backing := kv.NewMemory(0)
	cache.New[provider.Quote](backing, cache.WithClock(clk.Now)).
		Write(t.Context(), cache.QuoteKey("AAPL"), provider.Quote{Price: 200, PreviousClose: 198}, time.Hour)
	clk.Advance(2 * time.Hour)

	durable := &flakyKV{KV: backing}
	durable.failures.Store(2)

	ctrl := gomock.NewController(t)
	fh := newMock(ctrl, config.Finnhub, true)
	fh.EXPECT().FetchQuote(gomock.Any(), "AAPL").
		Return(provider.Quote{}, provider.Errorf(config.Finnhub, provider.KindUpstream, "bad gateway")).
		AnyTimes()

	r := resolver.New(resolver.Params{
		Providers:   []provider.Provider{fh},
		Routes:      config.Routes{Default: []string{config.Finnhub}},
		Quotes:      cache.New[provider.Quote](durable, cache.WithClock(clk.Now)),
		Logger:      zaptest.NewLogger(t),
		QuoteTTL:    time.Hour,
		FallbackTTL: 30 * time.Second,
		Now:         clk.Now,
	})

	// Act: the outage hides the stale value, so mock data is served
	first := r.FetchQuote(t.Context(), "AAPL")
	want, _ := mockdata.Quote("AAPL")
	require.Equal(t, want, first)

	// Assert: with the durable tier healthy again the real value returns
	for range 3 {
		clk.Advance(time.Minute)
		got := r.FetchQuote(t.Context(), "AAPL")
		require.Equal(t, 200.0, got.Price)
		require.Equal(t, 198.0, got.PreviousClose)
	}
}

func TestFetchQuote_CanceledContextDoesNotRecordFailure(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	fh := newMock(ctrl, config.Finnhub, true)
	fh.EXPECT().FetchQuote(gomock.Any(), gomock.Any()).Times(0)

	f := setup(t, defaultRoutes(), fh)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	want, _ := mockdata.Quote("AAPL")
	require.Equal(t, want, f.resolver.FetchQuote(ctx, "AAPL"))
	require.Empty(t, f.state.Snapshot().LastError)
}

func TestFetchSeries_RoundTrip(t *testing.T) {
	t.Parallel()

	// Arrange: an unordered answer with a duplicate date
	ctrl := gomock.NewController(t)
	fh := newMock(ctrl, config.Finnhub, true)
	fh.EXPECT().FetchSeries(gomock.Any(), "AAPL", provider.Weekly, 3).Return(provider.Series{
		{Date: "2024-12-27", Close: 255.59},
		{Date: "2024-12-13", Close: 248.13},
		{Date: "2024-12-20", Close: 254.49},
		{Date: "2024-12-06", Close: 242.84},
		{Date: "2024-12-20", Close: 254.49},
	}, nil).Times(1)

	f := setup(t, defaultRoutes(), fh)

	// Act
	first := f.resolver.FetchSeries(t.Context(), "aapl", provider.Weekly, 3)
	second := f.resolver.FetchSeries(t.Context(), "AAPL", provider.Weekly, 3)

	// Assert
	want := provider.Series{
		{Date: "2024-12-13", Close: 248.13},
		{Date: "2024-12-20", Close: 254.49},
		{Date: "2024-12-27", Close: 255.59},
	}
	require.Equal(t, want, first)
	require.Equal(t, want, second)
}

func TestFetchSeries_EmptyMovesToNextProvider(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	av := newMock(ctrl, config.AlphaVantage, true)
	td := newMock(ctrl, config.TwelveData, true)
	av.EXPECT().FetchSeries(gomock.Any(), "SHOP.TO", provider.Daily, 30).Return(provider.Series{}, nil)
	td.EXPECT().FetchSeries(gomock.Any(), "SHOP.TO", provider.Daily, 30).
		Return(provider.Series{{Date: "2025-01-03", Close: 110.2}}, nil)

	f := setup(t, defaultRoutes(), av, td)

	// a zero output count and empty interval take the defaults
	got := f.resolver.FetchSeries(t.Context(), "shop.to", "", 0)
	require.Equal(t, provider.Series{{Date: "2025-01-03", Close: 110.2}}, got)
}

func TestFetchSeries_TotalFailureServesMockSeries(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	fh := newMock(ctrl, config.Finnhub, true)
	fh.EXPECT().FetchSeries(gomock.Any(), "MSFT", provider.Monthly, 6).
		Return(nil, provider.Errorf(config.Finnhub, provider.KindAuth, "You don't have access to this resource."))

	f := setup(t, config.Routes{Default: []string{config.Finnhub}}, fh)
	got := f.resolver.FetchSeries(t.Context(), "MSFT", provider.Monthly, 6)

	require.Equal(t, mockdata.Series("MSFT", provider.Monthly, 6, f.clock.Now()), got)
	require.True(t, f.state.Snapshot().InvalidKey)
}

func TestConfigParams(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	p := resolver.ConfigParams(cfg)
	require.Equal(t, 6*time.Hour, p.QuoteTTL)
	require.Equal(t, 12*time.Hour, p.SeriesTTL)
	require.Equal(t, 30*time.Second, p.FallbackTTL)
	require.Equal(t, cfg.Routes, p.Routes)

	cfg.Cache.FallbackTTLSec = 0
	require.Negative(t, resolver.ConfigParams(cfg).FallbackTTL)
}
