package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"stockfolio/internal/cache"
	"stockfolio/internal/cache/kv"
	"stockfolio/internal/provider"
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

func newClock() *clock { return &clock{now: time.Date(2025, 1, 6, 15, 0, 0, 0, time.UTC)} }

func TestKeys(t *testing.T) {
	t.Parallel()

	require.Equal(t, "quote:AC.TO", cache.QuoteKey("AC.TO"))
	require.Equal(t, "series:AAPL|1week|52", cache.SeriesKey("AAPL", provider.Weekly, 52))
}

func TestRead_FreshUntilExpiry(t *testing.T) {
	t.Parallel()

	// Arrange
	clk := newClock()
	store := cache.New[provider.Quote](kv.NewMemory(0), cache.WithClock(clk.Now))
	q := provider.Quote{Price: 24.5, PreviousClose: 24.3}
	store.Write(t.Context(), "quote:AC.TO", q, time.Hour)

	// Act + Assert
	got, ok := store.Read(t.Context(), "quote:AC.TO")
	require.True(t, ok)
	require.Equal(t, q, got)

	clk.Advance(time.Hour - time.Nanosecond)
	_, ok = store.Read(t.Context(), "quote:AC.TO")
	require.True(t, ok)

	// expiry is exclusive
	clk.Advance(time.Nanosecond)
	_, ok = store.Read(t.Context(), "quote:AC.TO")
	require.False(t, ok)

	got, ok = store.ReadAllowingStale(t.Context(), "quote:AC.TO")
	require.True(t, ok)
	require.Equal(t, q, got)
}

func TestRead_Miss(t *testing.T) {
	t.Parallel()

	store := cache.New[provider.Quote](kv.NewMemory(0))
	_, ok := store.Read(t.Context(), "quote:NOPE")
	require.False(t, ok)
	_, ok = store.ReadAllowingStale(t.Context(), "quote:NOPE")
	require.False(t, ok)
}

func TestRead_RehydratesFromDurable(t *testing.T) {
	t.Parallel()

	clk := newClock()
	durable := kv.NewMemory(0)

	// a previous process wrote the entry
	writer := cache.New[provider.Quote](durable, cache.WithClock(clk.Now))
	writer.Write(t.Context(), "quote:AAPL", provider.Quote{Price: 190}, time.Hour)

	reader := cache.New[provider.Quote](durable, cache.WithClock(clk.Now), cache.WithRehydrateTTL(time.Second))
	got, ok := reader.Read(t.Context(), "quote:AAPL")
	require.True(t, ok)
	require.Equal(t, 190.0, got.Price)

	// another process refreshes the durable tier; the reader sees it once
	// its rehydrated copy lapses
	other := cache.New[provider.Quote](durable, cache.WithClock(clk.Now))
	other.Write(t.Context(), "quote:AAPL", provider.Quote{Price: 191}, time.Hour)

	got, _ = reader.Read(t.Context(), "quote:AAPL")
	require.Equal(t, 190.0, got.Price)

	clk.Advance(time.Second)
	got, ok = reader.Read(t.Context(), "quote:AAPL")
	require.True(t, ok)
	require.Equal(t, 191.0, got.Price)
}

func TestRead_RehydrationNeverExtendsFreshness(t *testing.T) {
	t.Parallel()

	clk := newClock()
	durable := kv.NewMemory(0)
	cache.New[provider.Quote](durable, cache.WithClock(clk.Now)).
		Write(t.Context(), "quote:AAPL", provider.Quote{Price: 1}, 500*time.Millisecond)

	reader := cache.New[provider.Quote](durable, cache.WithClock(clk.Now), cache.WithRehydrateTTL(time.Minute))
	_, ok := reader.Read(t.Context(), "quote:AAPL")
	require.True(t, ok)

	clk.Advance(500 * time.Millisecond)
	_, ok = reader.Read(t.Context(), "quote:AAPL")
	require.False(t, ok)
}

func TestReadAllowingStale_SurvivesRestart(t *testing.T) {
	t.Parallel()

	clk := newClock()
	durable, err := kv.NewDir(t.TempDir(), 0)
	require.NoError(t, err)

	series := provider.Series{{Date: "2025-01-02", Close: 243.85}, {Date: "2025-01-03", Close: 243.36}}
	cache.New[provider.Series](durable, cache.WithClock(clk.Now)).
		Write(t.Context(), cache.SeriesKey("AAPL", provider.Daily, 2), series, time.Hour)

	clk.Advance(48 * time.Hour)
	restarted := cache.New[provider.Series](durable, cache.WithClock(clk.Now))

	_, ok := restarted.Read(t.Context(), cache.SeriesKey("AAPL", provider.Daily, 2))
	require.False(t, ok)
	got, ok := restarted.ReadAllowingStale(t.Context(), cache.SeriesKey("AAPL", provider.Daily, 2))
	require.True(t, ok)
	require.Equal(t, series, got)
}

func TestWrite_QuotaExceededIsSwallowed(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	store := cache.New[provider.Quote](kv.NewMemory(8), cache.WithLogger(zap.New(core)))

	// Act: the durable write cannot fit
	store.Write(t.Context(), "quote:AAPL", provider.Quote{Price: 190}, time.Hour)

	// Assert: memory still serves it and the skip is logged
	got, ok := store.Read(t.Context(), "quote:AAPL")
	require.True(t, ok)
	require.Equal(t, 190.0, got.Price)
	require.Equal(t, 1, logs.FilterMessageSnippet("quota").Len())
}

type failingKV struct{ gets atomic.Int32 }

func (f *failingKV) Get(context.Context, string) ([]byte, error) {
	f.gets.Add(1)
	return nil, errors.New("connection reset")
}
func (f *failingKV) Set(context.Context, string, []byte) error { return errors.New("connection reset") }
func (f *failingKV) Remove(context.Context, string) error      { return nil }

func TestStore_DurableFailuresDegrade(t *testing.T) {
	t.Parallel()

	durable := &failingKV{}
	store := cache.New[provider.Quote](durable)

	_, ok := store.Read(t.Context(), "quote:AAPL")
	require.False(t, ok)
	require.EqualValues(t, 1, durable.gets.Load())

	store.Write(t.Context(), "quote:AAPL", provider.Quote{Price: 3}, time.Minute)
	got, ok := store.Read(t.Context(), "quote:AAPL")
	require.True(t, ok)
	require.Equal(t, 3.0, got.Price)
}

func TestStore_CorruptDurableEntryIsAMiss(t *testing.T) {
	t.Parallel()

	durable := kv.NewMemory(0)
	require.NoError(t, durable.Set(t.Context(), "quote:AAPL", []byte("{not json")))

	store := cache.New[provider.Quote](durable)
	_, ok := store.ReadAllowingStale(t.Context(), "quote:AAPL")
	require.False(t, ok)
}

func TestStore_WithoutDurableTier(t *testing.T) {
	t.Parallel()

	store := cache.New[provider.Quote](nil)
	store.Write(t.Context(), "quote:X", provider.Quote{Price: 1}, time.Minute)
	_, ok := store.Read(t.Context(), "quote:X")
	require.True(t, ok)
}

func TestRemember_MemoryOnly(t *testing.T) {
	t.Parallel()

	clk := newClock()
	durable := kv.NewMemory(0)
	store := cache.New[provider.Quote](durable, cache.WithClock(clk.Now))

	store.Remember("quote:AAPL", provider.Quote{Price: 189.5}, 30*time.Second)
	_, err := durable.Get(t.Context(), "quote:AAPL")
	require.ErrorIs(t, err, kv.ErrNotFound)

	_, ok := store.Read(t.Context(), "quote:AAPL")
	require.True(t, ok)

	clk.Advance(30 * time.Second)
	_, ok = store.Read(t.Context(), "quote:AAPL")
	require.False(t, ok)
}

func TestReadAllowingStale_WrittenValueBeatsRemembered(t *testing.T) {
	t.Parallel()

	// Arrange: a written value expired in the durable tier, then a later
	// fallback answer remembered in memory
	clk := newClock()
	durable := kv.NewMemory(0)
	cache.New[provider.Quote](durable, cache.WithClock(clk.Now)).
		Write(t.Context(), "quote:AAPL", provider.Quote{Price: 200}, time.Hour)
	clk.Advance(2 * time.Hour)

	store := cache.New[provider.Quote](durable, cache.WithClock(clk.Now))
	store.Remember("quote:AAPL", provider.Quote{Price: 189.84}, 30*time.Second)

	// Act: the remembered answer is still fresh
	fresh, ok := store.ReadAllowingStale(t.Context(), "quote:AAPL")
	require.True(t, ok)
	require.Equal(t, 189.84, fresh.Price)

	clk.Advance(time.Minute)
	got, ok := store.ReadAllowingStale(t.Context(), "quote:AAPL")

	// Assert: once both are expired the written value wins
	require.True(t, ok)
	require.Equal(t, 200.0, got.Price)
}

// cancelAwareKV fails reads made with a canceled context.
type cancelAwareKV struct{ kv.KV }

func (c cancelAwareKV) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.KV.Get(ctx, key)
}

func TestRead_DurableLoadDetachedFromCancellation(t *testing.T) {
	t.Parallel()

	durable := cancelAwareKV{KV: kv.NewMemory(0)}
	cache.New[provider.Quote](durable).Write(t.Context(), "quote:AAPL", provider.Quote{Price: 190}, time.Hour)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	got, ok := cache.New[provider.Quote](durable).Read(ctx, "quote:AAPL")
	require.True(t, ok)
	require.Equal(t, 190.0, got.Price)
}
