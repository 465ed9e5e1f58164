package apistate_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockfolio/internal/apistate"
)

func TestNew_IsClean(t *testing.T) {
	t.Parallel()

	s := apistate.New()
	require.Equal(t, apistate.Snapshot{}, s.Snapshot())
	require.False(t, s.Recent(apistate.DefaultRecentWindow))
}

func TestRecordFailure(t *testing.T) {
	t.Parallel()

	// Arrange
	now := time.Date(2025, 1, 6, 15, 0, 0, 0, time.UTC)
	s := apistate.New(apistate.WithClock(func() time.Time { return now }))

	// Act
	s.RecordFailure("finnhub: Invalid API key", true)
	s.RecordFailure("twelvedata: response without values", false)

	// Assert
	snap := s.Snapshot()
	assert.Equal(t, "twelvedata: response without values", snap.LastError)
	assert.Equal(t, now, snap.LastErrorAt)
	assert.True(t, snap.InvalidKey)
	assert.False(t, snap.NoProviders)
}

func TestRecent(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 6, 15, 0, 0, 0, time.UTC)
	s := apistate.New(apistate.WithClock(func() time.Time { return now }))
	s.RecordFailure("boom", false)

	require.True(t, s.Recent(apistate.DefaultRecentWindow))
	now = now.Add(apistate.DefaultRecentWindow)
	require.False(t, s.Recent(apistate.DefaultRecentWindow))
}

func TestMarkNoProviders(t *testing.T) {
	t.Parallel()

	s := apistate.New()
	s.MarkNoProviders()
	snap := s.Snapshot()
	require.True(t, snap.NoProviders)
	require.Empty(t, snap.LastError)

	s.Reset()
	require.Equal(t, apistate.Snapshot{}, s.Snapshot())
}

func TestConcurrentUpdatesAreNotLost(t *testing.T) {
	t.Parallel()

	s := apistate.New()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i == 7 {
				s.RecordFailure("auth", true)
				return
			}
			if i%2 == 0 {
				s.MarkNoProviders()
			}
			s.RecordFailure("other", false)
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	require.True(t, snap.InvalidKey)
	require.True(t, snap.NoProviders)
}
