// Package apistate records the outcome of the last failed resolution so a
// UI can poll it for banners.
package apistate

import (
	"sync/atomic"
	"time"
)

// DefaultRecentWindow is how long a failure counts as recent.
const DefaultRecentWindow = 15 * time.Second

// Snapshot is an immutable view of the state.
type Snapshot struct {
	LastError   string    `json:"lastError,omitempty"`
	LastErrorAt time.Time `json:"lastErrorAt,omitzero"`
	// InvalidKey is sticky: once an auth failure is seen it stays set.
	InvalidKey bool `json:"invalidKey"`
	// NoProviders means a resolution found no provider with credentials.
	NoProviders bool `json:"noProviders"`
}

// State is safe for concurrent use. Every mutation replaces the whole
// record, so readers never observe a half-applied update.
type State struct {
	v   atomic.Pointer[Snapshot]
	now func() time.Time
}

type Option func(*State)

func WithClock(now func() time.Time) Option {
	return func(s *State) { s.now = now }
}

func New(opts ...Option) *State {
	s := &State{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.v.Store(&Snapshot{})
	return s
}

func (s *State) Snapshot() Snapshot { return *s.v.Load() }

// RecordFailure stores msg as the last error. invalidKey raises the
// InvalidKey flag; a false value leaves it as it was.
func (s *State) RecordFailure(msg string, invalidKey bool) {
	at := s.now()
	s.update(func(snap *Snapshot) {
		snap.LastError = msg
		snap.LastErrorAt = at
		snap.InvalidKey = snap.InvalidKey || invalidKey
	})
}

// MarkNoProviders raises the no-credentials notice.
func (s *State) MarkNoProviders() {
	s.update(func(snap *Snapshot) { snap.NoProviders = true })
}

// Recent reports whether the last error happened less than window ago.
func (s *State) Recent(window time.Duration) bool {
	snap := s.Snapshot()
	return snap.LastError != "" && s.now().Sub(snap.LastErrorAt) < window
}

// Reset clears the record.
func (s *State) Reset() { s.v.Store(&Snapshot{}) }

func (s *State) update(fn func(*Snapshot)) {
	for {
		old := s.v.Load()
		next := *old
		fn(&next)
		if s.v.CompareAndSwap(old, &next) {
			return
		}
	}
}
