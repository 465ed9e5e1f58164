// Package cache is the two tier store in front of the provider chain. A
// process-local memory tier answers most reads; a durable tier survives
// restarts and is shared between processes when backed by Redis.
//
// Entries are never deleted. Expired entries stay readable through
// ReadAllowingStale until the next successful Write replaces them.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"stockfolio/internal/cache/kv"
)

// DefaultRehydrateTTL bounds how long a value copied up from the durable
// tier is served from memory before the durable tier is consulted again.
const DefaultRehydrateTTL = time.Second

// Entry is the envelope persisted in both tiers. Fallback marks values
// stored by Remember; they never outrank an entry written by Write.
type Entry[T any] struct {
	Value     T         `json:"value"`
	ExpiresAt time.Time `json:"expiresAt"`
	Fallback  bool      `json:"fallback,omitempty"`
}

func (e Entry[T]) freshAt(now time.Time) bool { return now.Before(e.ExpiresAt) }

// outranks orders expired entries: written values before fallbacks, then
// by expiry.
func (e Entry[T]) outranks(o Entry[T]) bool {
	if e.Fallback != o.Fallback {
		return !e.Fallback
	}
	return e.ExpiresAt.After(o.ExpiresAt)
}

type options struct {
	now          func() time.Time
	rehydrateTTL time.Duration
	retention    time.Duration
	log          *zap.Logger
}

// Option is a configuration option for a Store.
type Option func(*options)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRehydrateTTL sets the memory lifetime of values read from the durable tier.
func WithRehydrateTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.rehydrateTTL = d
		}
	}
}

// WithRetention lets the memory tier reclaim entries d after they were
// written. Zero keeps them until the process exits.
func WithRetention(d time.Duration) Option {
	return func(o *options) { o.retention = d }
}

func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// Store caches values of type T by fingerprint. It never returns errors:
// storage problems are logged and degrade to a miss or a skipped write.
type Store[T any] struct {
	mem     *gocache.Cache
	durable kv.KV
	group   singleflight.Group
	options
}

// New creates a Store. A nil durable tier keeps everything in memory.
func New[T any](durable kv.KV, opts ...Option) *Store[T] {
	o := options{now: time.Now, rehydrateTTL: DefaultRehydrateTTL, log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	retention := o.retention
	if retention <= 0 {
		retention = gocache.NoExpiration
	}
	return &Store[T]{
		mem:     gocache.New(retention, 10*time.Minute),
		durable: durable,
		options: o,
	}
}

// Read returns the fresh value stored under key.
func (s *Store[T]) Read(ctx context.Context, key string) (T, bool) {
	now := s.now()
	if e, ok := s.memory(key); ok && e.freshAt(now) {
		return e.Value, true
	}
	if e, ok := s.load(ctx, key); ok && e.freshAt(now) {
		s.rehydrate(key, e, now)
		return e.Value, true
	}
	var zero T
	return zero, false
}

// ReadAllowingStale is Read that also returns expired values. A fresh value
// is preferred when either tier has one. Among expired values a written one
// beats a remembered fallback, then the later expiry wins.
func (s *Store[T]) ReadAllowingStale(ctx context.Context, key string) (T, bool) {
	now := s.now()
	mem, inMem := s.memory(key)
	if inMem && mem.freshAt(now) {
		return mem.Value, true
	}
	if e, ok := s.load(ctx, key); ok {
		if e.freshAt(now) {
			s.rehydrate(key, e, now)
			return e.Value, true
		}
		if !inMem || e.outranks(mem) {
			return e.Value, true
		}
	}
	if inMem {
		return mem.Value, true
	}
	var zero T
	return zero, false
}

// Write stores value in both tiers, fresh for ttl.
func (s *Store[T]) Write(ctx context.Context, key string, value T, ttl time.Duration) {
	e := Entry[T]{Value: value, ExpiresAt: s.now().Add(ttl)}
	s.mem.Set(key, e, gocache.DefaultExpiration)

	if s.durable == nil {
		return
	}
	b, err := json.Marshal(e)
	if err != nil {
		s.log.Warn("encoding cache entry", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.durable.Set(ctx, key, b); err != nil {
		if errors.Is(err, kv.ErrQuotaExceeded) {
			s.log.Warn("durable cache quota exceeded, write skipped", zap.String("key", key), zap.Int("bytes", len(b)))
			return
		}
		s.log.Warn("writing durable cache", zap.String("key", key), zap.Error(err))
	}
}

// Remember stores value in the memory tier only, tagged as a fallback. It is
// used for answers that must not outlive the process or replace durable data.
func (s *Store[T]) Remember(key string, value T, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	s.mem.Set(key, Entry[T]{Value: value, ExpiresAt: s.now().Add(ttl), Fallback: true}, gocache.DefaultExpiration)
}

func (s *Store[T]) memory(key string) (Entry[T], bool) {
	v, ok := s.mem.Get(key)
	if !ok {
		return Entry[T]{}, false
	}
	e, ok := v.(Entry[T])
	return e, ok
}

// load reads the durable envelope. Concurrent loads of one key share a
// single backend round trip, which is detached from the first caller's
// cancellation so the other waiters still get an answer.
func (s *Store[T]) load(ctx context.Context, key string) (Entry[T], bool) {
	if s.durable == nil {
		return Entry[T]{}, false
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		b, err := s.durable.Get(context.WithoutCancel(ctx), key)
		if err != nil {
			return nil, err
		}
		var e Entry[T]
		if err := json.Unmarshal(b, &e); err != nil {
			return nil, err
		}
		return e, nil
	})
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			s.log.Warn("reading durable cache", zap.String("key", key), zap.Error(err))
		}
		return Entry[T]{}, false
	}
	return v.(Entry[T]), true
}

func (s *Store[T]) rehydrate(key string, e Entry[T], now time.Time) {
	if limit := now.Add(s.rehydrateTTL); limit.Before(e.ExpiresAt) {
		e.ExpiresAt = limit
	}
	s.mem.Set(key, e, gocache.DefaultExpiration)
}
