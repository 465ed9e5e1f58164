package portfolio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

var (
	ErrNotFound   = errors.New("portfolio: not found")
	ErrInvalidKey = errors.New("portfolio: key must be 4 to 32 letters or digits")
)

// Store persists holdings lists by key.
type Store interface {
	Load(ctx context.Context, key string) ([]Holding, error)
	Save(ctx context.Context, key string, holdings []Holding) error
}

// ValidateKey accepts 4 to 32 ASCII letters or digits.
func ValidateKey(key string) error {
	if len(key) < 4 || len(key) > 32 {
		return ErrInvalidKey
	}
	for _, c := range key {
		if !('a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9') {
			return ErrInvalidKey
		}
	}
	return nil
}

// MemoryStore keeps holdings in process.
type MemoryStore struct {
	mu sync.RWMutex
	m  map[string][]Holding
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string][]Holding)}
}

func (s *MemoryStore) Load(_ context.Context, key string) ([]Holding, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.m[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]Holding(nil), h...), nil
}

func (s *MemoryStore) Save(_ context.Context, key string, holdings []Holding) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = Normalize(holdings)
	return nil
}

// RedisStore keeps each holdings list as a JSON string under prefix+key.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Load(ctx context.Context, key string) ([]Holding, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	b, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading portfolio %s: %w", key, err)
	}
	var holdings []Holding
	if err := json.Unmarshal(b, &holdings); err != nil {
		return nil, fmt.Errorf("decoding portfolio %s: %w", key, err)
	}
	return holdings, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, holdings []Holding) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	b, err := json.Marshal(Normalize(holdings))
	if err != nil {
		return fmt.Errorf("encoding portfolio %s: %w", key, err)
	}
	if err := s.client.Set(ctx, s.prefix+key, b, 0).Err(); err != nil {
		return fmt.Errorf("saving portfolio %s: %w", key, err)
	}
	return nil
}
