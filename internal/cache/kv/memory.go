package kv

import (
	"context"
	"slices"
	"sync"
)

// Memory is an in-process KV with the same quota semantics as Dir.
type Memory struct {
	quota int64

	mu   sync.Mutex
	used int64
	m    map[string][]byte
}

var _ KV = (*Memory)(nil)

func NewMemory(quota int64) *Memory {
	return &Memory{quota: quota, m: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.m[key]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(v), nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.used - int64(len(m.m[key])) + int64(len(value))
	if m.quota > 0 && next > m.quota {
		return ErrQuotaExceeded
	}
	m.m[key] = slices.Clone(value)
	m.used = next
	return nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used -= int64(len(m.m[key]))
	delete(m.m, key)
	return nil
}
