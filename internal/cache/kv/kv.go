// Package kv holds the durable backends behind the quote cache. Values are
// opaque bytes addressed by string keys.
package kv

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get when the key has no value.
	ErrNotFound = errors.New("kv: not found")
	// ErrQuotaExceeded is returned by Set when storing the value would push
	// the backend past its byte quota.
	ErrQuotaExceeded = errors.New("kv: quota exceeded")
)

// KV is a durable key/value store.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}
