package kv

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Dir stores one file per key under a directory. File names are the sha1 of
// the key so any fingerprint is a valid name.
type Dir struct {
	root  string
	quota int64

	mu   sync.Mutex
	used int64
}

var _ KV = (*Dir)(nil)

// NewDir opens (creating if needed) a directory store. quota <= 0 disables
// the byte ceiling.
func NewDir(root string, quota int64) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	d := &Dir{root: root, quota: quota}
	err := filepath.WalkDir(root, func(_ string, e fs.DirEntry, err error) error {
		if err != nil || e.IsDir() {
			return err
		}
		info, err := e.Info()
		if err != nil {
			return err
		}
		d.used += info.Size()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning cache dir: %w", err)
	}
	return d, nil
}

func (d *Dir) path(key string) string {
	sum := sha1.Sum([]byte(key))
	return filepath.Join(d.root, hex.EncodeToString(sum[:]))
}

func (d *Dir) Get(_ context.Context, key string) ([]byte, error) {
	b, err := os.ReadFile(d.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return b, err
}

func (d *Dir) Set(_ context.Context, key string, value []byte) error {
	file := d.path(key)

	d.mu.Lock()
	defer d.mu.Unlock()

	var old int64
	if info, err := os.Stat(file); err == nil {
		old = info.Size()
	}
	next := d.used - old + int64(len(value))
	if d.quota > 0 && next > d.quota {
		return ErrQuotaExceeded
	}

	tmp, err := os.CreateTemp(d.root, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), file); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	d.used = next
	return nil
}

func (d *Dir) Remove(_ context.Context, key string) error {
	file := d.path(key)

	d.mu.Lock()
	defer d.mu.Unlock()

	info, err := os.Stat(file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := os.Remove(file); err != nil {
		return err
	}
	d.used -= info.Size()
	return nil
}

// Used reports the bytes currently stored.
func (d *Dir) Used() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.used
}
