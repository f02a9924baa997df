package store

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// Memory is an in-process Store used for local development and tests.
type Memory struct {
	cache *cache.Cache
}

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		cache: cache.New(cache.NoExpiration, 10*time.Minute),
	}
}

// Get retrieves the value at key.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := m.cache.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	b := v.([]byte)
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// Exists checks if a key exists.
func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, ok := m.cache.Get(key)
	return ok, nil
}

// Set stores a copy of value at key.
func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	b := make([]byte, len(value))
	copy(b, value)
	m.cache.Set(key, b, ttl)
	return nil
}

// Len returns the number of live entries.
func (m *Memory) Len() int {
	return m.cache.ItemCount()
}

// Close clears the store.
func (m *Memory) Close() error {
	m.cache.Flush()
	return nil
}

var _ Store = (*Memory)(nil)
