// Package memory is an in-process store.Backend. Values are kept as encoded
// bytes so callers never share state with the store.
package memory

import (
	"context"
	"sort"
	"sync"

	"conductor/internal/store"
)

// Backend is a map-backed store.Backend.
type Backend struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
}

// New creates an empty backend.
func New() *Backend {
	return &Backend{buckets: make(map[string]map[string][]byte)}
}

// NewStore returns a store.Store over a fresh memory backend.
func NewStore() *store.Store {
	return store.New(New())
}

// Get implements store.Backend.
func (b *Backend) Get(_ context.Context, bucket, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.buckets[bucket][key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

// Put implements store.Backend.
func (b *Backend) Put(_ context.Context, bucket, key string, value []byte, check func([]byte) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := b.buckets[bucket][key]
	if check != nil {
		if err := check(current); err != nil {
			return err
		}
	}
	if b.buckets[bucket] == nil {
		b.buckets[bucket] = make(map[string][]byte)
	}
	b.buckets[bucket][key] = append([]byte(nil), value...)
	return nil
}

// Delete implements store.Backend.
func (b *Backend) Delete(_ context.Context, bucket, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.buckets[bucket], key)
	return nil
}

// List implements store.Backend. Values are returned in key order.
func (b *Backend) List(_ context.Context, bucket string) ([][]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0, len(b.buckets[bucket]))
	for k := range b.buckets[bucket] {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([][]byte, 0, len(keys))
	for _, k := range keys {
		out = append(out, append([]byte(nil), b.buckets[bucket][k]...))
	}
	return out, nil
}

// Close implements store.Backend.
func (b *Backend) Close() error {
	return nil
}
