package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vendorhub/storefront/internal/domain/shared"
)

// MemoryBackend keeps entries in a map. It does not survive restarts and is
// meant for tests and for running without a local store.
type MemoryBackend struct {
	mu         sync.RWMutex
	entries    map[string]Entry
	maxEntries int
}

// NewMemoryBackend creates a map-backed cache. maxEntries <= 0 means unbounded.
func NewMemoryBackend(maxEntries int) *MemoryBackend {
	return &MemoryBackend{
		entries:    make(map[string]Entry),
		maxEntries: maxEntries,
	}
}

func (b *MemoryBackend) Get(_ context.Context, key string) (*Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[key]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (b *MemoryBackend) Put(_ context.Context, e Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.entries[e.Key]; !exists && b.maxEntries > 0 && len(b.entries) >= b.maxEntries {
		return fmt.Errorf("memory cache holds %d entries: %w", len(b.entries), shared.ErrQuotaExceeded)
	}
	b.entries[e.Key] = e
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
	return nil
}

func (b *MemoryBackend) Clear(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[string]Entry)
	return nil
}

func (b *MemoryBackend) EvictOldest(_ context.Context, n int) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	all := make([]Entry, 0, len(b.entries))
	for _, e := range b.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].StoredAt.Equal(all[j].StoredAt) {
			return all[i].Key < all[j].Key
		}
		return all[i].StoredAt.Before(all[j].StoredAt)
	})
	if n > len(all) {
		n = len(all)
	}
	for _, e := range all[:n] {
		delete(b.entries, e.Key)
	}
	return n, nil
}

func (b *MemoryBackend) Len(_ context.Context) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return int64(len(b.entries)), nil
}

var _ Backend = (*MemoryBackend)(nil)
