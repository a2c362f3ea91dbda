package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vendorhub/storefront/internal/domain/shared"
	"go.uber.org/zap"
)

// Manager is a persistent key/value cache with per-read freshness. Entries
// never expire on their own; a read that finds an entry older than maxAge
// deletes it and reports a miss.
type Manager struct {
	backend Backend
	logger  *zap.Logger
	now     func() time.Time
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a cache over backend
func NewManager(backend Backend, opts ...ManagerOption) *Manager {
	m := &Manager{
		backend: backend,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get decodes the entry stored under key into dest. It reports false when
// the key is absent, older than maxAge, or unreadable.
func (m *Manager) Get(ctx context.Context, key string, maxAge time.Duration, dest any) (bool, error) {
	entry, err := m.backend.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if entry == nil {
		return false, nil
	}

	if m.now().Sub(entry.StoredAt) > maxAge {
		if err := m.backend.Delete(ctx, key); err != nil {
			m.logger.Warn("failed to delete expired cache entry", zap.String("key", key), zap.Error(err))
		}
		return false, nil
	}

	if err := json.Unmarshal(entry.Data, dest); err != nil {
		m.logger.Warn("dropping unreadable cache entry", zap.String("key", key), zap.Error(err))
		if err := m.backend.Delete(ctx, key); err != nil {
			m.logger.Warn("failed to delete unreadable cache entry", zap.String("key", key), zap.Error(err))
		}
		return false, nil
	}
	return true, nil
}

// Set stores value under key. When the backend is full the oldest quarter of
// the entries is evicted and the write is retried once.
func (m *Manager) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	entry := Entry{Key: key, Data: data, StoredAt: m.now()}

	err = m.backend.Put(ctx, entry)
	if err == nil || !errors.Is(err, shared.ErrQuotaExceeded) {
		return err
	}

	evicted, evictErr := m.evictOldestQuarter(ctx)
	if evictErr != nil {
		return fmt.Errorf("cache set %s: eviction failed: %w", key, evictErr)
	}
	m.logger.Info("cache quota exceeded, evicted oldest entries",
		zap.String("key", key),
		zap.Int("evicted", evicted),
	)

	if err := m.backend.Put(ctx, entry); err != nil {
		return fmt.Errorf("cache set %s after eviction: %w", key, err)
	}
	return nil
}

func (m *Manager) evictOldestQuarter(ctx context.Context) (int, error) {
	n, err := m.backend.Len(ctx)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	k := int(n / 4)
	if k < 1 {
		k = 1
	}
	return m.backend.EvictOldest(ctx, k)
}

// Delete removes key
func (m *Manager) Delete(ctx context.Context, key string) error {
	return m.backend.Delete(ctx, key)
}

// ClearAll removes every entry
func (m *Manager) ClearAll(ctx context.Context) error {
	return m.backend.Clear(ctx)
}

// Len returns the number of stored entries, expired ones included
func (m *Manager) Len(ctx context.Context) (int64, error) {
	return m.backend.Len(ctx)
}
