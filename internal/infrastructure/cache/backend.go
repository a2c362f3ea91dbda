package cache

import (
	"context"
	"time"
)

// Entry is one cached value. Data is the JSON encoding of the value.
type Entry struct {
	Key      string
	Data     []byte
	StoredAt time.Time
}

// Backend is the storage behind a Manager. Put returns an error wrapping
// shared.ErrQuotaExceeded when the write does not fit.
type Backend interface {
	// Get returns nil, nil when the key is absent
	Get(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, e Entry) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	// EvictOldest removes up to n entries with the oldest StoredAt
	EvictOldest(ctx context.Context, n int) (int, error)
	Len(ctx context.Context) (int64, error)
}
