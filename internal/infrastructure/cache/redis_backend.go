package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vendorhub/storefront/internal/domain/shared"
)

const defaultRedisPrefix = "storefront:cache:"

// RedisBackend stores each entry under prefix+key and indexes stored times in
// a sorted set so eviction can find the oldest entries. A Redis instance that
// hits maxmemory answers writes with OOM, which maps to ErrQuotaExceeded.
type RedisBackend struct {
	client     redis.UniversalClient
	prefix     string
	maxEntries int
}

// NewRedisBackend creates a Redis-backed cache. maxEntries <= 0 means unbounded.
func NewRedisBackend(client redis.UniversalClient, prefix string, maxEntries int) *RedisBackend {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisBackend{client: client, prefix: prefix, maxEntries: maxEntries}
}

func (b *RedisBackend) valueKey(key string) string {
	return b.prefix + "v:" + key
}

func (b *RedisBackend) indexKey() string {
	return b.prefix + "index"
}

func (b *RedisBackend) Get(ctx context.Context, key string) (*Entry, error) {
	var getCmd *redis.StringCmd
	var scoreCmd *redis.FloatCmd
	_, err := b.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		getCmd = p.Get(ctx, b.valueKey(key))
		scoreCmd = p.ZScore(ctx, b.indexKey(), key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	data, err := getCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		// the value was evicted by redis itself; drop the stale index member
		b.client.ZRem(ctx, b.indexKey(), key)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	storedAt := time.Time{}
	if score, err := scoreCmd.Result(); err == nil {
		storedAt = time.Unix(0, int64(score))
	}
	return &Entry{Key: key, Data: data, StoredAt: storedAt}, nil
}

func (b *RedisBackend) Put(ctx context.Context, e Entry) error {
	if b.maxEntries > 0 {
		n, err := b.client.ZCard(ctx, b.indexKey()).Result()
		if err != nil {
			return err
		}
		if n >= int64(b.maxEntries) {
			_, err := b.client.ZScore(ctx, b.indexKey(), e.Key).Result()
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("redis cache holds %d entries: %w", n, shared.ErrQuotaExceeded)
			}
			if err != nil {
				return err
			}
		}
	}

	_, err := b.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, b.valueKey(e.Key), e.Data, 0)
		p.ZAdd(ctx, b.indexKey(), redis.Z{Score: float64(e.StoredAt.UnixNano()), Member: e.Key})
		return nil
	})
	if isOutOfMemory(err) {
		return fmt.Errorf("redis rejected write: %v: %w", err, shared.ErrQuotaExceeded)
	}
	return err
}

func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	_, err := b.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, b.valueKey(key))
		p.ZRem(ctx, b.indexKey(), key)
		return nil
	})
	return err
}

func (b *RedisBackend) Clear(ctx context.Context) error {
	keys, err := b.client.ZRange(ctx, b.indexKey(), 0, -1).Result()
	if err != nil {
		return err
	}
	return b.remove(ctx, keys, true)
}

func (b *RedisBackend) EvictOldest(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	keys, err := b.client.ZRange(ctx, b.indexKey(), 0, int64(n-1)).Result()
	if err != nil {
		return 0, err
	}
	if err := b.remove(ctx, keys, false); err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (b *RedisBackend) remove(ctx context.Context, keys []string, dropIndex bool) error {
	_, err := b.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if len(keys) > 0 {
			valueKeys := make([]string, len(keys))
			members := make([]any, len(keys))
			for i, k := range keys {
				valueKeys[i] = b.valueKey(k)
				members[i] = k
			}
			p.Del(ctx, valueKeys...)
			p.ZRem(ctx, b.indexKey(), members...)
		}
		if dropIndex {
			p.Del(ctx, b.indexKey())
		}
		return nil
	})
	return err
}

func (b *RedisBackend) Len(ctx context.Context) (int64, error) {
	return b.client.ZCard(ctx, b.indexKey()).Result()
}

// isOutOfMemory recognizes the OOM error reply sent once maxmemory is hit
func isOutOfMemory(err error) bool {
	if err == nil {
		return false
	}
	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		return strings.HasPrefix(redisErr.Error(), "OOM")
	}
	return strings.HasPrefix(err.Error(), "OOM")
}

var _ Backend = (*RedisBackend)(nil)
