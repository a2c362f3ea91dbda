package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only when it still holds our owner id
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript refreshes the expiry only when we still hold the key
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker keeps leases as keys with a TTL
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	owner  string
}

// NewRedisLocker creates a locker. An empty owner gets a random id.
func NewRedisLocker(client redis.UniversalClient, prefix, owner string) *RedisLocker {
	if prefix == "" {
		prefix = "storefront:lease:"
	}
	if owner == "" {
		owner = NewOwnerID()
	}
	return &RedisLocker{client: client, prefix: prefix, owner: owner}
}

func (l *RedisLocker) Owner() string {
	return l.owner
}

func (l *RedisLocker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	key := l.prefix + name
	ok, err := l.client.SetNX(ctx, key, l.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", name, err)
	}
	if ok {
		return true, nil
	}

	n, err := extendScript.Run(ctx, l.client, []string{key}, l.owner, ttl.Milliseconds()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("failed to extend lease %s: %w", name, err)
	}
	return n == 1, nil
}

func (l *RedisLocker) Release(ctx context.Context, name string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.prefix + name}, l.owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release lease %s: %w", name, err)
	}
	return nil
}

var _ Locker = (*RedisLocker)(nil)
