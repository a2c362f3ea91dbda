//go:build integration

package lease

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "Failed to start Redis container")
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()
	client := newTestRedis(t)

	a := NewRedisLocker(client, "test:lease:", "owner-a")
	b := NewRedisLocker(client, "test:lease:", "owner-b")
	key := "test:lease:" + UploadDrain

	t.Run("first owner acquires", func(t *testing.T) {
		ok, err := a.TryAcquire(ctx, UploadDrain, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		holder, err := client.Get(ctx, key).Result()
		require.NoError(t, err)
		assert.Equal(t, "owner-a", holder)
	})

	t.Run("second owner is refused", func(t *testing.T) {
		ok, err := b.TryAcquire(ctx, UploadDrain, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("holder extends its lease", func(t *testing.T) {
		ok, err := a.TryAcquire(ctx, UploadDrain, 2*time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ttl, err := client.PTTL(ctx, key).Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Minute)
	})

	t.Run("release by a non-owner keeps the key", func(t *testing.T) {
		require.NoError(t, b.Release(ctx, UploadDrain))

		holder, err := client.Get(ctx, key).Result()
		require.NoError(t, err)
		assert.Equal(t, "owner-a", holder)
	})

	t.Run("owner release frees the lease", func(t *testing.T) {
		require.NoError(t, a.Release(ctx, UploadDrain))
		assert.ErrorIs(t, client.Get(ctx, key).Err(), redis.Nil)

		ok, err := b.TryAcquire(ctx, UploadDrain, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, b.Release(ctx, UploadDrain))
	})

	t.Run("expired lease is taken over", func(t *testing.T) {
		ok, err := a.TryAcquire(ctx, ReferenceSync, 150*time.Millisecond)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = b.TryAcquire(ctx, ReferenceSync, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		time.Sleep(300 * time.Millisecond)

		ok, err = b.TryAcquire(ctx, ReferenceSync, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		// the previous holder cannot extend or release what it lost
		ok, err = a.TryAcquire(ctx, ReferenceSync, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
		require.NoError(t, a.Release(ctx, ReferenceSync))

		holder, err := client.Get(ctx, "test:lease:"+ReferenceSync).Result()
		require.NoError(t, err)
		assert.Equal(t, "owner-b", holder)
	})

	t.Run("empty owner gets a generated id", func(t *testing.T) {
		l := NewRedisLocker(client, "", "")
		assert.NotEmpty(t, l.Owner())
		assert.Equal(t, "storefront:lease:", l.prefix)
	})
}
