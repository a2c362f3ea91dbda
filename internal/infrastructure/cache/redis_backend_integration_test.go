//go:build integration

package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/vendorhub/storefront/internal/domain/shared"
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

func TestRedisBackend(t *testing.T) {
	ctx := context.Background()
	client := newTestRedis(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	b := NewRedisBackend(client, "test:", 3)
	for i, k := range []string{"a", "b", "c"} {
		require.NoError(t, b.Put(ctx, Entry{Key: k, Data: []byte(`"` + k + `"`), StoredAt: base.Add(time.Duration(i) * time.Second)}))
	}

	e, err := b.Get(ctx, "b")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, `"b"`, string(e.Data))
	assert.True(t, e.StoredAt.Equal(base.Add(time.Second)))

	err = b.Put(ctx, Entry{Key: "d", Data: []byte("1"), StoredAt: base})
	assert.True(t, errors.Is(err, shared.ErrQuotaExceeded))

	m := NewManager(b, WithClock(func() time.Time { return base.Add(time.Minute) }))
	require.NoError(t, m.Set(ctx, "d", "d"))

	gone, err := b.Get(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, gone)

	require.NoError(t, b.Clear(ctx))
	n, err := b.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
