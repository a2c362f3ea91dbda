package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vendorhub/storefront/internal/domain/offline"
)

func TestGormMutationRepository(t *testing.T) {
	db := newTestDatabase(t)
	repo := NewGormMutationRepository(db.DB)
	ctx := context.Background()
	now := time.Now()

	older := offline.NewQueuedMutation("https://shop.example.com/api/products/1", offline.RequestOptions{
		Method:  "PUT",
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    []byte(`{"price":"9.99"}`),
	}, now.Add(-time.Minute))
	newer := offline.NewQueuedMutation("https://shop.example.com/api/products/2", offline.RequestOptions{Method: "DELETE"}, now)

	require.NoError(t, repo.Save(ctx, newer))
	require.NoError(t, repo.Save(ctx, older))

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, older.ID, all[0].ID)
	assert.Equal(t, "application/json", all[0].Request.Headers["Content-Type"])
	assert.Equal(t, []byte(`{"price":"9.99"}`), all[0].Request.Body)
	assert.Equal(t, "DELETE", all[1].Request.Method)

	require.NoError(t, repo.Delete(ctx, older.ID))
	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, repo.DeleteAll(ctx))
	n, err = repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
