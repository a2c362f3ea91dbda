package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vendorhub/storefront/internal/domain/offline"
	"github.com/vendorhub/storefront/internal/domain/shared"
)

func newTestJob(now time.Time, title string) *offline.UploadJob {
	return offline.NewUploadJob(offline.SerializedPayload{
		ScalarFields: map[string]string{"title": title},
		Attachments: []offline.Attachment{
			{FieldKey: "images", Filename: "a.jpg", MimeType: "image/jpeg", ByteSize: 4, Bytes: []byte{0xff, 0xd8, 0xff, 0xe0}},
		},
	}, now)
}

func TestGormUploadJobRepository(t *testing.T) {
	db := newTestDatabase(t)
	repo := NewGormUploadJobRepository(db.DB)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	first := newTestJob(now, "first")
	second := newTestJob(now, "second")
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, second))
	require.Greater(t, second.ID, first.ID)

	t.Run("payload survives storage", func(t *testing.T) {
		loaded, err := repo.FindByID(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, "first", loaded.Payload.ScalarFields["title"])
		require.Len(t, loaded.Payload.Attachments, 1)
		assert.Equal(t, []byte{0xff, 0xd8, 0xff, 0xe0}, loaded.Payload.Attachments[0].Bytes)
		assert.Equal(t, offline.UploadStatusPending, loaded.Status)
		assert.Equal(t, offline.DefaultMaxRetries, loaded.MaxRetries)
	})

	t.Run("missing job", func(t *testing.T) {
		_, err := repo.FindByID(ctx, 9999)
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("pending jobs in id order", func(t *testing.T) {
		jobs, err := repo.FindByStatus(ctx, offline.UploadStatusPending)
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, first.ID, jobs[0].ID)
		assert.Equal(t, second.ID, jobs[1].ID)
	})

	t.Run("claim is exclusive", func(t *testing.T) {
		ok, err := repo.ClaimPending(ctx, first.ID, now)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.ClaimPending(ctx, first.ID, now)
		require.NoError(t, err)
		assert.False(t, ok)

		counts, err := repo.CountByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), counts[offline.UploadStatusProcessing])
		assert.Equal(t, int64(1), counts[offline.UploadStatusPending])
	})

	t.Run("update writes failure state", func(t *testing.T) {
		job, err := repo.FindByID(ctx, first.ID)
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			job.Status = offline.UploadStatusProcessing
			job.MarkAttemptFailed("HTTP 500", now)
		}
		require.NoError(t, repo.Update(ctx, job))

		failed, err := repo.FindByStatus(ctx, offline.UploadStatusFailed)
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, 3, failed[0].RetryCount)
		assert.Equal(t, "HTTP 500", failed[0].LastError)
	})

	t.Run("update of missing job", func(t *testing.T) {
		err := repo.Update(ctx, &offline.UploadJob{ID: 4242, Status: offline.UploadStatusPending, UpdatedAt: now})
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("stale processing jobs are reset", func(t *testing.T) {
		ok, err := repo.ClaimPending(ctx, second.ID, now.Add(-time.Hour))
		require.NoError(t, err)
		require.True(t, ok)

		n, err := repo.ResetStaleProcessing(ctx, now.Add(-time.Minute), now)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		job, err := repo.FindByID(ctx, second.ID)
		require.NoError(t, err)
		assert.Equal(t, offline.UploadStatusPending, job.Status)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, second.ID))
		_, err := repo.FindByID(ctx, second.ID)
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}
