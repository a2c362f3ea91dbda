package offline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadJob_MarkProcessing(t *testing.T) {
	now := time.Now()

	t.Run("claims pending job", func(t *testing.T) {
		job := NewUploadJob(SerializedPayload{}, now)
		require.True(t, job.IsVisible())

		err := job.MarkProcessing(now.Add(time.Second))
		assert.NoError(t, err)
		assert.Equal(t, UploadStatusProcessing, job.Status)
		assert.False(t, job.IsVisible())
		assert.Equal(t, now.Add(time.Second), job.UpdatedAt)
	})

	t.Run("rejects non-pending job", func(t *testing.T) {
		for _, status := range []UploadStatus{UploadStatusProcessing, UploadStatusFailed} {
			job := &UploadJob{Status: status}
			err := job.MarkProcessing(now)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "can only mark pending uploads")
		}
	})
}

func TestUploadJob_MarkAttemptFailed(t *testing.T) {
	now := time.Now()

	t.Run("returns to pending under the ceiling", func(t *testing.T) {
		job := NewUploadJob(SerializedPayload{}, now)
		require.NoError(t, job.MarkProcessing(now))

		job.MarkAttemptFailed("HTTP 503", now)
		assert.Equal(t, UploadStatusPending, job.Status)
		assert.Equal(t, 1, job.RetryCount)
		assert.Equal(t, "HTTP 503", job.LastError)
	})

	t.Run("becomes terminal after three failures", func(t *testing.T) {
		job := NewUploadJob(SerializedPayload{}, now)
		prev := job.RetryCount
		for i := 0; i < DefaultMaxRetries; i++ {
			require.NoError(t, job.MarkProcessing(now))
			job.MarkAttemptFailed("connection refused", now)
			assert.GreaterOrEqual(t, job.RetryCount, prev)
			prev = job.RetryCount
		}

		assert.True(t, job.IsFailed())
		assert.Equal(t, 3, job.RetryCount)
		assert.NotEmpty(t, job.LastError)
		assert.Error(t, job.MarkProcessing(now))
	})

	t.Run("zero max retries falls back to default", func(t *testing.T) {
		job := &UploadJob{Status: UploadStatusProcessing}
		job.MarkAttemptFailed("x", now)
		job.MarkAttemptFailed("x", now)
		assert.Equal(t, UploadStatusPending, job.Status)
		job.MarkAttemptFailed("x", now)
		assert.Equal(t, UploadStatusFailed, job.Status)
	})
}

func TestUploadJob_ResetForRetry(t *testing.T) {
	now := time.Now()

	t.Run("re-queues failed job with a fresh ceiling", func(t *testing.T) {
		job := &UploadJob{Status: UploadStatusFailed, RetryCount: 3, MaxRetries: 3, LastError: "boom"}
		err := job.ResetForRetry(3, now)
		assert.NoError(t, err)
		assert.Equal(t, UploadStatusPending, job.Status)
		assert.Equal(t, 3, job.RetryCount)
		assert.Equal(t, 6, job.MaxRetries)
		assert.Empty(t, job.LastError)

		// retry count keeps increasing and the job fails again after three more
		for i := 0; i < 2; i++ {
			job.MarkAttemptFailed("HTTP 503", now)
			assert.Equal(t, UploadStatusPending, job.Status)
		}
		job.MarkAttemptFailed("HTTP 503", now)
		assert.True(t, job.IsFailed())
		assert.Equal(t, 6, job.RetryCount)
	})

	t.Run("zero budget uses the default", func(t *testing.T) {
		job := &UploadJob{Status: UploadStatusFailed, RetryCount: 3}
		require.NoError(t, job.ResetForRetry(0, now))
		assert.Equal(t, 3+DefaultMaxRetries, job.MaxRetries)
	})

	t.Run("rejects non-failed job", func(t *testing.T) {
		for _, status := range []UploadStatus{UploadStatusPending, UploadStatusProcessing} {
			job := &UploadJob{Status: status}
			err := job.ResetForRetry(3, now)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "can only retry failed uploads")
		}
	})
}

func TestSerializedPayload(t *testing.T) {
	p := SerializedPayload{
		ScalarFields: map[string]string{"title": "Lamp", "price": "10", "currency": "EUR"},
		Attachments: []Attachment{
			{FieldKey: "images", Filename: "a.png", ByteSize: 3, Bytes: []byte("abc")},
			{FieldKey: "images", Filename: "b.png", ByteSize: 10, ObjectKey: "uploads/b.png"},
		},
	}

	assert.Equal(t, []string{"currency", "price", "title"}, p.SortedFieldKeys())
	assert.Equal(t, int64(13), p.TotalBytes())
	assert.False(t, p.Attachments[0].IsSpilled())
	assert.True(t, p.Attachments[1].IsSpilled())
}

func TestIsIdempotentMethod(t *testing.T) {
	assert.True(t, IsIdempotentMethod(""))
	assert.True(t, IsIdempotentMethod("GET"))
	assert.True(t, IsIdempotentMethod("HEAD"))
	assert.False(t, IsIdempotentMethod("POST"))
	assert.False(t, IsIdempotentMethod("DELETE"))
}
