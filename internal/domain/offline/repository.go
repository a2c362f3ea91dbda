package offline

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UploadJobRepository persists upload jobs keyed by an auto-increment id
// with a secondary index on status.
type UploadJobRepository interface {
	// Create stores a new job and assigns its ID
	Create(ctx context.Context, job *UploadJob) error
	// FindByID returns shared.ErrNotFound when the job does not exist
	FindByID(ctx context.Context, id int64) (*UploadJob, error)
	// FindByStatus returns jobs in the given state ordered by id
	FindByStatus(ctx context.Context, status UploadStatus) ([]*UploadJob, error)
	// ClaimPending moves a job from pending to processing. It returns false
	// when the job was no longer pending.
	ClaimPending(ctx context.Context, id int64, now time.Time) (bool, error)
	// Update writes status, retry count, last error and updated time
	Update(ctx context.Context, job *UploadJob) error
	// Delete removes a job
	Delete(ctx context.Context, id int64) error
	// CountByStatus returns the number of jobs in each state
	CountByStatus(ctx context.Context) (map[UploadStatus]int64, error)
	// ResetStaleProcessing returns processing jobs not touched since before
	// to pending and reports how many were reset
	ResetStaleProcessing(ctx context.Context, before, now time.Time) (int64, error)
}

// MutationRepository persists queued mutations
type MutationRepository interface {
	Save(ctx context.Context, m *QueuedMutation) error
	FindAll(ctx context.Context) ([]*QueuedMutation, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteAll(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
}
