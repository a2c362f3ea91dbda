package offline

import (
	"errors"
	"time"
)

// UploadStatus represents the lifecycle state of an upload job
type UploadStatus string

const (
	UploadStatusPending    UploadStatus = "PENDING"
	UploadStatusProcessing UploadStatus = "PROCESSING"
	UploadStatusFailed     UploadStatus = "FAILED"
)

// DefaultMaxRetries is the number of retryable failures after which a job
// becomes terminal and needs an explicit re-queue.
const DefaultMaxRetries = 3

// UploadJob is a persisted multi-part submission awaiting delivery.
// A job is removed (not marked) once the server confirms it.
type UploadJob struct {
	ID         int64
	Payload    SerializedPayload
	Status     UploadStatus
	RetryCount int
	MaxRetries int // ceiling on RetryCount; raised by ResetForRetry
	LastError  string
	EnqueuedAt time.Time
	UpdatedAt  time.Time
}

// NewUploadJob creates a pending job for the given payload
func NewUploadJob(payload SerializedPayload, now time.Time) *UploadJob {
	return &UploadJob{
		Payload:    payload,
		Status:     UploadStatusPending,
		MaxRetries: DefaultMaxRetries,
		EnqueuedAt: now,
		UpdatedAt:  now,
	}
}

// IsVisible reports whether the processor may pick this job up
func (j *UploadJob) IsVisible() bool {
	return j.Status == UploadStatusPending
}

// MarkProcessing claims the job for a single in-process attempt
func (j *UploadJob) MarkProcessing(now time.Time) error {
	if j.Status != UploadStatusPending {
		return errors.New("can only mark pending uploads as processing")
	}
	j.Status = UploadStatusProcessing
	j.UpdatedAt = now
	return nil
}

// MarkAttemptFailed records a retryable failure. The job goes back to
// pending while under the ceiling and becomes terminal once it is reached.
func (j *UploadJob) MarkAttemptFailed(errMsg string, now time.Time) {
	j.RetryCount++
	j.LastError = errMsg
	j.UpdatedAt = now

	maxRetries := j.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if j.RetryCount >= maxRetries {
		j.Status = UploadStatusFailed
	} else {
		j.Status = UploadStatusPending
	}
}

// ResetForRetry re-queues a terminal job with budget more attempts.
// RetryCount keeps counting; the ceiling moves instead.
func (j *UploadJob) ResetForRetry(budget int, now time.Time) error {
	if j.Status != UploadStatusFailed {
		return errors.New("can only retry failed uploads")
	}
	if budget <= 0 {
		budget = DefaultMaxRetries
	}
	j.Status = UploadStatusPending
	j.MaxRetries = j.RetryCount + budget
	j.LastError = ""
	j.UpdatedAt = now
	return nil
}

// IsFailed returns true if the job reached its retry ceiling
func (j *UploadJob) IsFailed() bool {
	return j.Status == UploadStatusFailed
}

// UploadStatusSummary reports queue depth by state
type UploadStatusSummary struct {
	Pending      int64 `json:"pending"`
	Processing   int64 `json:"processing"`
	Failed       int64 `json:"failed"`
	Total        int64 `json:"total"`
	IsProcessing bool  `json:"is_processing"`
}
