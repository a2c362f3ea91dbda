package models

import (
	"fmt"
	"time"

	"github.com/vendorhub/storefront/internal/domain/offline"
	"github.com/vmihailenco/msgpack/v5"
)

// UploadJobModel is the persistence model for queued multi-part submissions.
// The payload is stored msgpack-encoded so attachment bytes stay binary.
type UploadJobModel struct {
	ID         int64                `gorm:"primaryKey;autoIncrement"`
	Payload    []byte               `gorm:"not null"`
	Status     offline.UploadStatus `gorm:"type:varchar(20);not null;index:idx_upload_jobs_status"`
	RetryCount int                  `gorm:"not null;default:0"`
	MaxRetries int                  `gorm:"not null;default:3"`
	LastError  string               `gorm:"type:text"`
	EnqueuedAt time.Time            `gorm:"not null"`
	UpdatedAt  time.Time            `gorm:"not null"`
}

// TableName returns the table name for GORM
func (UploadJobModel) TableName() string {
	return "upload_jobs"
}

// EncodePayload serializes a payload into its stored form
func EncodePayload(p offline.SerializedPayload) ([]byte, error) {
	data, err := msgpack.Marshal(&p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode upload payload: %w", err)
	}
	return data, nil
}

// DecodePayload restores a payload from its stored form
func DecodePayload(data []byte) (offline.SerializedPayload, error) {
	var p offline.SerializedPayload
	if err := msgpack.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("failed to decode upload payload: %w", err)
	}
	if p.ScalarFields == nil {
		p.ScalarFields = map[string]string{}
	}
	return p, nil
}

// ToDomain converts the persistence model to a domain UploadJob
func (m *UploadJobModel) ToDomain() (*offline.UploadJob, error) {
	payload, err := DecodePayload(m.Payload)
	if err != nil {
		return nil, err
	}
	return &offline.UploadJob{
		ID:         m.ID,
		Payload:    payload,
		Status:     m.Status,
		RetryCount: m.RetryCount,
		MaxRetries: m.MaxRetries,
		LastError:  m.LastError,
		EnqueuedAt: m.EnqueuedAt,
		UpdatedAt:  m.UpdatedAt,
	}, nil
}

// UploadJobModelFromDomain creates a persistence model from a domain UploadJob
func UploadJobModelFromDomain(j *offline.UploadJob) (*UploadJobModel, error) {
	payload, err := EncodePayload(j.Payload)
	if err != nil {
		return nil, err
	}
	return &UploadJobModel{
		ID:         j.ID,
		Payload:    payload,
		Status:     j.Status,
		RetryCount: j.RetryCount,
		MaxRetries: j.MaxRetries,
		LastError:  j.LastError,
		EnqueuedAt: j.EnqueuedAt,
		UpdatedAt:  j.UpdatedAt,
	}, nil
}
