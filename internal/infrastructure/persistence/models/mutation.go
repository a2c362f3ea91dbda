package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/vendorhub/storefront/internal/domain/offline"
)

// QueuedMutationModel is the persistence model for write requests awaiting replay
type QueuedMutationModel struct {
	ID         string            `gorm:"type:varchar(36);primaryKey"`
	URL        string            `gorm:"type:text;not null"`
	Method     string            `gorm:"type:varchar(10);not null"`
	Headers    map[string]string `gorm:"type:text;serializer:json"`
	Body       []byte
	EnqueuedAt time.Time `gorm:"not null;index:idx_queued_mutations_enqueued"`
}

// TableName returns the table name for GORM
func (QueuedMutationModel) TableName() string {
	return "queued_mutations"
}

// ToDomain converts the persistence model to a domain QueuedMutation
func (m *QueuedMutationModel) ToDomain() (*offline.QueuedMutation, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return nil, err
	}
	return &offline.QueuedMutation{
		ID:  id,
		URL: m.URL,
		Request: offline.RequestOptions{
			Method:  m.Method,
			Headers: m.Headers,
			Body:    m.Body,
		},
		EnqueuedAt: m.EnqueuedAt,
	}, nil
}

// QueuedMutationModelFromDomain creates a persistence model from a domain QueuedMutation
func QueuedMutationModelFromDomain(q *offline.QueuedMutation) *QueuedMutationModel {
	return &QueuedMutationModel{
		ID:         q.ID.String(),
		URL:        q.URL,
		Method:     q.Request.Method,
		Headers:    q.Request.Headers,
		Body:       q.Request.Body,
		EnqueuedAt: q.EnqueuedAt,
	}
}
