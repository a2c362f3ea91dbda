package persistence

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/vendorhub/storefront/internal/domain/offline"
	"github.com/vendorhub/storefront/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormMutationRepository implements offline.MutationRepository using GORM
type GormMutationRepository struct {
	db *gorm.DB
}

// NewGormMutationRepository creates a new GORM-based mutation repository
func NewGormMutationRepository(db *gorm.DB) *GormMutationRepository {
	return &GormMutationRepository{db: db}
}

func (r *GormMutationRepository) Save(ctx context.Context, m *offline.QueuedMutation) error {
	if err := r.db.WithContext(ctx).Create(models.QueuedMutationModelFromDomain(m)).Error; err != nil {
		return fmt.Errorf("failed to save queued mutation: %w", err)
	}
	return nil
}

// FindAll returns queued mutations oldest first
func (r *GormMutationRepository) FindAll(ctx context.Context) ([]*offline.QueuedMutation, error) {
	var rows []models.QueuedMutationModel
	if err := r.db.WithContext(ctx).Order("enqueued_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]*offline.QueuedMutation, 0, len(rows))
	for i := range rows {
		m, err := rows[i].ToDomain()
		if err != nil {
			return nil, fmt.Errorf("queued mutation %s: %w", rows[i].ID, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *GormMutationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&models.QueuedMutationModel{}, "id = ?", id.String()).Error
}

func (r *GormMutationRepository) DeleteAll(ctx context.Context) error {
	return r.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&models.QueuedMutationModel{}).Error
}

func (r *GormMutationRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.QueuedMutationModel{}).Count(&n).Error
	return n, err
}
