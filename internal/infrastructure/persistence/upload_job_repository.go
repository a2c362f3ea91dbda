package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vendorhub/storefront/internal/domain/offline"
	"github.com/vendorhub/storefront/internal/domain/shared"
	"github.com/vendorhub/storefront/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormUploadJobRepository implements offline.UploadJobRepository using GORM
type GormUploadJobRepository struct {
	db *gorm.DB
}

// NewGormUploadJobRepository creates a new GORM-based upload job repository
func NewGormUploadJobRepository(db *gorm.DB) *GormUploadJobRepository {
	return &GormUploadJobRepository{db: db}
}

// Create stores a new job and assigns its ID
func (r *GormUploadJobRepository) Create(ctx context.Context, job *offline.UploadJob) error {
	model, err := models.UploadJobModelFromDomain(job)
	if err != nil {
		return err
	}
	model.ID = 0
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to create upload job: %w", err)
	}
	job.ID = model.ID
	return nil
}

// FindByID loads a job
func (r *GormUploadJobRepository) FindByID(ctx context.Context, id int64) (*offline.UploadJob, error) {
	var model models.UploadJobModel
	if err := r.db.WithContext(ctx).First(&model, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain()
}

// FindByStatus returns every job in the given state ordered by id
func (r *GormUploadJobRepository) FindByStatus(ctx context.Context, status offline.UploadStatus) ([]*offline.UploadJob, error) {
	var rows []models.UploadJobModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	jobs := make([]*offline.UploadJob, 0, len(rows))
	for i := range rows {
		job, err := rows[i].ToDomain()
		if err != nil {
			return nil, fmt.Errorf("upload job %d: %w", rows[i].ID, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// ClaimPending moves a job from pending to processing in one conditional
// update, so two drains can never both claim it.
func (r *GormUploadJobRepository) ClaimPending(ctx context.Context, id int64, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.UploadJobModel{}).
		Where("id = ? AND status = ?", id, offline.UploadStatusPending).
		Updates(map[string]any{
			"status":     offline.UploadStatusProcessing,
			"updated_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Update writes the mutable state of a job. The payload is never rewritten.
func (r *GormUploadJobRepository) Update(ctx context.Context, job *offline.UploadJob) error {
	result := r.db.WithContext(ctx).
		Model(&models.UploadJobModel{}).
		Where("id = ?", job.ID).
		Updates(map[string]any{
			"status":      job.Status,
			"retry_count": job.RetryCount,
			"max_retries": job.MaxRetries,
			"last_error":  job.LastError,
			"updated_at":  job.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Delete removes a job
func (r *GormUploadJobRepository) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Delete(&models.UploadJobModel{}, id).Error
}

// CountByStatus returns the number of jobs in each state
func (r *GormUploadJobRepository) CountByStatus(ctx context.Context) (map[offline.UploadStatus]int64, error) {
	var rows []struct {
		Status offline.UploadStatus
		Total  int64
	}
	if err := r.db.WithContext(ctx).
		Model(&models.UploadJobModel{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[offline.UploadStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}

// ResetStaleProcessing returns jobs left in processing by a crashed process
func (r *GormUploadJobRepository) ResetStaleProcessing(ctx context.Context, before, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.UploadJobModel{}).
		Where("status = ? AND updated_at < ?", offline.UploadStatusProcessing, before).
		Updates(map[string]any{
			"status":     offline.UploadStatusPending,
			"updated_at": now,
		})
	return result.RowsAffected, result.Error
}
