package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/vendorhub/storefront/internal/domain/shared"
	"github.com/vendorhub/storefront/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormBackend stores entries in the cache_entries table. The quotas bound the
// number of rows and the total payload size.
type GormBackend struct {
	db         *gorm.DB
	maxEntries int
	maxBytes   int64
}

// NewGormBackend creates a table-backed cache. Zero quotas mean unbounded.
func NewGormBackend(db *gorm.DB, maxEntries int, maxBytes int64) *GormBackend {
	return &GormBackend{db: db, maxEntries: maxEntries, maxBytes: maxBytes}
}

func (b *GormBackend) Get(ctx context.Context, key string) (*Entry, error) {
	var row models.CacheEntryModel
	err := b.db.WithContext(ctx).Where(&models.CacheEntryModel{Key: key}).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Entry{Key: row.Key, Data: row.Data, StoredAt: row.StoredAt}, nil
}

// Put upserts the entry after checking it fits in the quotas
func (b *GormBackend) Put(ctx context.Context, e Entry) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := b.checkQuota(tx, e); err != nil {
			return err
		}
		row := models.CacheEntryModel{
			Key:      e.Key,
			Data:     e.Data,
			Size:     int64(len(e.Data)),
			StoredAt: e.StoredAt,
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	})
}

func (b *GormBackend) checkQuota(tx *gorm.DB, e Entry) error {
	if b.maxEntries <= 0 && b.maxBytes <= 0 {
		return nil
	}
	if b.maxBytes > 0 && int64(len(e.Data)) > b.maxBytes {
		return fmt.Errorf("entry of %d bytes exceeds cache size %d: %w", len(e.Data), b.maxBytes, shared.ErrQuotaExceeded)
	}

	var usage struct {
		Entries int64
		Bytes   int64
	}
	if err := tx.Model(&models.CacheEntryModel{}).
		Select("COUNT(*) AS entries, COALESCE(SUM(size), 0) AS bytes").
		Where("cache_key <> ?", e.Key).
		Scan(&usage).Error; err != nil {
		return err
	}

	if b.maxEntries > 0 && usage.Entries+1 > int64(b.maxEntries) {
		return fmt.Errorf("cache holds %d entries: %w", usage.Entries, shared.ErrQuotaExceeded)
	}
	if b.maxBytes > 0 && usage.Bytes+int64(len(e.Data)) > b.maxBytes {
		return fmt.Errorf("cache holds %d bytes: %w", usage.Bytes, shared.ErrQuotaExceeded)
	}
	return nil
}

func (b *GormBackend) Delete(ctx context.Context, key string) error {
	return b.db.WithContext(ctx).Where(&models.CacheEntryModel{Key: key}).Delete(&models.CacheEntryModel{}).Error
}

func (b *GormBackend) Clear(ctx context.Context) error {
	return b.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&models.CacheEntryModel{}).Error
}

func (b *GormBackend) EvictOldest(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	var keys []string
	if err := b.db.WithContext(ctx).
		Model(&models.CacheEntryModel{}).
		Order("stored_at ASC").
		Limit(n).
		Pluck("cache_key", &keys).Error; err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	result := b.db.WithContext(ctx).Where("cache_key IN ?", keys).Delete(&models.CacheEntryModel{})
	return int(result.RowsAffected), result.Error
}

func (b *GormBackend) Len(ctx context.Context) (int64, error) {
	var n int64
	err := b.db.WithContext(ctx).Model(&models.CacheEntryModel{}).Count(&n).Error
	return n, err
}

var _ Backend = (*GormBackend)(nil)
