package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/vendorhub/storefront/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormLocker keeps leases in the leases table. Acquisition is a single
// upsert that only overwrites expired rows or rows this owner already holds.
type GormLocker struct {
	db    *gorm.DB
	owner string
	now   func() time.Time
}

// NewGormLocker creates a locker. An empty owner gets a random id.
func NewGormLocker(db *gorm.DB, owner string) *GormLocker {
	if owner == "" {
		owner = NewOwnerID()
	}
	return &GormLocker{db: db, owner: owner, now: time.Now}
}

// WithClock replaces time.Now; used by tests
func (l *GormLocker) WithClock(now func() time.Time) *GormLocker {
	l.now = now
	return l
}

func (l *GormLocker) Owner() string {
	return l.owner
}

func (l *GormLocker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	now := l.now().UTC()
	row := models.LeaseModel{Name: name, Owner: l.owner, ExpiresAt: now.Add(ttl)}

	result := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.Assignments(map[string]any{
			"owner":      l.owner,
			"expires_at": row.ExpiresAt,
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "leases.expires_at < ? OR leases.owner = ?", Vars: []any{now, l.owner}},
		}},
	}).Create(&row)
	if result.Error != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", name, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (l *GormLocker) Release(ctx context.Context, name string) error {
	err := l.db.WithContext(ctx).
		Where("name = ? AND owner = ?", name, l.owner).
		Delete(&models.LeaseModel{}).Error
	if err != nil {
		return fmt.Errorf("failed to release lease %s: %w", name, err)
	}
	return nil
}

// Holder returns the current owner and expiry of a lease
func (l *GormLocker) Holder(ctx context.Context, name string) (string, time.Time, bool, error) {
	var rows []models.LeaseModel
	if err := l.db.WithContext(ctx).Where("name = ?", name).Limit(1).Find(&rows).Error; err != nil {
		return "", time.Time{}, false, err
	}
	if len(rows) == 0 {
		return "", time.Time{}, false, nil
	}
	return rows[0].Owner, rows[0].ExpiresAt, true, nil
}

var _ Locker = (*GormLocker)(nil)
