package models

import "time"

// CacheEntryModel is a cached response body
type CacheEntryModel struct {
	Key      string    `gorm:"column:cache_key;type:varchar(512);primaryKey"`
	Data     []byte    `gorm:"not null"`
	Size     int64     `gorm:"not null"`
	StoredAt time.Time `gorm:"not null;index:idx_cache_entries_stored_at"`
}

// TableName returns the table name for GORM
func (CacheEntryModel) TableName() string {
	return "cache_entries"
}

// LeaseModel is a named lock with an owner and expiry
type LeaseModel struct {
	Name      string    `gorm:"type:varchar(128);primaryKey"`
	Owner     string    `gorm:"type:varchar(64);not null"`
	ExpiresAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (LeaseModel) TableName() string {
	return "leases"
}
