package models

import (
	"time"

	"github.com/vendorhub/storefront/internal/domain/reference"
)

// ReferenceEntityModel is one row of a reference collection. The four
// collections share the shape and live in separate tables, see ReferenceTable.
type ReferenceEntityModel struct {
	ID       int64  `gorm:"primaryKey;autoIncrement:false"`
	Name     string `gorm:"type:varchar(255);not null"`
	Slug     string `gorm:"type:varchar(255)"`
	ParentID int64  `gorm:"not null;default:0"`
	Count    *int
}

// ReferenceTable returns the table holding a collection
func ReferenceTable(c reference.Collection) string {
	return "ref_" + string(c)
}

// ToDomain converts the persistence model to a domain Entity
func (m *ReferenceEntityModel) ToDomain() reference.Entity {
	return reference.Entity{
		ID:       m.ID,
		Name:     m.Name,
		Slug:     m.Slug,
		ParentID: m.ParentID,
		Count:    m.Count,
	}
}

// ReferenceEntityModelFromDomain creates a persistence model from a domain Entity
func ReferenceEntityModelFromDomain(e reference.Entity) ReferenceEntityModel {
	return ReferenceEntityModel{
		ID:       e.ID,
		Name:     e.Name,
		Slug:     e.Slug,
		ParentID: e.ParentID,
		Count:    e.Count,
	}
}

// ReferenceTreeModel stores a derived tree as a single JSON document
type ReferenceTreeModel struct {
	Kind    reference.TreeKind   `gorm:"type:varchar(32);primaryKey"`
	Nodes   []reference.TreeNode `gorm:"type:text;serializer:json"`
	BuiltAt time.Time            `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ReferenceTreeModel) TableName() string {
	return "ref_trees"
}

// CategoryAttributeMappingModel stores the attributes of one category
type CategoryAttributeMappingModel struct {
	CategoryID int64                 `gorm:"primaryKey;autoIncrement:false"`
	Attributes []reference.Attribute `gorm:"type:text;serializer:json"`
}

// TableName returns the table name for GORM
func (CategoryAttributeMappingModel) TableName() string {
	return "ref_category_attributes"
}

// SyncMetadataModel is a key/value row describing sync state
type SyncMetadataModel struct {
	Key       string    `gorm:"column:meta_key;type:varchar(64);primaryKey"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SyncMetadataModel) TableName() string {
	return "sync_metadata"
}
