package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vendorhub/storefront/internal/domain/reference"
	"github.com/vendorhub/storefront/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MetaLastSyncTime is the metadata key holding the last completed sync
const MetaLastSyncTime = "lastSyncTime"

// DefaultStaleAfter is how old reference data may get before a sync is due
const DefaultStaleAfter = 7 * 24 * time.Hour

const insertBatchSize = 500

// Snapshot is every artifact produced by one reference data sync
type Snapshot struct {
	Categories   []reference.Category
	Brands       []reference.Brand
	Attributes   []reference.Attribute
	Locations    []reference.Location
	CategoryTree []reference.TreeNode
	LocationTree []reference.TreeNode
	Mappings     []reference.CategoryAttributeMapping
	SyncedAt     time.Time
}

// LocalDataStore is the local mirror of the commerce platform's reference
// data. Every replace runs in a single transaction; readers never observe a
// partially written collection.
type LocalDataStore struct {
	db         *gorm.DB
	now        func() time.Time
	staleAfter time.Duration
}

// LocalDataStoreOption configures a LocalDataStore
type LocalDataStoreOption func(*LocalDataStore)

// WithClock replaces time.Now
func WithClock(now func() time.Time) LocalDataStoreOption {
	return func(s *LocalDataStore) {
		s.now = now
	}
}

// WithStaleAfter sets the age after which NeedsRefresh reports true
func WithStaleAfter(d time.Duration) LocalDataStoreOption {
	return func(s *LocalDataStore) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

// NewLocalDataStore creates a store over an already migrated database
func NewLocalDataStore(db *gorm.DB, opts ...LocalDataStoreOption) *LocalDataStore {
	s := &LocalDataStore{
		db:         db,
		now:        time.Now,
		staleAfter: DefaultStaleAfter,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetCollection returns every entity of a collection ordered by id
func (s *LocalDataStore) GetCollection(ctx context.Context, c reference.Collection) ([]reference.Entity, error) {
	var rows []models.ReferenceEntityModel
	if err := s.db.WithContext(ctx).Table(models.ReferenceTable(c)).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", c, err)
	}
	out := make([]reference.Entity, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].ToDomain())
	}
	return out, nil
}

// SaveCollection replaces a collection
func (s *LocalDataStore) SaveCollection(ctx context.Context, c reference.Collection, entities []reference.Entity) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return replaceCollection(tx, c, entities)
	})
}

func (s *LocalDataStore) GetCategories(ctx context.Context) ([]reference.Category, error) {
	return s.GetCollection(ctx, reference.CollectionCategories)
}

func (s *LocalDataStore) SaveCategories(ctx context.Context, items []reference.Category) error {
	return s.SaveCollection(ctx, reference.CollectionCategories, items)
}

func (s *LocalDataStore) GetBrands(ctx context.Context) ([]reference.Brand, error) {
	return s.GetCollection(ctx, reference.CollectionBrands)
}

func (s *LocalDataStore) SaveBrands(ctx context.Context, items []reference.Brand) error {
	return s.SaveCollection(ctx, reference.CollectionBrands, items)
}

func (s *LocalDataStore) GetAttributes(ctx context.Context) ([]reference.Attribute, error) {
	return s.GetCollection(ctx, reference.CollectionAttributes)
}

func (s *LocalDataStore) SaveAttributes(ctx context.Context, items []reference.Attribute) error {
	return s.SaveCollection(ctx, reference.CollectionAttributes, items)
}

func (s *LocalDataStore) GetLocations(ctx context.Context) ([]reference.Location, error) {
	return s.GetCollection(ctx, reference.CollectionLocations)
}

func (s *LocalDataStore) SaveLocations(ctx context.Context, items []reference.Location) error {
	return s.SaveCollection(ctx, reference.CollectionLocations, items)
}

// GetTree returns a stored tree, or an empty slice when none was built yet
func (s *LocalDataStore) GetTree(ctx context.Context, kind reference.TreeKind) ([]reference.TreeNode, error) {
	var row models.ReferenceTreeModel
	err := s.db.WithContext(ctx).Where("kind = ?", kind).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return []reference.TreeNode{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s tree: %w", kind, err)
	}
	if row.Nodes == nil {
		return []reference.TreeNode{}, nil
	}
	return row.Nodes, nil
}

// SaveTree replaces a stored tree
func (s *LocalDataStore) SaveTree(ctx context.Context, kind reference.TreeKind, nodes []reference.TreeNode) error {
	return saveTree(s.db.WithContext(ctx), kind, nodes, s.now())
}

func (s *LocalDataStore) GetCategoryTree(ctx context.Context) ([]reference.TreeNode, error) {
	return s.GetTree(ctx, reference.TreeCategories)
}

func (s *LocalDataStore) SaveCategoryTree(ctx context.Context, nodes []reference.TreeNode) error {
	return s.SaveTree(ctx, reference.TreeCategories, nodes)
}

func (s *LocalDataStore) GetLocationTree(ctx context.Context) ([]reference.TreeNode, error) {
	return s.GetTree(ctx, reference.TreeLocations)
}

func (s *LocalDataStore) SaveLocationTree(ctx context.Context, nodes []reference.TreeNode) error {
	return s.SaveTree(ctx, reference.TreeLocations, nodes)
}

// GetCategoryAttributeMappings returns every mapping ordered by category
func (s *LocalDataStore) GetCategoryAttributeMappings(ctx context.Context) ([]reference.CategoryAttributeMapping, error) {
	var rows []models.CategoryAttributeMappingModel
	if err := s.db.WithContext(ctx).Order("category_id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to read category attribute mappings: %w", err)
	}
	out := make([]reference.CategoryAttributeMapping, 0, len(rows))
	for _, row := range rows {
		out = append(out, reference.CategoryAttributeMapping{CategoryID: row.CategoryID, Attributes: row.Attributes})
	}
	return out, nil
}

// SaveCategoryAttributeMappings replaces every mapping
func (s *LocalDataStore) SaveCategoryAttributeMappings(ctx context.Context, mappings []reference.CategoryAttributeMapping) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return replaceMappings(tx, mappings)
	})
}

// GetAttributesForCategory is a point lookup on the mapping table. A category
// without a mapping has no attributes.
func (s *LocalDataStore) GetAttributesForCategory(ctx context.Context, categoryID int64) ([]reference.Attribute, error) {
	var row models.CategoryAttributeMappingModel
	err := s.db.WithContext(ctx).Where("category_id = ?", categoryID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return []reference.Attribute{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read attributes of category %d: %w", categoryID, err)
	}
	if row.Attributes == nil {
		return []reference.Attribute{}, nil
	}
	return row.Attributes, nil
}

// GetMetadata returns a metadata value and whether it exists
func (s *LocalDataStore) GetMetadata(ctx context.Context, key string) (string, bool, error) {
	var row models.SyncMetadataModel
	err := s.db.WithContext(ctx).Where(&models.SyncMetadataModel{Key: key}).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read metadata %s: %w", key, err)
	}
	return row.Value, true, nil
}

// SetMetadata upserts a metadata value
func (s *LocalDataStore) SetMetadata(ctx context.Context, key, value string) error {
	return setMetadata(s.db.WithContext(ctx), key, value, s.now())
}

// GetLastSyncTime returns the time of the last completed sync
func (s *LocalDataStore) GetLastSyncTime(ctx context.Context) (time.Time, bool, error) {
	raw, ok, err := s.GetMetadata(ctx, MetaLastSyncTime)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		// unreadable timestamps count as never synced
		return time.Time{}, false, nil
	}
	return t, true, nil
}

// SetLastSyncTime records a completed sync
func (s *LocalDataStore) SetLastSyncTime(ctx context.Context, t time.Time) error {
	return s.SetMetadata(ctx, MetaLastSyncTime, t.UTC().Format(time.RFC3339Nano))
}

// NeedsRefresh reports whether the last sync is missing or older than the
// staleness threshold
func (s *LocalDataStore) NeedsRefresh(ctx context.Context) (bool, error) {
	last, ok, err := s.GetLastSyncTime(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return s.now().Sub(last) > s.staleAfter, nil
}

// SaveAll replaces every collection, tree and mapping in one transaction and
// writes the sync time last.
func (s *LocalDataStore) SaveAll(ctx context.Context, snap Snapshot) error {
	syncedAt := snap.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = s.now()
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		collections := []struct {
			c     reference.Collection
			items []reference.Entity
		}{
			{reference.CollectionCategories, snap.Categories},
			{reference.CollectionBrands, snap.Brands},
			{reference.CollectionAttributes, snap.Attributes},
			{reference.CollectionLocations, snap.Locations},
		}
		for _, col := range collections {
			if err := replaceCollection(tx, col.c, col.items); err != nil {
				return err
			}
		}
		if err := saveTree(tx, reference.TreeCategories, snap.CategoryTree, syncedAt); err != nil {
			return err
		}
		if err := saveTree(tx, reference.TreeLocations, snap.LocationTree, syncedAt); err != nil {
			return err
		}
		if err := replaceMappings(tx, snap.Mappings); err != nil {
			return err
		}
		return setMetadata(tx, MetaLastSyncTime, syncedAt.UTC().Format(time.RFC3339Nano), syncedAt)
	})
}

// Counts returns the number of stored entities per collection
func (s *LocalDataStore) Counts(ctx context.Context) (map[reference.Collection]int64, error) {
	counts := make(map[reference.Collection]int64, len(reference.AllCollections))
	for _, c := range reference.AllCollections {
		var n int64
		if err := s.db.WithContext(ctx).Table(models.ReferenceTable(c)).Count(&n).Error; err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", c, err)
		}
		counts[c] = n
	}
	return counts, nil
}

// ClearAll removes every reference artifact, including the sync time
func (s *LocalDataStore) ClearAll(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, c := range reference.AllCollections {
			if err := replaceCollection(tx, c, nil); err != nil {
				return err
			}
		}
		global := tx.Session(&gorm.Session{AllowGlobalUpdate: true})
		if err := global.Delete(&models.ReferenceTreeModel{}).Error; err != nil {
			return err
		}
		if err := global.Delete(&models.CategoryAttributeMappingModel{}).Error; err != nil {
			return err
		}
		return global.Delete(&models.SyncMetadataModel{}).Error
	})
}

func replaceCollection(tx *gorm.DB, c reference.Collection, entities []reference.Entity) error {
	table := models.ReferenceTable(c)
	if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Table(table).Delete(&models.ReferenceEntityModel{}).Error; err != nil {
		return fmt.Errorf("failed to clear %s: %w", c, err)
	}
	if len(entities) == 0 {
		return nil
	}

	rows := make([]models.ReferenceEntityModel, 0, len(entities))
	index := make(map[int64]int, len(entities))
	for _, e := range entities {
		// duplicate ids from the server keep the last occurrence
		if i, dup := index[e.ID]; dup {
			rows[i] = models.ReferenceEntityModelFromDomain(e)
			continue
		}
		index[e.ID] = len(rows)
		rows = append(rows, models.ReferenceEntityModelFromDomain(e))
	}
	if err := tx.Table(table).CreateInBatches(rows, insertBatchSize).Error; err != nil {
		return fmt.Errorf("failed to insert %s: %w", c, err)
	}
	return nil
}

func saveTree(tx *gorm.DB, kind reference.TreeKind, nodes []reference.TreeNode, builtAt time.Time) error {
	if nodes == nil {
		nodes = []reference.TreeNode{}
	}
	row := models.ReferenceTreeModel{Kind: kind, Nodes: nodes, BuiltAt: builtAt}
	if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to save %s tree: %w", kind, err)
	}
	return nil
}

func replaceMappings(tx *gorm.DB, mappings []reference.CategoryAttributeMapping) error {
	if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.CategoryAttributeMappingModel{}).Error; err != nil {
		return fmt.Errorf("failed to clear category attribute mappings: %w", err)
	}
	if len(mappings) == 0 {
		return nil
	}
	rows := make([]models.CategoryAttributeMappingModel, 0, len(mappings))
	for _, m := range mappings {
		rows = append(rows, models.CategoryAttributeMappingModel{CategoryID: m.CategoryID, Attributes: m.Attributes})
	}
	if err := tx.CreateInBatches(rows, insertBatchSize).Error; err != nil {
		return fmt.Errorf("failed to insert category attribute mappings: %w", err)
	}
	return nil
}

func setMetadata(tx *gorm.DB, key, value string, now time.Time) error {
	row := models.SyncMetadataModel{Key: key, Value: value, UpdatedAt: now}
	if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to write metadata %s: %w", key, err)
	}
	return nil
}
