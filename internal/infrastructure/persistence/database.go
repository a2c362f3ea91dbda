package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/vendorhub/storefront/internal/domain/reference"
	"github.com/vendorhub/storefront/internal/infrastructure/config"
	"github.com/vendorhub/storefront/internal/infrastructure/logger"
	"github.com/vendorhub/storefront/internal/infrastructure/migration"
	"github.com/vendorhub/storefront/internal/infrastructure/persistence/models"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Database holds the store connection
type Database struct {
	DB     *gorm.DB
	cfg    config.DatabaseConfig
	logger *zap.Logger
}

// NewDatabase opens the store selected by cfg.Driver
func NewDatabase(cfg *config.DatabaseConfig, log *zap.Logger) (*Database, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	case "sqlite", "":
		dialector = sqlite.Open(SQLiteDSN(cfg.Path))
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.LogLevel), cfg.SlowThreshold),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{DB: db, cfg: *cfg, logger: log}, nil
}

// SQLiteDSN adds the pragmas the queues rely on to a sqlite file path
func SQLiteDSN(path string) string {
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
}

// Migrate applies every pending schema migration
func (d *Database) Migrate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m, err := d.migrator()
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Up()
}

func (d *Database) migrator() (*migration.Migrator, error) {
	log := d.logger
	if log == nil {
		log = zap.NewNop()
	}
	return migration.New(&d.cfg, log)
}

// Tables lists the tables created by Migrate
func Tables() []string {
	tables := []string{
		models.UploadJobModel{}.TableName(),
		models.QueuedMutationModel{}.TableName(),
		models.CacheEntryModel{}.TableName(),
		models.LeaseModel{}.TableName(),
		models.ReferenceTreeModel{}.TableName(),
		models.CategoryAttributeMappingModel{}.TableName(),
		models.SyncMetadataModel{}.TableName(),
	}
	for _, c := range reference.AllCollections {
		tables = append(tables, models.ReferenceTable(c))
	}
	return tables
}

// DropAll rolls every migration back, removing the tables created by Migrate
func (d *Database) DropAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m, err := d.migrator()
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Down()
}

// SchemaVersion reports the applied migration version and whether the last
// migration failed halfway
func (d *Database) SchemaVersion(ctx context.Context) (uint, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	m, err := d.migrator()
	if err != nil {
		return 0, false, err
	}
	defer m.Close()
	return m.Version()
}

// TableStatus reports whether each table exists
func (d *Database) TableStatus(ctx context.Context) map[string]bool {
	migrator := d.DB.WithContext(ctx).Migrator()
	status := make(map[string]bool)
	for _, table := range Tables() {
		status[table] = migrator.HasTable(table)
	}
	return status
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// Ping checks if the database connection is alive
func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Stats returns connection pool statistics
func (d *Database) Stats() (ConnectionStats, error) {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return ConnectionStats{}, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	stats := sqlDB.Stats()
	return ConnectionStats{
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
		WaitCount:       stats.WaitCount,
		WaitDuration:    stats.WaitDuration,
	}, nil
}

// ConnectionStats holds connection pool statistics
type ConnectionStats struct {
	OpenConnections int           `json:"open_connections"`
	InUse           int           `json:"in_use"`
	Idle            int           `json:"idle"`
	WaitCount       int64         `json:"wait_count"`
	WaitDuration    time.Duration `json:"wait_duration"`
}
