package storage

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenDatabase opens the relational store. driver is "postgres" (dsn is a
// libpq URL) or "sqlite" (dsn is a file path or ":memory:").
func OpenDatabase(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
	}

	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to %s: %v", ErrStoreUnavailable, driver, err)
	}

	if driver == "sqlite" {
		// one writer at a time; an in-memory database lives on a single connection
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// Migrate creates or updates every table the store uses.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&Resource{},
		&Chunk{},
		&Message{},
		&UsedChunkRecord{},
		&SafetyReport{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
