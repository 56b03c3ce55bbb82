package db

import (
	"fmt"

	"github.com/zulandar/great12/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Cycle{},
		&models.Goal{},
		&models.Action{},
		&models.WeeklyReview{},
		&models.Profile{},
		&models.AuthSession{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// OpenMemory opens a migrated in-memory sqlite database.
func OpenMemory() (*gorm.DB, error) {
	db, err := OpenSQLite(":memory:", nil)
	if err != nil {
		return nil, err
	}
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}
