package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"github.com/go-groceries/backend/internal/groceries"
	"github.com/go-groceries/backend/internal/syncsvc"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations
// for the groceries tables and the sync location registry.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&groceries.Meal{},
		&groceries.GroceryList{},
		&groceries.GroceryListState{},
		&groceries.Recipe{},
		&groceries.Tag{},
		&groceries.CustomIngredient{},
		&groceries.PendingRecipe{},
		&groceries.StoreLocation{},
		&groceries.IngredientStore{},
		&groceries.Setting{},
		&syncsvc.Location{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
