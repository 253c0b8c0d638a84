package snapshot

import (
	"fmt"
	"os"
	"path/filepath"

	sqlite "github.com/glebarez/sqlite"
	"github.com/go-groceries/backend/internal/groceries"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ScratchStore is a throwaway database holding one decoded snapshot. It exists
// only to diff a fetched snapshot against the live store; its backing file is
// durable storage, so callers must Dispose it on every exit path.
type ScratchStore struct {
	db   *gorm.DB
	path string
}

// MaterializeScratch decodes a blob into a uniquely named temporary database
// under dir (os.TempDir when empty) and returns a handle. On any error the
// partially built scratch store is torn down before returning.
func MaterializeScratch(blob []byte, dir string) (*ScratchStore, error) {
	snap, err := Decode(blob)
	if err != nil {
		return nil, err
	}

	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, fmt.Sprintf("groceries_scratch_%s.db", uuid.NewString()))

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("open scratch store: %w", err)
	}

	scratch := &ScratchStore{db: db, path: path}

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
	); err != nil {
		scratch.Dispose()
		return nil, fmt.Errorf("migrate scratch store: %w", err)
	}

	if err := db.Transaction(func(tx *gorm.DB) error {
		return Apply(tx, snap)
	}); err != nil {
		scratch.Dispose()
		return nil, err
	}

	return scratch, nil
}

// Meals reads the scratch store's meal table.
func (s *ScratchStore) Meals() ([]groceries.Meal, error) {
	var meals []groceries.Meal
	if err := s.db.Find(&meals).Error; err != nil {
		return nil, err
	}
	return meals, nil
}

// Dispose closes the scratch database and deletes its backing file. It is
// safe to call more than once.
func (s *ScratchStore) Dispose() {
	if s.db != nil {
		if sqlDB, err := s.db.DB(); err == nil {
			sqlDB.Close()
		}
		s.db = nil
	}
	if s.path != "" {
		os.Remove(s.path)
		s.path = ""
	}
}
