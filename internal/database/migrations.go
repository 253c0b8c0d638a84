package database

import (
	"errors"
	"time"

	"github.com/go-groceries/backend/internal/groceries"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillMealUpdatedAt = "2026-05-11_backfill_meal_updated_at"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillMealUpdatedAt, apply: backfillMealUpdatedAt},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Meals imported from snapshots produced before update tracking existed carry
// a zero updated_at_s; their creation time is the best available stand-in.
func backfillMealUpdatedAt(db *gorm.DB) error {
	return db.Model(&groceries.Meal{}).
		Where("updated_at_s = 0").
		Update("updated_at_s", gorm.Expr("created_at_s")).Error
}
