package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/pollwave/internal/polls"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationRepairNegativeTallies = "2026-07-02_repair_negative_tallies"

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
		{name: migrationRepairNegativeTallies, apply: repairNegativeTallies},
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

// repairNegativeTallies resets counters that pre-date the non-negative tally
// constraint. Tallies only ever grow, so a negative value is corrupt data.
func repairNegativeTallies(db *gorm.DB) error {
	if err := db.Model(&polls.Option{}).
		Where("vote_count < 0").
		Update("vote_count", 0).Error; err != nil {
		return err
	}
	return db.Model(&polls.Poll{}).
		Where("upvote_count < 0").
		Update("upvote_count", 0).Error
}
