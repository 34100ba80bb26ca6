package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationDedupeConnectionPairs = "2026-05-20_dedupe_connection_pairs"

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
		{name: migrationDedupeConnectionPairs, apply: dedupeConnectionPairs},
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

// dedupeConnectionPairs enforces the at-most-one-record-per-pair invariant on
// data written before the either-direction duplicate check existed: for each
// unordered user pair only the oldest record survives.
func dedupeConnectionPairs(db *gorm.DB) error {
	const statement = `
DELETE FROM connections WHERE id NOT IN (
	SELECT MIN(id) FROM connections GROUP BY
		CASE WHEN requester_id < receiver_id THEN requester_id ELSE receiver_id END,
		CASE WHEN requester_id < receiver_id THEN receiver_id ELSE requester_id END
);`
	return db.Exec(statement).Error
}
