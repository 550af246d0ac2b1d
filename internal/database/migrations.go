package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/PergamonResearchLab/annoserv/internal/index"
)

const (
	migrationBackfillDocumentTimestamps = "2026-06-02_backfill_document_timestamps"
	migrationDropOrphanedFieldRows      = "2026-07-18_drop_orphaned_field_rows"
)

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
		{name: migrationBackfillDocumentTimestamps, apply: backfillDocumentTimestamps},
		{name: migrationDropOrphanedFieldRows, apply: dropOrphanedFieldRows},
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

// backfillDocumentTimestamps gives documents written before ordering was
// introduced a non-zero update timestamp so listings stay stable.
func backfillDocumentTimestamps(db *gorm.DB) error {
	return db.Model(&index.Document{}).
		Where("updated_at_s = 0").
		Update("updated_at_s", time.Now().UTC().Unix()).Error
}

// dropOrphanedFieldRows removes searchable field rows whose document is gone.
func dropOrphanedFieldRows(db *gorm.DB) error {
	return db.
		Where("doc_id NOT IN (SELECT id FROM documents)").
		Delete(&index.Field{}).Error
}
