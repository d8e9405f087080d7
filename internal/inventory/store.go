package inventory

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/harrylevesque/equipscan/internal/models"
)

// Transactions take the write lock at BEGIN; contenders wait out the busy timeout.
const dsnOptions = "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"

// Open opens (creating if needed) the sqlite database at path and migrates it.
func Open(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path+dsnOptions), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Category{}, &models.Equipment{}, &models.Loan{}, &models.Sequence{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close releases the underlying sql.DB.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// nextReference hands out the next number of sequence code, formatted.
func nextReference(tx *gorm.DB, code, format string) (string, error) {
	seq := models.Sequence{Code: code}
	if err := tx.Where(models.Sequence{Code: code}).Attrs(models.Sequence{NextValue: 1}).FirstOrCreate(&seq).Error; err != nil {
		return "", fmt.Errorf("sequence %s: %w", code, err)
	}
	if err := tx.Model(&models.Sequence{}).Where("code = ?", code).Update("next_value", seq.NextValue+1).Error; err != nil {
		return "", fmt.Errorf("advance sequence %s: %w", code, err)
	}
	return fmt.Sprintf(format, seq.NextValue), nil
}
