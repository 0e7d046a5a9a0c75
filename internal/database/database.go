package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/arnold/klibrarian-api/internal/config"
	"github.com/arnold/klibrarian-api/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens the invite database. URLs starting with postgres use
// PostgreSQL, anything else is treated as a SQLite file path.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	return Open(cfg.DatabaseURL, logger.Default.LogMode(logger.Warn))
}

func Open(url string, log logger.Interface) (*gorm.DB, error) {
	var dialector gorm.Dialector

	isPostgres := strings.HasPrefix(url, "postgres")
	if isPostgres {
		dialector = postgres.Open(url)
	} else {
		if err := ensureDir(url); err != nil {
			return nil, err
		}
		dialector = sqlite.Open(sqliteDSN(url))
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: log})
	if err != nil {
		return nil, err
	}

	if !isPostgres {
		// SQLite allows a single writer; one connection keeps transactions
		// from failing with "database is locked".
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&inviteRow{},
		&models.Activity{},
	)
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_busy_timeout=5000&_foreign_keys=on"
}

func ensureDir(path string) error {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create database directory %s: %w", dir, err)
	}
	return nil
}
