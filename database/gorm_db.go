package database

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/camden-git/mediasyncd/models"
)

// openSQLite opens a GORM sqlite handle with WAL enabled and quiet logging.
// SQLite serializes writers, which is what the guarded insert and the
// claim-next conditional update rely on.
func openSQLite(dataSourceName string) (*gorm.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dataSourceName), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory for '%s': %w", dataSourceName, err)
	}

	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(sqlite.Open(dataSourceName), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database using GORM: %w", err)
	}

	if err := db.Exec("PRAGMA journal_mode=WAL;").Error; err != nil {
		log.Printf("warning: failed to set WAL mode on %s: %v", dataSourceName, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB from GORM: %w", err)
	}
	sqlDB.SetMaxIdleConns(4)
	sqlDB.SetMaxOpenConns(16)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

// InitProjectDB opens (and migrates) the per-project manifest database that
// backs the dedupe index.
func InitProjectDB(dataSourceName string) (*gorm.DB, error) {
	db, err := openSQLite(dataSourceName)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&models.MediaRecord{}); err != nil {
		return nil, fmt.Errorf("GORM AutoMigrate failed for project db %s: %w", dataSourceName, err)
	}
	return db, nil
}

// InitBridgeDB opens (and migrates) the central bridge database holding
// resolve jobs.
func InitBridgeDB(dataSourceName string) (*gorm.DB, error) {
	db, err := openSQLite(dataSourceName)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&models.ResolveJob{}); err != nil {
		return nil, fmt.Errorf("GORM AutoMigrate failed for bridge db %s: %w", dataSourceName, err)
	}
	log.Println("bridge database initialized successfully at", dataSourceName)
	return db, nil
}

// InitTagDB opens (and migrates) the shared tag database. One database covers
// every project on every source; asset ids carry the scoping.
func InitTagDB(dataSourceName string) (*gorm.DB, error) {
	db, err := openSQLite(dataSourceName)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&models.AssetTag{}, &models.TagMeta{}); err != nil {
		return nil, fmt.Errorf("GORM AutoMigrate failed for tag db %s: %w", dataSourceName, err)
	}
	return db, nil
}
