package database

import (
	"log/slog"

	"github.com/glebarez/sqlite"
	"github.com/ukuvago/contractdesk/internal/config"
	"github.com/ukuvago/contractdesk/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var DB *gorm.DB

// Initialize opens the configured database and stores it as the package handle.
func Initialize(cfg *config.Config) error {
	db, err := Open(cfg)
	if err != nil {
		return err
	}

	DB = db
	return nil
}

// Open connects to the configured database and migrates the schema.
func Open(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.DatabaseType {
	case "postgres":
		dialector = postgres.Open(cfg.DatabaseURL)
	default:
		dialector = sqlite.Open(cfg.DatabaseURL)
	}

	logLevel := gormlogger.Warn
	if cfg.LogLevel == "debug" {
		logLevel = gormlogger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	if cfg.DatabaseType != "postgres" {
		// SQLite allows a single writer; one connection keeps transactions from tripping over each other.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	slog.Info("database connected", "type", cfg.DatabaseType)

	if err := autoMigrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Contract{},
		&models.SignatureRequest{},
		&models.ShareLink{},
		&models.AuditLogEntry{},
	)
}

func GetDB() *gorm.DB {
	return DB
}
