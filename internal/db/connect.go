package db

import (
	"fmt"
	"regexp"
	"time"

	"github.com/diewo77/invoicing/internal/config"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var passwordRegex = regexp.MustCompile(`(password=)([^\s]+)`)

// Open connects using cfg, retrying while Postgres starts up. Duplicate-key
// errors are translated to gorm.ErrDuplicatedKey so the numbering sequencer
// can map them to conflicts.
func Open(cfg config.DatabaseConfig, log zerolog.Logger) (*gorm.DB, error) {
	logLevel := logger.Silent
	if cfg.Debug {
		logLevel = logger.Info
	}
	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logLevel), TranslateError: true}

	if cfg.Driver == "sqlite" {
		log.Info().Str("path", cfg.Path).Msg("opening sqlite database")
		return OpenSQLite(cfg.Path, gcfg)
	}

	dsn := NormalizeDSN(cfg.DSN())
	log.Info().Str("dsn", passwordRegex.ReplaceAllString(dsn, `${1}***`)).Msg("connecting to postgres")

	var db *gorm.DB
	var err error
	for i := 0; i < 10; i++ {
		db, err = gorm.Open(postgres.Open(dsn), gcfg)
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("retrying database connection")
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect database after retries: %w", err)
	}
	// Basic connectivity test
	if pingErr := db.Exec("SELECT 1").Error; pingErr != nil {
		return nil, fmt.Errorf("db ping failed: %w", pingErr)
	}
	return db, nil
}

// OpenSQLite opens a sqlite database. A single connection serialises writers,
// which sqlite requires anyway, and keeps in-memory databases alive.
func OpenSQLite(path string, gcfg *gorm.Config) (*gorm.DB, error) {
	if gcfg == nil {
		gcfg = &gorm.Config{Logger: logger.Default.LogMode(logger.Silent), TranslateError: true}
	}
	db, err := gorm.Open(sqlite.Open(path), gcfg)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}
