package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/arencloud/s3keeper/internal/config"
	"github.com/arencloud/s3keeper/internal/logging"
	"github.com/arencloud/s3keeper/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to the configured database and migrates the schema.
func Open(cfg *config.Config, logger logging.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver := strings.ToLower(strings.TrimSpace(cfg.DBDriver)); driver {
	case DriverPostgres, "postgresql":
		if cfg.DBDsn == "" {
			return nil, &os.PathError{Op: "open", Path: "DATABASE_URL/DB_DSN", Err: os.ErrInvalid}
		}
		dialector = postgres.Open(cfg.DBDsn)
		logger.Info("db connect", "driver", DriverPostgres)
	case DriverSQLite, "":
		if cfg.DBPath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
				return nil, err
			}
		}
		dialector = sqlite.Open(sqliteDSN(cfg.DBPath))
		logger.Info("db connect", "driver", DriverSQLite, "path", cfg.DBPath)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.DBDriver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger:         newGormLogger(logger, gormLevel(logging.GetLevel())),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}
	if gdb.Dialector.Name() == DriverSQLite {
		// one writer at a time; this also serializes per-user credential updates
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := Migrate(gdb); err != nil {
		return nil, err
	}
	return gdb, nil
}

// Migrate creates or updates the credentials and audit_entries tables.
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(&models.Credential{}, &models.AuditEntry{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Ping checks connectivity, used by the health endpoint.
func Ping(ctx context.Context, gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func Close(gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func sqliteDSN(path string) string {
	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func gormLevel(lvl string) gormlogger.LogLevel {
	switch strings.ToLower(lvl) {
	case "debug":
		return gormlogger.Info // SQL traces at debug level
	case "error", "fatal":
		return gormlogger.Error
	default:
		return gormlogger.Warn
	}
}
