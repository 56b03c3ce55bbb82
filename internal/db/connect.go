package db

import (
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/zulandar/great12/internal/config"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DSN builds a MySQL DSN from connection settings. Affected-row counts
// include matched-but-unchanged rows so a no-op update is not reported as
// a missing row.
func DSN(cfg config.DatabaseConfig) string {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	mc.DBName = cfg.Name
	mc.ParseTime = true
	mc.ClientFoundRows = true
	return mc.FormatDSN()
}

// Open connects to the configured record store backend.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if cfg.LogQueries {
		gcfg.Logger = logger.Default.LogMode(logger.Info)
	}

	switch cfg.Driver {
	case "sqlite":
		return OpenSQLite(cfg.Path, gcfg)
	case "mysql":
		db, err := gorm.Open(gormmysql.Open(DSN(cfg)), gcfg)
		if err != nil {
			return nil, fmt.Errorf("db: connect to %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Name, err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", cfg.Driver)
	}
}

// OpenSQLite opens a sqlite database file (or ":memory:"). The pool is pinned
// to one connection so an in-memory database is shared by every goroutine.
func OpenSQLite(path string, gcfg *gorm.Config) (*gorm.DB, error) {
	if gcfg == nil {
		gcfg = &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	}
	db, err := gorm.Open(sqlite.Open(path), gcfg)
	if err != nil {
		return nil, fmt.Errorf("db: open sqlite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("db: sqlite pool %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, fmt.Errorf("db: enable foreign keys: %w", err)
	}
	return db, nil
}

// CreateDatabase creates the configured MySQL database if it doesn't already
// exist. It is a no-op for sqlite, which creates its file on open.
func CreateDatabase(cfg config.DatabaseConfig) error {
	if cfg.Driver != "mysql" {
		return nil
	}
	admin := cfg
	admin.Name = ""
	adminDB, err := gorm.Open(gormmysql.Open(DSN(admin)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("db: admin connect to %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	sql := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", cfg.Name)
	if err := adminDB.Exec(sql).Error; err != nil {
		return fmt.Errorf("db: create database %s: %w", cfg.Name, err)
	}
	return nil
}
