package models

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

var DB *gorm.DB

// Open 打开数据库并迁移表结构。driver 为 postgres 或 sqlite
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite", "":
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, os.ModePerm); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := migrateAllTables(db); err != nil {
		return nil, fmt.Errorf("failed to migrate tables: %w", err)
	}
	log.Info().Str("driver", driver).Msg("database ready")
	return db, nil
}

// InitDB 打开全局数据库连接
func InitDB(driver, dsn string) error {
	db, err := Open(driver, dsn)
	if err != nil {
		return err
	}
	DB = db
	return nil
}

// migrateAllTables 批量迁移所有表
func migrateAllTables(db *gorm.DB) error {
	models := []interface{}{
		&StoredFeature{},
		&GeoRecord{},
		&EditSession{},
		&LayerMeta{},
	}
	return db.AutoMigrate(models...)
}
