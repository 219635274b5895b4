package datastore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/magtest/internal/logger"
)

// Open opens (creating if needed) the sqlite database at path and migrates
// the schema.
func Open(path string, opts ...Option) (*DataStore, error) {
	ds := &DataStore{path: path, now: time.Now}
	for _, opt := range opts {
		opt(ds)
	}
	if ds.log == nil {
		ds.log = logger.Global().Module("datastore")
	}

	if path == "" {
		return nil, validationError("open", "database path is required")
	}
	if !isMemoryPath(path) {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, dbError("create_directory", err)
			}
		}
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON", path)
	if isMemoryPath(path) {
		dsn = "file::memory:?cache=shared&_foreign_keys=ON"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(ds.log, ds.slowQuery),
	})
	if err != nil {
		return nil, dbError("open", fmt.Errorf("failed to open SQLite database: %w", err))
	}

	// sqlite serializes writers anyway; one connection avoids SQLITE_BUSY
	sqlDB, err := db.DB()
	if err != nil {
		return nil, dbError("open", err)
	}
	sqlDB.SetMaxOpenConns(1)

	ds.DB = db
	if err := ds.migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	ds.log.Info("offline store opened", logger.String("path", path))
	return ds, nil
}

func (ds *DataStore) migrate() error {
	if err := ds.DB.AutoMigrate(allModels()...); err != nil {
		return dbError("migrate", fmt.Errorf("failed to auto-migrate SQLite database: %w", err))
	}
	return nil
}

func isMemoryPath(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, "file::memory:")
}
