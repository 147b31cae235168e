package database

import (
	"fmt"
	"os"
	"path/filepath"

	"ckpt-go/internal/config"
)

// DatabaseFile is the name of the SQLite file inside the data directory.
const DatabaseFile = "ckpt.db"

// NewDatabaseFromConfig creates a database based on the database config type.
// In-memory databases are migrated immediately; file databases are migrated
// by InitDatabase and only checked here by the caller.
func NewDatabaseFromConfig(cfg config.DatabaseConfig) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, DatabaseFile))
	case "memory":
		db, err := NewSQLiteDatabase(":memory:")
		if err != nil {
			return nil, err
		}
		if err := db.MigrateUp(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating in-memory database: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

// InitDatabase creates the data directory if needed and brings the schema
// up to date.
func InitDatabase(cfg config.DatabaseConfig) error {
	if cfg.Type == "sqlite" && cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}
	db, err := NewDatabaseFromConfig(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.MigrateUp(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	return nil
}
