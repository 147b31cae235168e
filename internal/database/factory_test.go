package database

import (
	"context"
	"path/filepath"
	"testing"

	"ckpt-go/internal/config"
)

func TestNewDatabaseFromConfig(t *testing.T) {
	t.Run("memory database is migrated", func(t *testing.T) {
		cfg := config.DatabaseConfig{Type: "memory"}
		got, err := NewDatabaseFromConfig(cfg)
		if err != nil {
			t.Fatalf("NewDatabaseFromConfig() unexpected error: %v", err)
		}
		defer got.Close()

		if err := got.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() error = %v", err)
		}
		if _, err := got.ListCheckpoints(context.Background(), "p"); err != nil {
			t.Errorf("ListCheckpoints() error = %v", err)
		}
	})

	t.Run("sqlite database", func(t *testing.T) {
		dir := t.TempDir()
		cfg := config.DatabaseConfig{Type: "sqlite", DataDir: dir}
		got, err := NewDatabaseFromConfig(cfg)
		if err != nil {
			t.Fatalf("NewDatabaseFromConfig() unexpected error: %v", err)
		}
		defer got.Close()

		if got.Path() != filepath.Join(dir, DatabaseFile) {
			t.Errorf("Path() = %q, want %q", got.Path(), filepath.Join(dir, DatabaseFile))
		}
		if err := got.CheckMigrations(); err == nil {
			t.Error("CheckMigrations() expected error before InitDatabase")
		}
	})

	t.Run("sqlite database without data_dir", func(t *testing.T) {
		cfg := config.DatabaseConfig{Type: "sqlite"}
		got, err := NewDatabaseFromConfig(cfg)
		if err == nil {
			t.Error("NewDatabaseFromConfig() expected error for missing data_dir, got nil")
		}
		if got != nil {
			t.Error("NewDatabaseFromConfig() should return nil on error")
			got.Close()
		}
	})

	t.Run("unknown database type", func(t *testing.T) {
		cfg := config.DatabaseConfig{Type: "unknown"}
		got, err := NewDatabaseFromConfig(cfg)
		if err == nil {
			t.Error("NewDatabaseFromConfig() expected error for unknown type, got nil")
		}
		if got != nil {
			t.Error("NewDatabaseFromConfig() should return nil on error")
			got.Close()
		}
	})
}

func TestInitDatabase(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "db")
	cfg := config.DatabaseConfig{Type: "sqlite", DataDir: dir}

	if err := InitDatabase(cfg); err != nil {
		t.Fatalf("InitDatabase() error = %v", err)
	}
	// Running it again is a no-op.
	if err := InitDatabase(cfg); err != nil {
		t.Fatalf("second InitDatabase() error = %v", err)
	}

	db, err := NewDatabaseFromConfig(cfg)
	if err != nil {
		t.Fatalf("NewDatabaseFromConfig() error = %v", err)
	}
	defer db.Close()

	if err := db.CheckMigrations(); err != nil {
		t.Errorf("CheckMigrations() after InitDatabase error = %v", err)
	}
}
