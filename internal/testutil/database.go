package testutil

import (
	"context"
	"sync"
	"testing"

	"ckpt-go/internal/ckpt"
	"ckpt-go/internal/config"
	"ckpt-go/internal/database"
	"ckpt-go/internal/model"
)

// NewTestDatabase creates a new in-memory SQLite database with schema applied.
// The database is automatically closed when the test completes.
func NewTestDatabase(t *testing.T) *database.SQLiteDatabase {
	t.Helper()

	db, err := database.NewDatabaseFromConfig(config.DatabaseConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// FaultyDatabase wraps a ckpt.Database and fails selected calls on demand.
type FaultyDatabase struct {
	ckpt.Database

	mu         sync.Mutex
	saveErr    error
	replaceErr error
	replaces   int
}

// NewFaultyDatabase wraps db.
func NewFaultyDatabase(db ckpt.Database) *FaultyDatabase {
	return &FaultyDatabase{Database: db}
}

// FailSave makes every SaveCheckpoint return err. nil restores normal behavior.
func (f *FaultyDatabase) FailSave(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveErr = err
}

// FailReplace makes every ReplaceTables return err without touching the store.
func (f *FaultyDatabase) FailReplace(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaceErr = err
}

// Replaces returns how many times ReplaceTables was called.
func (f *FaultyDatabase) Replaces() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.replaces
}

func (f *FaultyDatabase) SaveCheckpoint(ctx context.Context, cp *model.Checkpoint) (string, error) {
	f.mu.Lock()
	err := f.saveErr
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	return f.Database.SaveCheckpoint(ctx, cp)
}

func (f *FaultyDatabase) ReplaceTables(ctx context.Context, projectID string, tables *model.Tables) error {
	f.mu.Lock()
	f.replaces++
	err := f.replaceErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Database.ReplaceTables(ctx, projectID, tables)
}

var _ ckpt.Database = (*FaultyDatabase)(nil)
