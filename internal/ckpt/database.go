package ckpt

import (
	"context"

	"ckpt-go/internal/model"
)

// CheckpointStore persists checkpoints durably.
type CheckpointStore interface {
	// SaveCheckpoint writes the checkpoint and its manifest in one transaction.
	// It returns only after the transaction has committed.
	SaveCheckpoint(ctx context.Context, cp *model.Checkpoint) (string, error)

	// ListCheckpoints returns summaries for a project, newest first.
	// Payloads and manifests are not loaded.
	ListCheckpoints(ctx context.Context, projectID string) ([]*model.Summary, error)

	// GetCheckpoint returns the full checkpoint, or ErrNotFound.
	GetCheckpoint(ctx context.Context, id string) (*model.Checkpoint, error)

	// DeleteCheckpoint removes a checkpoint and its manifest, or returns ErrNotFound.
	DeleteCheckpoint(ctx context.Context, id string) error

	// ReferencedDigests returns every content digest referenced by any manifest.
	ReferencedDigests(ctx context.Context) (map[string]struct{}, error)

	// FindFileVersions returns the versions of one path across a project's
	// checkpoints, newest first.
	FindFileVersions(ctx context.Context, projectID string, path string) ([]*model.FileVersion, error)
}

// ProjectStore is the structured store holding the live project tables.
type ProjectStore interface {
	// ReadTables returns every tracked row for the project, ordered by id.
	ReadTables(ctx context.Context, projectID string) (*model.Tables, error)

	// ReplaceTables deletes all tracked rows for the project and inserts the
	// given rows inside a single serializable transaction. On error nothing
	// has changed.
	ReplaceTables(ctx context.Context, projectID string, tables *model.Tables) error
}

// OperationLog records CLI-level operations for the history view.
type OperationLog interface {
	CreateOperation(ctx context.Context, operation string, parameters string) (*model.Operation, error)
	FinishOperation(ctx context.Context, op *model.Operation) error
	ListOperations(ctx context.Context, limit int) ([]*model.Operation, error)
}

// Database is the full metadata database used by the service.
type Database interface {
	CheckpointStore
	ProjectStore
	OperationLog

	// Close closes the database connection.
	Close() error
}
