package ckpt

import (
	"context"
	"io"
)

// Vault stores file bodies addressed by their SHA-256 digest.
// All operations stream so large files are never held in memory.
type Vault interface {
	// PutContent stores content identified by its digest.
	// The operation is idempotent: storing the same digest twice is safe.
	// size is the number of bytes that will be read from r.
	PutContent(ctx context.Context, digest string, r io.Reader, size int64) error

	// GetContent retrieves content by digest and writes it to w.
	GetContent(ctx context.Context, digest string, w io.Writer) error

	// HasContent reports whether a body with the digest is stored.
	HasContent(ctx context.Context, digest string) (bool, error)

	// DeleteContent removes a body. Deleting a missing digest is not an error.
	DeleteContent(ctx context.Context, digest string) error

	// ListContent returns every stored digest.
	ListContent(ctx context.Context) ([]string, error)

	// ValidateSetup verifies that the vault is accessible and properly configured.
	ValidateSetup(ctx context.Context) error
}
