package model

import (
	"path"
	"strings"
	"time"
)

// Kind classifies why a checkpoint was taken.
type Kind string

const (
	KindManual       Kind = "manual"
	KindAuto         Kind = "auto"
	KindSafetyBackup Kind = "safety_backup"
)

// Valid reports whether k is a known checkpoint kind.
func (k Kind) Valid() bool {
	switch k {
	case KindManual, KindAuto, KindSafetyBackup:
		return true
	}
	return false
}

// ManifestEntry identifies one generated file captured with a checkpoint.
type ManifestEntry struct {
	Path   string // Relative to project root, slash separated
	Digest string // SHA-256 hex of the file content
	Size   int64
}

// Manifest is the file set of a checkpoint, sorted by path.
type Manifest []ManifestEntry

// TotalSize returns the sum of all entry sizes.
func (m Manifest) TotalSize() int64 {
	var n int64
	for _, e := range m {
		n += e.Size
	}
	return n
}

// Index returns the manifest keyed by path.
func (m Manifest) Index() map[string]ManifestEntry {
	idx := make(map[string]ManifestEntry, len(m))
	for _, e := range m {
		idx[e.Path] = e
	}
	return idx
}

// Checkpoint is an immutable, signed snapshot of a project.
// SnapshotData, Signature and Manifest never change after creation.
type Checkpoint struct {
	ID           string // UUIDv7, ordered by creation time
	ProjectID    string
	CreatedAt    time.Time
	Description  string
	Kind         Kind
	SnapshotData []byte // Encoded table payload
	Signature    []byte // Ed25519 signature over the checkpoint's signing message
	Manifest     Manifest
}

// Summary is the lightweight listing form of a checkpoint.
// It never carries the payload or the manifest.
type Summary struct {
	ID           string
	ProjectID    string
	CreatedAt    time.Time
	Description  string
	Kind         Kind
	SnapshotSize int64
	FileCount    int
	FileBytes    int64
}

// Operation records a CLI-level operation against the checkpoint store.
type Operation struct {
	ID             int64
	Operation      string // e.g. "CreateCheckpoint", "RestoreCheckpoint"
	Parameters     string
	CheckpointID   string
	SafetyBackupID string
	Status         string // "success" or "error"
	Error          string
	StartedAt      time.Time
	FinishedAt     time.Time // Zero while the operation is running
}

// FileVersion is one captured version of a file across checkpoints.
type FileVersion struct {
	CheckpointID string
	CreatedAt    time.Time
	Kind         Kind
	Digest       string
	Size         int64
}

// ValidPath reports whether p is a clean, relative, slash separated path
// that stays inside the project root.
func ValidPath(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, `\`) {
		return false
	}
	if path.Clean(p) != p {
		return false
	}
	return p != "." && p != ".." && !strings.HasPrefix(p, "../")
}
