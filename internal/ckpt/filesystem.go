package ckpt

import (
	"context"
	"io"
	"io/fs"
)

// FileEntry is a regular file found under the project root.
type FileEntry struct {
	Path string // Relative to the root, slash separated
	Size int64
	Mode fs.FileMode
}

// ProjectFS provides file access scoped to the project root.
// All paths are relative and slash separated; implementations reject paths
// that would escape the root.
type ProjectFS interface {
	// Root returns the absolute project root.
	Root() string

	// Walk lists every tracked regular file, sorted by path. Ignored paths,
	// symlinks and special files are skipped.
	Walk(ctx context.Context) ([]FileEntry, error)

	// Open opens a file for reading.
	Open(path string) (io.ReadCloser, error)

	// Stat returns fresh file info.
	Stat(path string) (fs.FileInfo, error)

	// WriteFile replaces path atomically: write streams the new content into a
	// temporary file that is renamed over path only if write returns nil.
	WriteFile(path string, perm fs.FileMode, write func(w io.Writer) error) error

	// Remove deletes a file and any parent directories it leaves empty.
	Remove(path string) error

	// CheckWrite returns an error if path could not be written once the
	// tracked files a restore deletes are gone, because entries Walk does not
	// report stand in the way.
	CheckWrite(path string) error
}
