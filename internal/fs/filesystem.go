package fs

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"ckpt-go/internal/ckpt"
	"ckpt-go/internal/model"
)

const (
	tempPrefix  = ".ckpt-tmp-"
	tempPattern = tempPrefix + "*"
)

// OSProjectFS is the real filesystem implementation of ckpt.ProjectFS.
// Every path is relative to root and checked so it cannot leave it,
// including through symlinked directories.
type OSProjectFS struct {
	root   string
	ignore *IgnoreMatcher
}

// NewOSProjectFS creates a project filesystem rooted at root. A nil matcher
// applies only the default ignore patterns.
func NewOSProjectFS(root string, ignore *IgnoreMatcher) (*OSProjectFS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat project root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project root is not a directory: %s", abs)
	}
	if ignore == nil {
		ignore = NewIgnoreMatcher(DefaultIgnorePatterns)
	}
	return &OSProjectFS{root: abs, ignore: ignore}, nil
}

func (f *OSProjectFS) Root() string {
	return f.root
}

// resolve validates rel and returns its absolute path. Existing parent
// directories must not be symlinks.
func (f *OSProjectFS) resolve(rel string) (string, error) {
	if !model.ValidPath(rel) {
		return "", fmt.Errorf("invalid project path %q", rel)
	}

	parts := strings.Split(rel, "/")
	dir := f.root
	for _, part := range parts[:len(parts)-1] {
		dir = filepath.Join(dir, part)
		info, err := os.Lstat(dir)
		if os.IsNotExist(err) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", dir, err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return "", fmt.Errorf("path %q crosses a symlink", rel)
		}
		if !info.IsDir() {
			return "", fmt.Errorf("path %q: parent is not a directory", rel)
		}
	}
	return filepath.Join(f.root, filepath.FromSlash(rel)), nil
}

// Walk discovers regular files under the project root.
func (f *OSProjectFS) Walk(ctx context.Context) ([]ckpt.FileEntry, error) {
	var entries []ckpt.FileEntry

	err := filepath.WalkDir(f.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == f.root {
			return nil
		}

		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if f.ignore.Match(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		// Symlinks, devices, pipes and sockets are not tracked.
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}
		entries = append(entries, ckpt.FileEntry{Path: rel, Size: info.Size(), Mode: info.Mode()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking project: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// Open opens a regular file for reading.
func (f *OSProjectFS) Open(rel string) (io.ReadCloser, error) {
	abs, err := f.resolve(rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Lstat(abs)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", rel)
	}
	return os.Open(abs)
}

// Stat returns fresh file info without following a final symlink.
func (f *OSProjectFS) Stat(rel string) (fs.FileInfo, error) {
	abs, err := f.resolve(rel)
	if err != nil {
		return nil, err
	}
	return os.Lstat(abs)
}

// WriteFile writes through a temp file in the destination directory and
// renames it over rel only when write succeeds.
func (f *OSProjectFS) WriteFile(rel string, perm fs.FileMode, write func(w io.Writer) error) error {
	abs, err := f.resolve(rel)
	if err != nil {
		return err
	}
	if info, err := os.Lstat(abs); err == nil && info.IsDir() {
		return fmt.Errorf("cannot replace directory with file: %s", rel)
	}

	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", rel, err)
	}

	tmpFile, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := write(tmpFile); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if perm == 0 {
		perm = 0644
	}
	if err := os.Chmod(tmpPath, perm.Perm()); err != nil {
		return fmt.Errorf("setting permissions on %s: %w", rel, err)
	}
	if err := os.Rename(tmpPath, abs); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// Remove deletes rel, then removes parent directories left empty, stopping
// at the project root. A missing file is not an error.
func (f *OSProjectFS) Remove(rel string) error {
	abs, err := f.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", rel, err)
	}

	for dir := filepath.Dir(abs); dir != f.root && strings.HasPrefix(dir, f.root); dir = filepath.Dir(dir) {
		// Fails on the first non-empty directory.
		if err := os.Remove(dir); err != nil {
			break
		}
	}
	return nil
}

// CheckWrite reports entries a restore would leave in the way of writing rel.
// Only tracked files are ever removed, so the write is blocked by an untracked
// file or symlink where a parent directory is needed, or by a directory at
// rel holding anything other than tracked files.
func (f *OSProjectFS) CheckWrite(rel string) error {
	if !model.ValidPath(rel) {
		return fmt.Errorf("invalid project path %q", rel)
	}

	parts := strings.Split(rel, "/")
	ignoredAbove := false
	for i := 1; i < len(parts); i++ {
		parent := strings.Join(parts[:i], "/")
		info, err := os.Lstat(f.abs(parent))
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("stat %s: %w", parent, err)
		}
		if info.IsDir() {
			ignoredAbove = ignoredAbove || f.ignore.Match(parent, true)
			continue
		}
		// A tracked file here is absent from any manifest holding rel, so it
		// is deleted before rel is written.
		if info.Mode().IsRegular() && !ignoredAbove && !f.ignore.Match(parent, false) {
			return nil
		}
		return fmt.Errorf("%s is an untracked %s, not a directory", parent, describe(info.Mode()))
	}

	info, err := os.Lstat(f.abs(rel))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", rel, err)
	}
	if !info.IsDir() {
		return nil
	}
	if ignoredAbove {
		return fmt.Errorf("%s is an untracked directory", rel)
	}
	left, err := f.leftover(rel)
	if err != nil {
		return err
	}
	if left != "" {
		return fmt.Errorf("%s is a directory and %s would remain after removing tracked files", rel, left)
	}
	return nil
}

// leftover returns the first entry at or under the directory rel that
// removing every tracked file would not clear: an ignored or non-regular
// entry, or an empty directory.
func (f *OSProjectFS) leftover(rel string) (string, error) {
	var found string
	err := filepath.WalkDir(f.abs(rel), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		r, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}
		r = filepath.ToSlash(r)

		if d.IsDir() {
			if f.ignore.Match(r, true) {
				found = r
				return filepath.SkipAll
			}
			entries, err := os.ReadDir(p)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				found = r
				return filepath.SkipAll
			}
			return nil
		}
		if !d.Type().IsRegular() || f.ignore.Match(r, false) {
			found = r
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("inspecting %s: %w", rel, err)
	}
	return found, nil
}

func (f *OSProjectFS) abs(rel string) string {
	return filepath.Join(f.root, filepath.FromSlash(rel))
}

func describe(mode fs.FileMode) string {
	switch {
	case mode&fs.ModeSymlink != 0:
		return "symlink"
	case mode.IsRegular():
		return "file"
	default:
		return "special file"
	}
}

// Compile-time check that OSProjectFS implements ckpt.ProjectFS interface
var _ ckpt.ProjectFS = (*OSProjectFS)(nil)
