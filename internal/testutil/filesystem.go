package testutil

import (
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"ckpt-go/internal/ckpt"
	"ckpt-go/internal/fs"
)

// FaultyProjectFS wraps a real project filesystem and fails writes or
// removals of selected paths.
type FaultyProjectFS struct {
	*fs.OSProjectFS

	mu          sync.Mutex
	writeFails  map[string]error
	removeFails map[string]error
}

// NewTestProjectFS creates a project filesystem rooted in a fresh temp dir.
func NewTestProjectFS(t *testing.T) *FaultyProjectFS {
	t.Helper()
	pfs, err := fs.NewOSProjectFS(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("failed to create project fs: %v", err)
	}
	return &FaultyProjectFS{
		OSProjectFS: pfs,
		writeFails:  make(map[string]error),
		removeFails: make(map[string]error),
	}
}

// FailWrite makes WriteFile of path return err after streaming the content.
func (f *FaultyProjectFS) FailWrite(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeFails[path] = err
}

// FailRemove makes Remove of path return err.
func (f *FaultyProjectFS) FailRemove(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeFails[path] = err
}

func (f *FaultyProjectFS) WriteFile(path string, perm iofs.FileMode, write func(w io.Writer) error) error {
	f.mu.Lock()
	failErr := f.writeFails[path]
	f.mu.Unlock()
	if failErr == nil {
		return f.OSProjectFS.WriteFile(path, perm, write)
	}
	return f.OSProjectFS.WriteFile(path, perm, func(w io.Writer) error {
		if err := write(w); err != nil {
			return err
		}
		return failErr
	})
}

func (f *FaultyProjectFS) Remove(path string) error {
	f.mu.Lock()
	err := f.removeFails[path]
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.OSProjectFS.Remove(path)
}

var _ ckpt.ProjectFS = (*FaultyProjectFS)(nil)

// WriteFiles creates or replaces files under root.
func WriteFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
			t.Fatalf("creating directory for %s: %v", rel, err)
		}
		if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
			t.Fatalf("writing %s: %v", rel, err)
		}
	}
}

// RemoveFiles deletes files under root.
func RemoveFiles(t *testing.T, root string, paths ...string) {
	t.Helper()
	for _, rel := range paths {
		if err := os.Remove(filepath.Join(root, filepath.FromSlash(rel))); err != nil {
			t.Fatalf("removing %s: %v", rel, err)
		}
	}
}

// ReadTree returns the content of every regular file under root keyed by
// slash separated relative path. Directories named .git are skipped.
func ReadTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.WalkDir(root, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("reading tree: %v", err)
	}
	return out
}
