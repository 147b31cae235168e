// Package manifest captures the generated-file tree of a project into
// content-addressed manifests and reconciles the tree back to a manifest.
package manifest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"ckpt-go/internal/ckpt"
	"ckpt-go/internal/model"
)

// DefaultWorkers bounds parallel hashing and file I/O when none is configured.
const DefaultWorkers = 8

// Tracker implements ckpt.Tracker over a project filesystem and a vault.
type Tracker struct {
	fs      ckpt.ProjectFS
	vault   ckpt.Vault
	workers int
	logger  ckpt.Logger
}

// NewTracker creates a tracker. workers <= 0 uses DefaultWorkers.
func NewTracker(pfs ckpt.ProjectFS, vault ckpt.Vault, workers int, logger ckpt.Logger) *Tracker {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = ckpt.NewNopLogger()
	}
	return &Tracker{fs: pfs, vault: vault, workers: workers, logger: logger}
}

// Capture hashes every tracked file and stores bodies the vault lacks.
func (t *Tracker) Capture(ctx context.Context) (model.Manifest, error) {
	return t.hashTree(ctx, true)
}

// Scan hashes every tracked file without touching the vault.
func (t *Tracker) Scan(ctx context.Context) (model.Manifest, error) {
	return t.hashTree(ctx, false)
}

func (t *Tracker) hashTree(ctx context.Context, store bool) (model.Manifest, error) {
	entries, err := t.fs.Walk(ctx)
	if err != nil {
		return nil, err
	}

	// Walk returns entries sorted by path; each worker fills its own slot.
	manifest := make(model.Manifest, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.workers)
	for i, e := range entries {
		g.Go(func() error {
			entry, err := t.hashFile(gctx, e.Path, store)
			if err != nil {
				return fmt.Errorf("capturing %s: %w", e.Path, err)
			}
			manifest[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	t.logger.Debug("tree hashed", "files", len(manifest), "bytes", manifest.TotalSize(), "stored", store)
	return manifest, nil
}

// hashFile hashes one file and, when store is set, uploads the body unless
// the vault already holds it. The file must not change while it is read.
func (t *Tracker) hashFile(ctx context.Context, path string, store bool) (model.ManifestEntry, error) {
	info1, err := t.fs.Stat(path)
	if err != nil {
		return model.ManifestEntry{}, err
	}

	digest, size, err := t.digest(path)
	if err != nil {
		return model.ManifestEntry{}, err
	}

	if store {
		if err := t.store(ctx, path, digest, size); err != nil {
			return model.ManifestEntry{}, err
		}
	}

	info2, err := t.fs.Stat(path)
	if err != nil {
		return model.ManifestEntry{}, fmt.Errorf("re-stat file: %w", err)
	}
	if err := statUnchanged(info1, info2); err != nil {
		return model.ManifestEntry{}, fmt.Errorf("file changed during capture: %w", err)
	}

	return model.ManifestEntry{Path: path, Digest: digest, Size: size}, nil
}

func (t *Tracker) digest(path string) (string, int64, error) {
	f, err := t.fs.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("reading file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// store uploads the body if missing. The second read is hashed again; a
// body that no longer matches its digest is removed from the vault.
func (t *Tracker) store(ctx context.Context, path, digest string, size int64) error {
	has, err := t.vault.HasContent(ctx, digest)
	if err != nil {
		return fmt.Errorf("checking vault: %w", err)
	}
	if has {
		t.logger.Debug("content deduplicated", "path", path, "digest", digest)
		return nil
	}

	f, err := t.fs.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	h := sha256.New()
	if err := t.vault.PutContent(ctx, digest, io.TeeReader(f, h), size); err != nil {
		return fmt.Errorf("uploading to vault: %w", err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != digest {
		if err := t.vault.DeleteContent(ctx, digest); err != nil {
			t.logger.Warn("removing mismatched content", "digest", digest, "error", err)
		}
		return fmt.Errorf("file changed during capture: digest %s, want %s", got, digest)
	}
	return nil
}

// statUnchanged checks that file metadata hasn't changed between reads.
func statUnchanged(info1, info2 fs.FileInfo) error {
	if info1.Size() != info2.Size() {
		return fmt.Errorf("size changed: %d -> %d", info1.Size(), info2.Size())
	}
	if info1.Mode() != info2.Mode() {
		return fmt.Errorf("mode changed: %v -> %v", info1.Mode(), info2.Mode())
	}
	if !info1.ModTime().Equal(info2.ModTime()) {
		return fmt.Errorf("mtime changed: %v -> %v", info1.ModTime(), info2.ModTime())
	}
	return nil
}

// Conflicts checks every path of m against the live tree and returns the
// ones a restore could not write, sorted by path.
func (t *Tracker) Conflicts(ctx context.Context, m model.Manifest) ([]ckpt.FileConflict, error) {
	var conflicts []ckpt.FileConflict
	for _, e := range m {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := t.fs.CheckWrite(e.Path); err != nil {
			conflicts = append(conflicts, ckpt.FileConflict{Path: e.Path, Err: err})
		}
	}
	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].Path < conflicts[j].Path })
	return conflicts, nil
}

// Missing returns the sorted, de-duplicated digests of m the vault lacks.
func (t *Tracker) Missing(ctx context.Context, m model.Manifest) ([]string, error) {
	digests := make(map[string]struct{}, len(m))
	for _, e := range m {
		digests[e.Digest] = struct{}{}
	}

	var (
		mu      sync.Mutex
		missing []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.workers)
	for d := range digests {
		g.Go(func() error {
			ok, err := t.vault.HasContent(gctx, d)
			if err != nil {
				return fmt.Errorf("checking vault for %s: %w", d, err)
			}
			if !ok {
				mu.Lock()
				missing = append(missing, d)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Strings(missing)
	return missing, nil
}

// ErrDigestMismatch is returned when a vault body does not hash to the
// digest it is stored under.
var ErrDigestMismatch = errors.New("content digest mismatch")

// Apply executes the plan. Deletes run first, in path order, so a path can
// change between file and directory; writes then run in parallel. Apply
// stops at the first failure.
func (t *Tracker) Apply(ctx context.Context, plan *ckpt.Plan) (ckpt.ApplyStats, error) {
	var stats ckpt.ApplyStats

	for _, e := range plan.Delete {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := t.fs.Remove(e.Path); err != nil {
			return stats, fmt.Errorf("deleting %s: %w", e.Path, err)
		}
		stats.Deleted++
	}

	var (
		written atomic.Int64
		bytes   atomic.Int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.workers)
	for _, e := range plan.Writes() {
		g.Go(func() error {
			if err := t.writeEntry(gctx, e); err != nil {
				return fmt.Errorf("writing %s: %w", e.Path, err)
			}
			written.Add(1)
			bytes.Add(e.Size)
			return nil
		})
	}
	err := g.Wait()

	stats.Written = int(written.Load())
	stats.Bytes = bytes.Load()
	if err != nil {
		return stats, err
	}

	t.logger.Debug("plan applied", "written", stats.Written, "deleted", stats.Deleted, "bytes", stats.Bytes)
	return stats, nil
}

// writeEntry streams the vault body into the file, verifying digest and
// size before the file is renamed into place. Existing permissions are kept.
func (t *Tracker) writeEntry(ctx context.Context, e model.ManifestEntry) error {
	perm := fs.FileMode(0644)
	if info, err := t.fs.Stat(e.Path); err == nil && info.Mode().IsRegular() {
		perm = info.Mode().Perm()
	}

	return t.fs.WriteFile(e.Path, perm, func(w io.Writer) error {
		h := sha256.New()
		cw := &countingWriter{}
		if err := t.vault.GetContent(ctx, e.Digest, io.MultiWriter(w, h, cw)); err != nil {
			return err
		}
		return verify(h, cw.n, e)
	})
}

func verify(h hash.Hash, n int64, e model.ManifestEntry) error {
	if n != e.Size {
		return fmt.Errorf("%w: size %d, want %d", ErrDigestMismatch, n, e.Size)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != e.Digest {
		return fmt.Errorf("%w: digest %s, want %s", ErrDigestMismatch, got, e.Digest)
	}
	return nil
}

type countingWriter struct {
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}

// Compile-time check that Tracker implements ckpt.Tracker interface
var _ ckpt.Tracker = (*Tracker)(nil)
