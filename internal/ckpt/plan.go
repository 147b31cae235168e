package ckpt

import (
	"context"
	"sort"

	"ckpt-go/internal/model"
)

// Plan is the set of file actions that converge the live tree to a manifest.
// Create, Overwrite and Delete are disjoint and each sorted by path.
type Plan struct {
	Create    []model.ManifestEntry // Only in the target
	Overwrite []model.ManifestEntry // In both, content differs
	Delete    []model.ManifestEntry // Only in the live tree; entry is the live one

	// Conflicts lists target paths the restore could not write. Only
	// PlanRestore fills it.
	Conflicts []FileConflict
}

// FileConflict is a target path blocked by entries the tracker does not own,
// such as a directory holding ignored files where the checkpoint has a file.
type FileConflict struct {
	Path string
	Err  error
}

// Empty reports whether the plan changes nothing.
func (p *Plan) Empty() bool {
	return len(p.Create) == 0 && len(p.Overwrite) == 0 && len(p.Delete) == 0
}

// Writes returns the entries whose content must be written, Create first.
func (p *Plan) Writes() []model.ManifestEntry {
	out := make([]model.ManifestEntry, 0, len(p.Create)+len(p.Overwrite))
	out = append(out, p.Create...)
	return append(out, p.Overwrite...)
}

// Diff computes the plan that turns the current tree into target.
// Files present live but absent from target are deleted: a restore converges
// to exactly the target's file set.
func Diff(current, target model.Manifest) *Plan {
	live := current.Index()
	want := target.Index()
	plan := &Plan{}

	for path, t := range want {
		c, ok := live[path]
		switch {
		case !ok:
			plan.Create = append(plan.Create, t)
		case c.Digest != t.Digest || c.Size != t.Size:
			plan.Overwrite = append(plan.Overwrite, t)
		}
	}
	for path, c := range live {
		if _, ok := want[path]; !ok {
			plan.Delete = append(plan.Delete, c)
		}
	}

	sortEntries(plan.Create)
	sortEntries(plan.Overwrite)
	sortEntries(plan.Delete)
	return plan
}

func sortEntries(entries []model.ManifestEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
}

// ApplyStats counts the file operations a plan performed.
type ApplyStats struct {
	Written int
	Deleted int
	Bytes   int64
}

// Tracker captures and reconciles the generated-file tree.
type Tracker interface {
	// Capture walks the project tree, stores every body in the vault and
	// returns the manifest sorted by path.
	Capture(ctx context.Context) (model.Manifest, error)

	// Scan hashes the project tree without touching the vault.
	Scan(ctx context.Context) (model.Manifest, error)

	// Missing returns the digests of m that the vault does not hold.
	Missing(ctx context.Context, m model.Manifest) ([]string, error)

	// Conflicts returns the paths of m that cannot be written over the live
	// tree, sorted by path.
	Conflicts(ctx context.Context, m model.Manifest) ([]FileConflict, error)

	// Apply executes a plan against the project tree. It stops at the first
	// failure and makes no attempt to undo completed actions.
	Apply(ctx context.Context, plan *Plan) (ApplyStats, error)
}
