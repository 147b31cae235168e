package ckpt

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"ckpt-go/internal/model"
)

// SafetyBackupDescription labels the checkpoint taken before every restore.
const SafetyBackupDescription = "Auto-backup before restore"

// DefaultTimeBudget is the end-to-end restore target.
const DefaultTimeBudget = 5 * time.Second

// CheckpointService is the orchestration layer that coordinates the store,
// codec, signer and file tracker for one project.
type CheckpointService struct {
	projectID string
	database  Database
	codec     Codec
	tracker   Tracker
	vault     Vault
	verifier  Verifier
	logger    Logger
	clock     Clock
	idgen     IDGenerator
	guard     Guard

	mu         sync.RWMutex
	signer     Signer
	observer   Observer
	timeBudget time.Duration
}

// NewCheckpointService creates a CheckpointService with the provided dependencies.
// signer may be nil; checkpoint creation and restore then fail with
// ErrSigningUnavailable until SetSigner is called.
func NewCheckpointService(projectID string, database Database, codec Codec, tracker Tracker, vault Vault, signer Signer, verifier Verifier, logger Logger, clock Clock, idgen IDGenerator) *CheckpointService {
	return &CheckpointService{
		projectID:  projectID,
		database:   database,
		codec:      codec,
		tracker:    tracker,
		vault:      vault,
		signer:     signer,
		verifier:   verifier,
		logger:     logger,
		clock:      clock,
		idgen:      idgen,
		observer:   nopObserver{},
		timeBudget: DefaultTimeBudget,
	}
}

// SetSigner installs the unlocked signing capability.
func (s *CheckpointService) SetSigner(signer Signer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signer = signer
}

// SetObserver installs the receiver for restore events.
func (s *CheckpointService) SetObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o == nil {
		o = nopObserver{}
	}
	s.observer = o
}

// SetTimeBudget overrides the restore time budget. Non-positive values reset it.
func (s *CheckpointService) SetTimeBudget(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d <= 0 {
		d = DefaultTimeBudget
	}
	s.timeBudget = d
}

func (s *CheckpointService) currentSigner() Signer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.signer
}

func (s *CheckpointService) currentObserver() Observer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.observer
}

func (s *CheckpointService) currentBudget() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timeBudget
}

// ProjectID returns the project this service operates on.
func (s *CheckpointService) ProjectID() string {
	return s.projectID
}

// CreateCheckpoint captures the live project state into a new signed checkpoint.
func (s *CheckpointService) CreateCheckpoint(ctx context.Context, description string, kind model.Kind) (*model.Summary, error) {
	if !kind.Valid() || kind == model.KindSafetyBackup {
		return nil, fmt.Errorf("invalid checkpoint kind: %q", kind)
	}

	release, err := s.guard.TryAcquire("CreateCheckpoint")
	if err != nil {
		return nil, err
	}
	defer release()

	cp, err := s.createLocked(ctx, description, kind)
	if err != nil {
		return nil, err
	}
	return summarize(cp), nil
}

// createLocked builds, signs and saves a checkpoint. The caller holds the guard.
func (s *CheckpointService) createLocked(ctx context.Context, description string, kind model.Kind) (*model.Checkpoint, error) {
	signer := s.currentSigner()
	if signer == nil {
		return nil, ErrSigningUnavailable
	}

	tables, err := s.database.ReadTables(ctx, s.projectID)
	if err != nil {
		return nil, fmt.Errorf("reading project tables: %w", err)
	}

	data, err := s.codec.Encode(tables)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}

	manifest, err := s.tracker.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("capturing file manifest: %w", err)
	}

	cp := &model.Checkpoint{
		ID:           s.idgen.New(),
		ProjectID:    s.projectID,
		CreatedAt:    s.clock.Now().UTC(),
		Description:  description,
		Kind:         kind,
		SnapshotData: data,
		Manifest:     manifest,
	}

	sig, err := signer.Sign(SigningMessage(cp))
	if err != nil {
		return nil, fmt.Errorf("signing checkpoint: %w", err)
	}
	cp.Signature = sig

	if _, err := s.database.SaveCheckpoint(ctx, cp); err != nil {
		return nil, fmt.Errorf("saving checkpoint: %w", err)
	}

	s.logger.Info("checkpoint created",
		"id", cp.ID,
		"kind", string(kind),
		"rows", tables.RowCount(),
		"files", len(manifest),
		"bytes", len(data),
	)
	return cp, nil
}

// ListCheckpoints returns checkpoint summaries for the project, newest first.
func (s *CheckpointService) ListCheckpoints(ctx context.Context) ([]*model.Summary, error) {
	summaries, err := s.database.ListCheckpoints(ctx, s.projectID)
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	return summaries, nil
}

// GetCheckpoint returns a checkpoint of this project, or ErrNotFound.
func (s *CheckpointService) GetCheckpoint(ctx context.Context, id string) (*model.Checkpoint, error) {
	cp, err := s.database.GetCheckpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	if cp.ProjectID != s.projectID {
		return nil, ErrNotFound
	}
	return cp, nil
}

// VerifyCheckpoint checks a checkpoint's signature and payload without
// changing anything.
func (s *CheckpointService) VerifyCheckpoint(ctx context.Context, id string) (*model.Tables, error) {
	cp, err := s.GetCheckpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.verifier.Verify(SigningMessage(cp), cp.Signature) {
		return nil, ErrSignatureInvalid
	}
	tables, err := s.codec.Decode(cp.SnapshotData)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSnapshotInvalid, err)
	}
	if tables.ProjectID != s.projectID {
		return nil, fmt.Errorf("%w: snapshot belongs to project %s", ErrSnapshotInvalid, tables.ProjectID)
	}
	return tables, nil
}

// DeleteCheckpoint removes a checkpoint. Vault bodies are left for GC.
func (s *CheckpointService) DeleteCheckpoint(ctx context.Context, id string) error {
	release, err := s.guard.TryAcquire("DeleteCheckpoint")
	if err != nil {
		return err
	}
	defer release()

	if _, err := s.GetCheckpoint(ctx, id); err != nil {
		return err
	}
	if err := s.database.DeleteCheckpoint(ctx, id); err != nil {
		return fmt.Errorf("deleting checkpoint: %w", err)
	}
	s.logger.Info("checkpoint deleted", "id", id)
	return nil
}

// Prune deletes all but the newest keep checkpoints. The newest safety backup
// is always retained so a failed restore stays recoverable.
// Returns the ids of deleted checkpoints.
func (s *CheckpointService) Prune(ctx context.Context, keep int) ([]string, error) {
	if keep < 1 {
		return nil, fmt.Errorf("keep must be at least 1, got %d", keep)
	}

	release, err := s.guard.TryAcquire("Prune")
	if err != nil {
		return nil, err
	}
	defer release()

	summaries, err := s.database.ListCheckpoints(ctx, s.projectID)
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}

	var deleted []string
	seenSafety := false
	for i, sum := range summaries {
		isSafety := sum.Kind == model.KindSafetyBackup
		if i < keep || (isSafety && !seenSafety) {
			if isSafety {
				seenSafety = true
			}
			continue
		}
		if err := s.database.DeleteCheckpoint(ctx, sum.ID); err != nil {
			return deleted, fmt.Errorf("deleting checkpoint %s: %w", sum.ID, err)
		}
		deleted = append(deleted, sum.ID)
	}

	s.logger.Info("checkpoints pruned", "deleted", len(deleted), "kept", len(summaries)-len(deleted))
	return deleted, nil
}

// GC removes vault bodies that no checkpoint references.
// Returns the number of bodies removed.
func (s *CheckpointService) GC(ctx context.Context) (int, error) {
	release, err := s.guard.TryAcquire("GC")
	if err != nil {
		return 0, err
	}
	defer release()

	referenced, err := s.database.ReferencedDigests(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading referenced digests: %w", err)
	}
	stored, err := s.vault.ListContent(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing vault content: %w", err)
	}

	removed := 0
	for _, digest := range stored {
		if _, ok := referenced[digest]; ok {
			continue
		}
		if err := s.vault.DeleteContent(ctx, digest); err != nil {
			return removed, fmt.Errorf("deleting content %s: %w", digest, err)
		}
		removed++
	}

	s.logger.Info("vault garbage collected", "removed", removed, "kept", len(stored)-removed)
	return removed, nil
}

// ProjectStatus describes how the live tree differs from a checkpoint.
type ProjectStatus struct {
	Checkpoint *model.Summary // nil when the project has no checkpoints
	Plan       *Plan          // Actions a restore to Checkpoint would take
}

// Status compares the live file tree against the newest checkpoint.
func (s *CheckpointService) Status(ctx context.Context) (*ProjectStatus, error) {
	summaries, err := s.database.ListCheckpoints(ctx, s.projectID)
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	if len(summaries) == 0 {
		return &ProjectStatus{Plan: &Plan{}}, nil
	}

	latest, err := s.database.GetCheckpoint(ctx, summaries[0].ID)
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint %s: %w", summaries[0].ID, err)
	}

	live, err := s.tracker.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanning project tree: %w", err)
	}

	return &ProjectStatus{
		Checkpoint: summaries[0],
		Plan:       Diff(live, latest.Manifest),
	}, nil
}

// PlanRestore verifies a checkpoint and returns the file actions a restore
// to it would take. Nothing is modified.
func (s *CheckpointService) PlanRestore(ctx context.Context, id string) (*Plan, error) {
	if _, err := s.VerifyCheckpoint(ctx, id); err != nil {
		return nil, err
	}
	cp, err := s.GetCheckpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	live, err := s.tracker.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanning project tree: %w", err)
	}
	plan := Diff(live, cp.Manifest)
	plan.Conflicts, err = s.tracker.Conflicts(ctx, cp.Manifest)
	if err != nil {
		return nil, fmt.Errorf("checking file conflicts: %w", err)
	}
	return plan, nil
}

// GetHistory returns the most recent operations, ordered newest first.
func (s *CheckpointService) GetHistory(ctx context.Context, limit int) ([]*model.Operation, error) {
	ops, err := s.database.ListOperations(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}

// GetFileHistory returns the captured versions of a project file, newest first.
func (s *CheckpointService) GetFileHistory(ctx context.Context, path string) ([]*model.FileVersion, error) {
	versions, err := s.database.FindFileVersions(ctx, s.projectID, path)
	if err != nil {
		return nil, fmt.Errorf("finding file versions: %w", err)
	}
	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].CreatedAt.After(versions[j].CreatedAt)
	})
	return versions, nil
}

func summarize(cp *model.Checkpoint) *model.Summary {
	return &model.Summary{
		ID:           cp.ID,
		ProjectID:    cp.ProjectID,
		CreatedAt:    cp.CreatedAt,
		Description:  cp.Description,
		Kind:         cp.Kind,
		SnapshotSize: int64(len(cp.SnapshotData)),
		FileCount:    len(cp.Manifest),
		FileBytes:    cp.Manifest.TotalSize(),
	}
}

// IsNotFound reports whether err means an unknown checkpoint.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
