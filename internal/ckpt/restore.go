package ckpt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ckpt-go/internal/model"
)

// RestoreResult reports a committed restore.
type RestoreResult struct {
	CheckpointID   string
	Timestamp      time.Time // created_at of the restored checkpoint
	SafetyBackupID string
	Rows           int
	Files          ApplyStats
	Elapsed        time.Duration
	OverBudget     bool // Elapsed exceeded the configured time budget
}

// RestoreOutcome is delivered once by RestoreAsync.
type RestoreOutcome struct {
	Result *RestoreResult
	Err    error
}

// RestoreCheckpoint rolls the project tables and file tree back to the
// checkpoint with the given id.
//
// Nothing is modified until the signature has been verified and a safety
// backup of the live state has been saved. Cancelling ctx has no effect once
// the backup has started; the restore then runs to Committed or Failed.
// Failures are returned as *RestoreError.
func (s *CheckpointService) RestoreCheckpoint(ctx context.Context, id string) (*RestoreResult, error) {
	release, err := s.guard.TryAcquire("RestoreCheckpoint")
	if err != nil {
		return nil, err
	}
	defer release()

	return s.restoreLocked(ctx, id)
}

// RestoreAsync starts a restore on its own goroutine. The guard is acquired
// before returning, so a concurrent request fails immediately with
// ErrRestoreInProgress. The returned channel receives exactly one outcome
// and is then closed.
func (s *CheckpointService) RestoreAsync(ctx context.Context, id string) (<-chan RestoreOutcome, error) {
	release, err := s.guard.TryAcquire("RestoreCheckpoint")
	if err != nil {
		return nil, err
	}

	out := make(chan RestoreOutcome, 1)
	go func() {
		defer close(out)
		defer release()
		res, err := s.restoreLocked(ctx, id)
		out <- RestoreOutcome{Result: res, Err: err}
	}()
	return out, nil
}

// restoreRun tracks one pass through the state machine.
type restoreRun struct {
	s              *CheckpointService
	observer       Observer
	checkpointID   string
	safetyBackupID string
	state          State
}

func (r *restoreRun) enter(state State) {
	r.state = state
	r.s.logger.Debug("restore state", "id", r.checkpointID, "state", state.String())
	r.emit(state, nil)
}

func (r *restoreRun) emit(state State, err error) {
	r.observer.OnEvent(Event{
		State:          state,
		CheckpointID:   r.checkpointID,
		SafetyBackupID: r.safetyBackupID,
		Err:            err,
		At:             r.s.clock.Now(),
	})
}

// fail ends the run in Failed. kind may be nil for unclassified errors.
func (r *restoreRun) fail(kind, cause error) error {
	err := &RestoreError{
		State:          r.state,
		CheckpointID:   r.checkpointID,
		SafetyBackupID: r.safetyBackupID,
		Kind:           kind,
		Err:            cause,
	}
	r.s.logger.Error("restore failed", "id", r.checkpointID, "state", r.state.String(), "error", err)
	r.emit(StateFailed, err)
	return err
}

// rollback ends the run in RolledBack after the table transaction was undone.
func (r *restoreRun) rollback(kind, cause error) error {
	err := r.fail(kind, cause)
	r.s.logger.Info("restore rolled back", "id", r.checkpointID, "safety_backup", r.safetyBackupID)
	r.emit(StateRolledBack, err)
	return err
}

func (s *CheckpointService) restoreLocked(ctx context.Context, id string) (*RestoreResult, error) {
	start := time.Now()
	run := &restoreRun{s: s, observer: s.currentObserver(), checkpointID: id, state: StateIdle}
	s.logger.Info("restore started", "id", id)

	// Verify. Every failure here leaves the project untouched.
	run.enter(StateVerifyingSignature)
	cp, err := s.database.GetCheckpoint(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, run.fail(ErrNotFound, nil)
		}
		return nil, run.fail(nil, fmt.Errorf("loading checkpoint: %w", err))
	}
	if cp.ProjectID != s.projectID {
		return nil, run.fail(ErrNotFound, nil)
	}
	if !s.verifier.Verify(SigningMessage(cp), cp.Signature) {
		return nil, run.fail(ErrSignatureInvalid, nil)
	}
	tables, err := s.codec.Decode(cp.SnapshotData)
	if err != nil {
		return nil, run.fail(ErrSnapshotInvalid, err)
	}
	if tables.ProjectID != s.projectID {
		return nil, run.fail(ErrSnapshotInvalid, fmt.Errorf("snapshot belongs to project %s", tables.ProjectID))
	}
	if err := ctx.Err(); err != nil {
		return nil, run.fail(nil, err)
	}
	ctx = context.WithoutCancel(ctx)

	// Back up. Still nothing modified on failure.
	run.enter(StateBackingUp)
	missing, err := s.tracker.Missing(ctx, cp.Manifest)
	if err != nil {
		return nil, run.fail(ErrContentUnavailable, err)
	}
	if len(missing) > 0 {
		return nil, run.fail(ErrContentUnavailable, fmt.Errorf("%d file bodies missing from vault (first %s)", len(missing), missing[0]))
	}
	conflicts, err := s.tracker.Conflicts(ctx, cp.Manifest)
	if err != nil {
		return nil, run.fail(ErrFileConflict, err)
	}
	if len(conflicts) > 0 {
		return nil, run.fail(ErrFileConflict, fmt.Errorf("%d paths blocked (first %s: %v)", len(conflicts), conflicts[0].Path, conflicts[0].Err))
	}
	backup, err := s.createLocked(ctx, SafetyBackupDescription, model.KindSafetyBackup)
	if err != nil {
		return nil, run.fail(ErrSafetyBackupFailed, err)
	}
	run.safetyBackupID = backup.ID
	plan := Diff(backup.Manifest, cp.Manifest)

	run.enter(StateReplacingTables)
	if err := s.database.ReplaceTables(ctx, s.projectID, tables); err != nil {
		return nil, run.rollback(ErrTableReplaceFailed, err)
	}

	run.enter(StateReconcilingFiles)
	stats, err := s.tracker.Apply(ctx, plan)
	if err != nil {
		return nil, run.fail(ErrFileReconcileFailed, err)
	}

	result := &RestoreResult{
		CheckpointID:   cp.ID,
		Timestamp:      cp.CreatedAt,
		SafetyBackupID: backup.ID,
		Rows:           tables.RowCount(),
		Files:          stats,
		Elapsed:        time.Since(start),
	}
	budget := s.currentBudget()
	if result.Elapsed > budget {
		result.OverBudget = true
		s.logger.Warn("restore exceeded time budget", "id", id, "elapsed", result.Elapsed, "budget", budget)
	}

	run.enter(StateCommitted)
	s.logger.Info("restore committed",
		"id", id,
		"safety_backup", backup.ID,
		"rows", result.Rows,
		"written", stats.Written,
		"deleted", stats.Deleted,
		"elapsed", result.Elapsed,
	)
	return result, nil
}
