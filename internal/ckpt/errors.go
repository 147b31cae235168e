package ckpt

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a checkpoint id is unknown to the store.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrSignatureInvalid means the checkpoint failed authenticity checks.
	// It is never retried automatically.
	ErrSignatureInvalid = errors.New("checkpoint signature invalid")

	// ErrSnapshotInvalid means an authentic payload could not be decoded or
	// belongs to another project.
	ErrSnapshotInvalid = errors.New("checkpoint snapshot invalid")

	// ErrSafetyBackupFailed means the pre-restore backup could not be created.
	// Nothing was modified.
	ErrSafetyBackupFailed = errors.New("safety backup failed")

	// ErrContentUnavailable means file bodies referenced by the target
	// manifest are missing from the vault. Nothing was modified.
	ErrContentUnavailable = errors.New("checkpoint file content unavailable")

	// ErrFileConflict means untracked entries under the project root stand
	// where the checkpoint needs a file or directory. Nothing was modified.
	ErrFileConflict = errors.New("restore blocked by untracked files")

	// ErrTableReplaceFailed means the table transaction was rolled back.
	// Live tables are unchanged and the restore may be retried.
	ErrTableReplaceFailed = errors.New("table replace failed")

	// ErrFileReconcileFailed means tables were replaced but the file tree was
	// only partially reconciled. Recover by restoring the safety backup.
	ErrFileReconcileFailed = errors.New("file reconcile failed")

	// ErrRestoreInProgress is returned when another restore, checkpoint
	// creation or deletion holds the project guard.
	ErrRestoreInProgress = errors.New("restore in progress")

	// ErrSigningUnavailable means no private key has been unlocked, so new
	// checkpoints (including safety backups) cannot be created.
	ErrSigningUnavailable = errors.New("signing key unavailable")
)

// RestoreError describes a failed restore attempt.
// It unwraps to one of the sentinel errors above, and to the underlying cause.
type RestoreError struct {
	State          State
	CheckpointID   string
	SafetyBackupID string // Set once the safety backup exists
	Kind           error  // One of the sentinel errors, nil for unclassified store failures
	Err            error  // Underlying cause, may be nil
}

func (e *RestoreError) Error() string {
	msg := fmt.Sprintf("restoring checkpoint %s", e.CheckpointID)
	if e.Kind != nil {
		msg += ": " + e.Kind.Error()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.SafetyBackupID != "" && errors.Is(e.Kind, ErrFileReconcileFailed) {
		msg += fmt.Sprintf(" (safety backup %s)", e.SafetyBackupID)
	}
	return msg
}

func (e *RestoreError) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Retryable reports whether err can be retried without side effects.
// Only a rolled-back table transaction qualifies.
func Retryable(err error) bool {
	return errors.Is(err, ErrTableReplaceFailed)
}

// SafetyBackupID extracts the safety backup id carried by a restore failure.
func SafetyBackupID(err error) (string, bool) {
	var re *RestoreError
	if errors.As(err, &re) && re.SafetyBackupID != "" {
		return re.SafetyBackupID, true
	}
	return "", false
}
