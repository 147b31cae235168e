package app

import (
	"ckpt-go/internal/ckpt"
	"ckpt-go/internal/model"
)

// Operation tracks the CLI operation being run.
// Operations are created in memory with ID=0. Only commands that change
// checkpoints or the live project persist them, giving them an
// auto-increment ID from the operation log.
type Operation struct {
	ID             int64
	Operation      string
	Parameters     string
	CheckpointID   string
	SafetyBackupID string
	Status         string // "success" or "error"
	Error          string
}

// NewOperation creates a new in-memory operation.
func NewOperation(operation, parameters string) *Operation {
	return &Operation{
		Operation:  operation,
		Parameters: parameters,
		Status:     "success",
	}
}

// Persisted returns true if this operation has been saved to the database.
func (op *Operation) Persisted() bool {
	return op.ID != 0
}

// Record notes the outcome of the operation. The first error wins; a safety
// backup named by a restore failure is kept so history can point at it.
func (op *Operation) Record(err error) {
	if err == nil {
		return
	}
	if id, ok := ckpt.SafetyBackupID(err); ok && op.SafetyBackupID == "" {
		op.SafetyBackupID = id
	}
	if op.Status == "error" {
		return
	}
	op.Status = "error"
	op.Error = err.Error()
}

// record converts op to the operation log form.
func (op *Operation) record() *model.Operation {
	return &model.Operation{
		ID:             op.ID,
		Operation:      op.Operation,
		Parameters:     op.Parameters,
		CheckpointID:   op.CheckpointID,
		SafetyBackupID: op.SafetyBackupID,
		Status:         op.Status,
		Error:          op.Error,
	}
}
