package app

import (
	"errors"
	"fmt"
	"testing"

	"ckpt-go/internal/ckpt"
)

func TestNewOperation(t *testing.T) {
	tests := []struct {
		name       string
		operation  string
		parameters string
	}{
		{
			name:       "with parameters",
			operation:  "RestoreCheckpoint",
			parameters: "0190a5b2-7c1e-7a44-9f00-1c2d3e4f5a6b",
		},
		{
			name:       "empty parameters",
			operation:  "GC",
			parameters: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := NewOperation(tt.operation, tt.parameters)

			if op.Operation != tt.operation {
				t.Errorf("Operation = %q, want %q", op.Operation, tt.operation)
			}
			if op.Parameters != tt.parameters {
				t.Errorf("Parameters = %q, want %q", op.Parameters, tt.parameters)
			}
			if op.Status != "success" {
				t.Errorf("Status = %q, want %q", op.Status, "success")
			}
			if op.ID != 0 {
				t.Errorf("ID = %d, want 0", op.ID)
			}
		})
	}
}

func TestOperation_Persisted(t *testing.T) {
	tests := []struct {
		name string
		id   int64
		want bool
	}{
		{name: "not persisted when ID is 0", id: 0, want: false},
		{name: "persisted when ID is positive", id: 1, want: true},
		{name: "persisted when ID is large", id: 99999, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := &Operation{ID: tt.id}
			if got := op.Persisted(); got != tt.want {
				t.Errorf("Persisted() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOperation_Record(t *testing.T) {
	t.Run("nil keeps success", func(t *testing.T) {
		op := NewOperation("CreateCheckpoint", "")
		op.Record(nil)
		if op.Status != "success" || op.Error != "" {
			t.Errorf("Record(nil) left Status = %q, Error = %q", op.Status, op.Error)
		}
	})

	t.Run("first error wins", func(t *testing.T) {
		op := NewOperation("Prune", "3")
		op.Record(errors.New("first"))
		op.Record(errors.New("second"))
		if op.Status != "error" || op.Error != "first" {
			t.Errorf("Status = %q, Error = %q, want error/first", op.Status, op.Error)
		}
	})

	t.Run("keeps the safety backup of a failed restore", func(t *testing.T) {
		op := NewOperation("RestoreCheckpoint", "cp-1")
		err := fmt.Errorf("restore: %w", &ckpt.RestoreError{
			State:          ckpt.StateReconcilingFiles,
			CheckpointID:   "cp-1",
			SafetyBackupID: "cp-2",
			Kind:           ckpt.ErrFileReconcileFailed,
		})
		op.Record(err)

		got := op.record()
		if got.SafetyBackupID != "cp-2" || got.Status != "error" {
			t.Errorf("record() = %+v", got)
		}
	})
}
