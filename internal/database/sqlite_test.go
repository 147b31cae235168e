package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"ckpt-go/internal/ckpt"
	"ckpt-go/internal/model"
)

// newTestDB creates a new in-memory database with schema applied.
func newTestDB(t *testing.T) *SQLiteDatabase {
	t.Helper()

	db, err := NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	if err := db.MigrateUp(); err != nil {
		db.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

var baseTime = time.Date(2024, 3, 1, 9, 0, 0, 123456789, time.UTC)

func sampleTables(projectID string) *model.Tables {
	tables := model.NewTables(projectID)
	tables.Phases = []model.Phase{
		{ID: projectID + "-ph-1", ProjectID: projectID, Name: "Design", Position: 1, Status: "done", CreatedAt: baseTime},
		{ID: projectID + "-ph-2", ProjectID: projectID, Name: "Build", Position: 2, Status: "active", CreatedAt: baseTime},
	}
	tables.Features = []model.Feature{
		{ID: projectID + "-ft-1", ProjectID: projectID, PhaseID: projectID + "-ph-2", Title: "Login", Status: "todo", CreatedAt: baseTime, UpdatedAt: baseTime.Add(time.Minute)},
	}
	tables.ChatMessages = []model.ChatMessage{
		{ID: projectID + "-msg-1", ProjectID: projectID, Role: "user", Content: "hello", CreatedAt: baseTime},
		{ID: projectID + "-msg-2", ProjectID: projectID, FeatureID: projectID + "-ft-1", Role: "assistant", Content: "hi", CreatedAt: baseTime},
	}
	tables.GeneratedFiles = []model.GeneratedFile{
		{ID: projectID + "-gf-1", ProjectID: projectID, FeatureID: projectID + "-ft-1", Path: "src/login.go", Digest: "ab", Size: 2, Language: "go", GeneratedAt: baseTime},
	}
	return tables
}

func sampleCheckpoint(projectID string, at time.Time, manifest model.Manifest) *model.Checkpoint {
	return &model.Checkpoint{
		ID:           uuid.Must(uuid.NewV7()).String(),
		ProjectID:    projectID,
		CreatedAt:    at,
		Description:  "test checkpoint",
		Kind:         model.KindManual,
		SnapshotData: []byte("payload"),
		Signature:    []byte("signature"),
		Manifest:     manifest,
	}
}

func TestSQLiteDatabase_ReadReplaceTables(t *testing.T) {
	ctx := context.Background()

	t.Run("empty project reads empty tables", func(t *testing.T) {
		db := newTestDB(t)

		got, err := db.ReadTables(ctx, "p1")
		if err != nil {
			t.Fatalf("ReadTables() error = %v", err)
		}
		if diff := cmp.Diff(model.NewTables("p1"), got); diff != "" {
			t.Errorf("ReadTables() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("replace then read round trips", func(t *testing.T) {
		db := newTestDB(t)
		want := sampleTables("p1")

		if err := db.ReplaceTables(ctx, "p1", want); err != nil {
			t.Fatalf("ReplaceTables() error = %v", err)
		}
		got, err := db.ReadTables(ctx, "p1")
		if err != nil {
			t.Fatalf("ReadTables() error = %v", err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("ReadTables() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("replace removes rows absent from the new set", func(t *testing.T) {
		db := newTestDB(t)

		if err := db.ReplaceTables(ctx, "p1", sampleTables("p1")); err != nil {
			t.Fatalf("ReplaceTables() error = %v", err)
		}
		if err := db.ReplaceTables(ctx, "p1", model.NewTables("p1")); err != nil {
			t.Fatalf("ReplaceTables(empty) error = %v", err)
		}
		got, err := db.ReadTables(ctx, "p1")
		if err != nil {
			t.Fatalf("ReadTables() error = %v", err)
		}
		if got.RowCount() != 0 {
			t.Errorf("RowCount() = %d after replacing with empty set, want 0", got.RowCount())
		}
	})

	t.Run("other projects are untouched", func(t *testing.T) {
		db := newTestDB(t)

		if err := db.ReplaceTables(ctx, "p1", sampleTables("p1")); err != nil {
			t.Fatalf("ReplaceTables(p1) error = %v", err)
		}
		if err := db.ReplaceTables(ctx, "p2", sampleTables("p2")); err != nil {
			t.Fatalf("ReplaceTables(p2) error = %v", err)
		}
		if err := db.ReplaceTables(ctx, "p2", model.NewTables("p2")); err != nil {
			t.Fatalf("ReplaceTables(p2, empty) error = %v", err)
		}

		got, err := db.ReadTables(ctx, "p1")
		if err != nil {
			t.Fatalf("ReadTables() error = %v", err)
		}
		if diff := cmp.Diff(sampleTables("p1"), got); diff != "" {
			t.Errorf("p1 tables changed (-want +got):\n%s", diff)
		}
	})

	t.Run("failed replace rolls back completely", func(t *testing.T) {
		db := newTestDB(t)
		before := sampleTables("p1")
		if err := db.ReplaceTables(ctx, "p1", before); err != nil {
			t.Fatalf("ReplaceTables() error = %v", err)
		}

		// Phases insert fine; the feature references a phase that does not
		// exist, so the transaction fails after partial inserts.
		broken := model.NewTables("p1")
		broken.Phases = []model.Phase{
			{ID: "new-ph", ProjectID: "p1", Name: "New", CreatedAt: baseTime},
		}
		broken.Features = []model.Feature{
			{ID: "new-ft", ProjectID: "p1", PhaseID: "missing", Title: "Orphan", CreatedAt: baseTime, UpdatedAt: baseTime},
		}

		if err := db.ReplaceTables(ctx, "p1", broken); err == nil {
			t.Fatal("ReplaceTables() expected foreign key error")
		}

		got, err := db.ReadTables(ctx, "p1")
		if err != nil {
			t.Fatalf("ReadTables() error = %v", err)
		}
		if diff := cmp.Diff(before, got); diff != "" {
			t.Errorf("tables changed after failed replace (-want +got):\n%s", diff)
		}
	})

	t.Run("rejects rows for another project", func(t *testing.T) {
		db := newTestDB(t)
		if err := db.ReplaceTables(ctx, "p1", sampleTables("p2")); err == nil {
			t.Error("ReplaceTables() expected error for mismatched project")
		}
	})
}

func TestSQLiteDatabase_Checkpoints(t *testing.T) {
	ctx := context.Background()

	t.Run("save and get", func(t *testing.T) {
		db := newTestDB(t)
		cp := sampleCheckpoint("p1", baseTime, model.Manifest{
			{Path: "a.go", Digest: "d1", Size: 10},
			{Path: "src/b.go", Digest: "d2", Size: 20},
		})

		id, err := db.SaveCheckpoint(ctx, cp)
		if err != nil {
			t.Fatalf("SaveCheckpoint() error = %v", err)
		}
		if id != cp.ID {
			t.Errorf("SaveCheckpoint() id = %q, want %q", id, cp.ID)
		}

		got, err := db.GetCheckpoint(ctx, id)
		if err != nil {
			t.Fatalf("GetCheckpoint() error = %v", err)
		}
		if diff := cmp.Diff(cp, got); diff != "" {
			t.Errorf("GetCheckpoint() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("empty manifest", func(t *testing.T) {
		db := newTestDB(t)
		cp := sampleCheckpoint("p1", baseTime, model.Manifest{})

		if _, err := db.SaveCheckpoint(ctx, cp); err != nil {
			t.Fatalf("SaveCheckpoint() error = %v", err)
		}
		got, err := db.GetCheckpoint(ctx, cp.ID)
		if err != nil {
			t.Fatalf("GetCheckpoint() error = %v", err)
		}
		if len(got.Manifest) != 0 {
			t.Errorf("len(Manifest) = %d, want 0", len(got.Manifest))
		}
	})

	t.Run("get unknown returns ErrNotFound", func(t *testing.T) {
		db := newTestDB(t)
		_, err := db.GetCheckpoint(ctx, "missing")
		if !errors.Is(err, ckpt.ErrNotFound) {
			t.Errorf("GetCheckpoint() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("duplicate id fails", func(t *testing.T) {
		db := newTestDB(t)
		cp := sampleCheckpoint("p1", baseTime, nil)
		if _, err := db.SaveCheckpoint(ctx, cp); err != nil {
			t.Fatalf("SaveCheckpoint() error = %v", err)
		}
		if _, err := db.SaveCheckpoint(ctx, cp); err == nil {
			t.Error("second SaveCheckpoint() expected error")
		}
	})

	t.Run("list is newest first and scoped to project", func(t *testing.T) {
		db := newTestDB(t)
		old := sampleCheckpoint("p1", baseTime, model.Manifest{{Path: "a", Digest: "d", Size: 5}})
		mid := sampleCheckpoint("p1", baseTime.Add(time.Minute), nil)
		newest := sampleCheckpoint("p1", baseTime.Add(time.Hour), nil)
		other := sampleCheckpoint("p2", baseTime.Add(2*time.Hour), nil)

		for _, cp := range []*model.Checkpoint{mid, old, other, newest} {
			if _, err := db.SaveCheckpoint(ctx, cp); err != nil {
				t.Fatalf("SaveCheckpoint() error = %v", err)
			}
		}

		got, err := db.ListCheckpoints(ctx, "p1")
		if err != nil {
			t.Fatalf("ListCheckpoints() error = %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("len(ListCheckpoints()) = %d, want 3", len(got))
		}
		wantOrder := []string{newest.ID, mid.ID, old.ID}
		for i, id := range wantOrder {
			if got[i].ID != id {
				t.Errorf("ListCheckpoints()[%d].ID = %q, want %q", i, got[i].ID, id)
			}
		}

		last := got[2]
		if last.FileCount != 1 || last.FileBytes != 5 {
			t.Errorf("summary files = %d/%d bytes, want 1/5", last.FileCount, last.FileBytes)
		}
		if last.SnapshotSize != int64(len(old.SnapshotData)) {
			t.Errorf("SnapshotSize = %d, want %d", last.SnapshotSize, len(old.SnapshotData))
		}
		if !last.CreatedAt.Equal(baseTime) {
			t.Errorf("CreatedAt = %v, want %v", last.CreatedAt, baseTime)
		}
	})

	t.Run("delete cascades and reports missing ids", func(t *testing.T) {
		db := newTestDB(t)
		cp := sampleCheckpoint("p1", baseTime, model.Manifest{{Path: "a", Digest: "d", Size: 1}})
		if _, err := db.SaveCheckpoint(ctx, cp); err != nil {
			t.Fatalf("SaveCheckpoint() error = %v", err)
		}

		if err := db.DeleteCheckpoint(ctx, cp.ID); err != nil {
			t.Fatalf("DeleteCheckpoint() error = %v", err)
		}
		if _, err := db.GetCheckpoint(ctx, cp.ID); !errors.Is(err, ckpt.ErrNotFound) {
			t.Errorf("GetCheckpoint() after delete error = %v, want ErrNotFound", err)
		}
		refs, err := db.ReferencedDigests(ctx)
		if err != nil {
			t.Fatalf("ReferencedDigests() error = %v", err)
		}
		if len(refs) != 0 {
			t.Errorf("ReferencedDigests() = %v after delete, want empty", refs)
		}

		if err := db.DeleteCheckpoint(ctx, cp.ID); !errors.Is(err, ckpt.ErrNotFound) {
			t.Errorf("second DeleteCheckpoint() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("referenced digests and file versions", func(t *testing.T) {
		db := newTestDB(t)
		first := sampleCheckpoint("p1", baseTime, model.Manifest{
			{Path: "a.go", Digest: "d1", Size: 1},
			{Path: "b.go", Digest: "d2", Size: 2},
		})
		second := sampleCheckpoint("p1", baseTime.Add(time.Hour), model.Manifest{
			{Path: "a.go", Digest: "d3", Size: 3},
		})
		second.Kind = model.KindSafetyBackup
		for _, cp := range []*model.Checkpoint{first, second} {
			if _, err := db.SaveCheckpoint(ctx, cp); err != nil {
				t.Fatalf("SaveCheckpoint() error = %v", err)
			}
		}

		refs, err := db.ReferencedDigests(ctx)
		if err != nil {
			t.Fatalf("ReferencedDigests() error = %v", err)
		}
		want := map[string]struct{}{"d1": {}, "d2": {}, "d3": {}}
		if diff := cmp.Diff(want, refs); diff != "" {
			t.Errorf("ReferencedDigests() mismatch (-want +got):\n%s", diff)
		}

		versions, err := db.FindFileVersions(ctx, "p1", "a.go")
		if err != nil {
			t.Fatalf("FindFileVersions() error = %v", err)
		}
		if len(versions) != 2 {
			t.Fatalf("len(FindFileVersions()) = %d, want 2", len(versions))
		}
		if versions[0].CheckpointID != second.ID || versions[0].Digest != "d3" || versions[0].Kind != model.KindSafetyBackup {
			t.Errorf("versions[0] = %+v, want checkpoint %s digest d3", versions[0], second.ID)
		}
		if versions[1].CheckpointID != first.ID || versions[1].Digest != "d1" {
			t.Errorf("versions[1] = %+v, want checkpoint %s digest d1", versions[1], first.ID)
		}
	})
}

func TestSQLiteDatabase_Operations(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	first, err := db.CreateOperation(ctx, "CreateCheckpoint", "description=one")
	if err != nil {
		t.Fatalf("CreateOperation() error = %v", err)
	}
	second, err := db.CreateOperation(ctx, "RestoreCheckpoint", "id=abc")
	if err != nil {
		t.Fatalf("CreateOperation() error = %v", err)
	}
	if second.ID <= first.ID {
		t.Errorf("operation ids not increasing: %d then %d", first.ID, second.ID)
	}

	second.Status = "error"
	second.Error = "checkpoint signature invalid"
	second.CheckpointID = "abc"
	second.SafetyBackupID = "backup-1"
	if err := db.FinishOperation(ctx, second); err != nil {
		t.Fatalf("FinishOperation() error = %v", err)
	}

	ops, err := db.ListOperations(ctx, 10)
	if err != nil {
		t.Fatalf("ListOperations() error = %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("len(ListOperations()) = %d, want 2", len(ops))
	}
	got := ops[0]
	if got.ID != second.ID || got.Status != "error" || got.Error != second.Error ||
		got.CheckpointID != "abc" || got.SafetyBackupID != "backup-1" {
		t.Errorf("ListOperations()[0] = %+v, want finished restore operation", got)
	}
	if got.FinishedAt.IsZero() {
		t.Error("FinishedAt is zero for a finished operation")
	}
	if !ops[1].FinishedAt.IsZero() {
		t.Error("FinishedAt is set for an unfinished operation")
	}

	limited, err := db.ListOperations(ctx, 1)
	if err != nil {
		t.Fatalf("ListOperations(1) error = %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("len(ListOperations(1)) = %d, want 1", len(limited))
	}

	if err := db.FinishOperation(ctx, &model.Operation{ID: 999}); err == nil {
		t.Error("FinishOperation() expected error for unknown id")
	}
}

func TestSQLiteDatabase_FileDatabase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ckpt.db")

	db, err := NewSQLiteDatabase(path)
	if err != nil {
		t.Fatalf("NewSQLiteDatabase() error = %v", err)
	}
	if err := db.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	cp := sampleCheckpoint("p1", baseTime, model.Manifest{{Path: "a", Digest: "d", Size: 1}})
	if _, err := db.SaveCheckpoint(ctx, cp); err != nil {
		t.Fatalf("SaveCheckpoint() error = %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewSQLiteDatabase(path)
	if err != nil {
		t.Fatalf("reopening database: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.GetCheckpoint(ctx, cp.ID)
	if err != nil {
		t.Fatalf("GetCheckpoint() after reopen error = %v", err)
	}
	if diff := cmp.Diff(cp, got); diff != "" {
		t.Errorf("GetCheckpoint() after reopen mismatch (-want +got):\n%s", diff)
	}
}
