package testutil

import (
	"context"
	"testing"
	"time"

	"ckpt-go/internal/ckpt"
	"ckpt-go/internal/database"
	"ckpt-go/internal/manifest"
	"ckpt-go/internal/model"
	"ckpt-go/internal/signing"
	"ckpt-go/internal/snapshot"
	"ckpt-go/internal/vault"
)

// TestProjectID is the project every Env operates on.
const TestProjectID = "proj-test"

// Env wires a CheckpointService to real in-process components: an in-memory
// SQLite database, a memory vault, a project tree in a temp dir and the test
// signing key.
type Env struct {
	ProjectID string
	Root      string
	SQL       *database.SQLiteDatabase
	DB        *FaultyDatabase
	Vault     *vault.MemoryVault
	FS        *FaultyProjectFS
	Tracker   *manifest.Tracker
	Codec     *snapshot.Codec
	Signer    *signing.KeySigner
	Verifier  *signing.KeyVerifier
	Clock     *StubClock
	IDs       *StubIDGenerator
	Service   *ckpt.CheckpointService
}

// NewTestEnv builds an Env. The clock advances one second per read.
func NewTestEnv(t *testing.T) *Env {
	t.Helper()

	codec, err := snapshot.NewCodec()
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}
	t.Cleanup(codec.Close)

	signer, err := signing.NewKeySigner(signing.TestPrivateKey())
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}

	sqlDB := NewTestDatabase(t)
	e := &Env{
		ProjectID: TestProjectID,
		SQL:       sqlDB,
		DB:        NewFaultyDatabase(sqlDB),
		Vault:     NewTestVault(),
		FS:        NewTestProjectFS(t),
		Codec:     codec,
		Signer:    signer,
		Verifier:  signing.TestVerifier(),
		Clock:     NewTickingClock(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC), time.Second),
		IDs:       NewStubIDGenerator(),
	}
	e.Root = e.FS.Root()
	e.Tracker = manifest.NewTracker(e.FS, e.Vault, 4, nil)
	e.Service = ckpt.NewCheckpointService(e.ProjectID, e.DB, e.Codec, e.Tracker, e.Vault,
		e.Signer, e.Verifier, ckpt.NewNopLogger(), e.Clock, e.IDs)
	return e
}

// SetTables replaces the live project tables.
func (e *Env) SetTables(t *testing.T, tables *model.Tables) {
	t.Helper()
	if err := e.SQL.ReplaceTables(context.Background(), e.ProjectID, tables); err != nil {
		t.Fatalf("seeding tables: %v", err)
	}
}

// Tables reads the live project tables.
func (e *Env) Tables(t *testing.T) *model.Tables {
	t.Helper()
	tables, err := e.SQL.ReadTables(context.Background(), e.ProjectID)
	if err != nil {
		t.Fatalf("reading tables: %v", err)
	}
	return tables
}

// SetFiles makes the live tree hold exactly files.
func (e *Env) SetFiles(t *testing.T, files map[string]string) {
	t.Helper()
	for rel := range ReadTree(t, e.Root) {
		if _, keep := files[rel]; !keep {
			if err := e.FS.OSProjectFS.Remove(rel); err != nil {
				t.Fatalf("removing %s: %v", rel, err)
			}
		}
	}
	WriteFiles(t, e.Root, files)
}

// Files returns the live tree.
func (e *Env) Files(t *testing.T) map[string]string {
	t.Helper()
	return ReadTree(t, e.Root)
}

// Checkpoint creates a manual checkpoint and returns its id.
func (e *Env) Checkpoint(t *testing.T, description string) string {
	t.Helper()
	sum, err := e.Service.CreateCheckpoint(context.Background(), description, model.KindManual)
	if err != nil {
		t.Fatalf("CreateCheckpoint(%q) error = %v", description, err)
	}
	return sum.ID
}

// SaveSigned stores a hand-built checkpoint of tables and manifest, signed
// with the test key. Bodies referenced by manifest must already be in the
// vault for a restore to proceed.
func (e *Env) SaveSigned(t *testing.T, tables *model.Tables, manifest model.Manifest) *model.Checkpoint {
	t.Helper()
	data, err := e.Codec.Encode(tables)
	if err != nil {
		t.Fatalf("encoding tables: %v", err)
	}
	if manifest == nil {
		manifest = model.Manifest{}
	}
	cp := &model.Checkpoint{
		ID:           e.IDs.New(),
		ProjectID:    e.ProjectID,
		CreatedAt:    e.Clock.Now(),
		Description:  "hand built",
		Kind:         model.KindManual,
		SnapshotData: data,
		Manifest:     manifest,
	}
	cp.Signature, err = e.Signer.Sign(ckpt.SigningMessage(cp))
	if err != nil {
		t.Fatalf("signing checkpoint: %v", err)
	}
	if _, err := e.SQL.SaveCheckpoint(context.Background(), cp); err != nil {
		t.Fatalf("saving checkpoint: %v", err)
	}
	return cp
}
