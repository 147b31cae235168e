package app

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"ckpt-go/internal/ckpt"
	"ckpt-go/internal/config"
	"ckpt-go/internal/database"
	"ckpt-go/internal/fs"
	"ckpt-go/internal/manifest"
	"ckpt-go/internal/model"
	"ckpt-go/internal/signing"
	"ckpt-go/internal/snapshot"
	"ckpt-go/internal/vault"
)

// CkptApp is the application layer between the CLI and CheckpointService.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw CLI arguments, and manages the DB lifecycle on Close.
type CkptApp struct {
	cfg      *config.Config
	db       *database.SQLiteDatabase
	vault    ckpt.Vault
	keys     ckpt.KeyStore
	verifier ckpt.Verifier
	codec    *snapshot.Codec
	service  *ckpt.CheckpointService
	logger   *slog.Logger
	op       *Operation
	logFile  *os.File
}

// Options adjusts how the app reports to the terminal.
type Options struct {
	Verbose bool // also print debug and info records to stderr
}

// keyring pairs the key store that unlocks the signer with the verifier
// restores trust. A nil keys field is built from the signing config.
type keyring struct {
	keys     ckpt.KeyStore
	verifier ckpt.Verifier
}

// NewCkptApp creates a fully wired CkptApp from the given config.
// operation identifies the CLI command being run (e.g. "CreateCheckpoint").
// The signer stays locked until Unlock is called.
// The caller must call Close when done.
func NewCkptApp(ctx context.Context, cfg *config.Config, operation string, opts Options) (*CkptApp, error) {
	return newCkptApp(ctx, cfg, operation, opts, keyring{verifier: signing.Trusted()})
}

func newCkptApp(ctx context.Context, cfg *config.Config, operation string, opts Options, kr keyring) (*CkptApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	budget, err := cfg.Restore.Budget()
	if err != nil {
		return nil, err
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}
	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database schema out of date (run `ckpt config init`): %w", err)
	}

	v, err := vault.NewVaultFromConfig(ctx, cfg.Vault)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating vault: %w", err)
	}

	keys := kr.keys
	if keys == nil {
		keys, err = signing.NewKeyStoreFromConfig(cfg.Signing)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("creating key store: %w", err)
		}
	}

	ignore, err := fs.LoadIgnoreMatcher(cfg.ProjectRoot, append(internalIgnores(cfg), cfg.Filesystem.Ignore...))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("loading ignore patterns: %w", err)
	}
	pfs, err := fs.NewOSProjectFS(cfg.ProjectRoot, ignore)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("opening project root: %w", err)
	}

	codec, err := snapshot.NewCodec()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating snapshot codec: %w", err)
	}

	stderrLevel := slog.LevelWarn
	if opts.Verbose {
		stderrLevel = slog.LevelDebug
	}
	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID, stderrLevel)
	if err != nil {
		codec.Close()
		db.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger = logger.With("project", cfg.ProjectID)
	adapter := &slogAdapter{l: logger}

	tracker := manifest.NewTracker(pfs, v, cfg.Restore.WorkerCount(), adapter)
	svc := ckpt.NewCheckpointService(cfg.ProjectID, db, codec, tracker, v, nil,
		kr.verifier, adapter, ckpt.RealClock{}, ckpt.UUIDGenerator{})
	svc.SetTimeBudget(budget)

	return &CkptApp{
		cfg:      cfg,
		db:       db,
		vault:    v,
		keys:     keys,
		verifier: kr.verifier,
		codec:    codec,
		service:  svc,
		logger:   logger,
		op:       NewOperation(operation, ""),
		logFile:  logFile,
	}, nil
}

// internalIgnores keeps ckpt's own data out of checkpoints when it lives
// inside the project root.
func internalIgnores(cfg *config.Config) []string {
	var patterns []string
	for _, dir := range []string{cfg.BaseDir, cfg.LogDir, cfg.Database.DataDir, cfg.Vault.FSVaultRoot} {
		if dir == "" {
			continue
		}
		rel, err := filepath.Rel(cfg.ProjectRoot, dir)
		if err != nil {
			continue
		}
		rel = filepath.ToSlash(rel)
		if model.ValidPath(rel) {
			patterns = append(patterns, "/"+rel+"/")
		}
	}
	return patterns
}

// Init creates the database schema and checks the vault for a new config.
func Init(ctx context.Context, cfg *config.Config) error {
	if err := database.InitDatabase(cfg.Database); err != nil {
		return err
	}
	v, err := vault.NewVaultFromConfig(ctx, cfg.Vault)
	if err != nil {
		return fmt.Errorf("creating vault: %w", err)
	}
	if err := v.ValidateSetup(ctx); err != nil {
		return fmt.Errorf("validating vault: %w", err)
	}
	return nil
}

// InitKeys generates the signing key pair, protecting the private key with
// passphrase. It returns the public key in trusted.pub format and, when
// trustedOut is set, also writes it there for embedding into the binary.
func InitKeys(cfg *config.Config, passphrase, trustedOut string) (string, error) {
	keys, err := signing.NewKeyStoreFromConfig(cfg.Signing)
	if err != nil {
		return "", fmt.Errorf("creating key store: %w", err)
	}
	pub, err := keys.Setup(passphrase)
	if err != nil {
		return "", fmt.Errorf("generating signing key: %w", err)
	}
	formatted := signing.FormatPublicKey(ed25519.PublicKey(pub))
	if trustedOut != "" {
		if err := os.WriteFile(trustedOut, []byte(formatted), 0644); err != nil {
			return "", fmt.Errorf("writing trusted key: %w", err)
		}
	}
	return formatted, nil
}

// persistOperation saves the operation to the database, giving it an auto-increment ID.
// This should only be called for commands that change checkpoints or the project.
func (a *CkptApp) persistOperation(ctx context.Context, parameters string) error {
	if a.op.Persisted() {
		return nil // already persisted
	}
	a.op.Parameters = parameters
	dbOp, err := a.db.CreateOperation(ctx, a.op.Operation, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = dbOp.ID
	return nil
}

// SignerConfigured reports whether a private key exists to unlock.
func (a *CkptApp) SignerConfigured() bool {
	return a.keys.IsConfigured()
}

// Unlock decrypts the private key and enables checkpoint creation and restore.
func (a *CkptApp) Unlock(passphrase string) error {
	signer, err := a.keys.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking signing key: %w", err)
	}
	a.service.SetSigner(signer)
	return nil
}

// CreateCheckpoint captures the project into a new checkpoint.
func (a *CkptApp) CreateCheckpoint(ctx context.Context, description string, kind model.Kind) (*model.Summary, error) {
	if err := a.persistOperation(ctx, description); err != nil {
		return nil, err
	}
	sum, err := a.service.CreateCheckpoint(ctx, description, kind)
	a.op.Record(err)
	if err != nil {
		return nil, err
	}
	a.op.CheckpointID = sum.ID
	return sum, nil
}

// ListCheckpoints returns the project's checkpoints, newest first.
func (a *CkptApp) ListCheckpoints(ctx context.Context) ([]*model.Summary, error) {
	return a.service.ListCheckpoints(ctx)
}

// GetCheckpoint returns one checkpoint including its manifest.
func (a *CkptApp) GetCheckpoint(ctx context.Context, id string) (*model.Checkpoint, error) {
	return a.service.GetCheckpoint(ctx, id)
}

// VerifyCheckpoint checks a checkpoint's signature and payload.
func (a *CkptApp) VerifyCheckpoint(ctx context.Context, id string) (*model.Tables, error) {
	return a.service.VerifyCheckpoint(ctx, id)
}

// DeleteCheckpoint removes a checkpoint.
func (a *CkptApp) DeleteCheckpoint(ctx context.Context, id string) error {
	if err := a.persistOperation(ctx, id); err != nil {
		return err
	}
	a.op.CheckpointID = id
	err := a.service.DeleteCheckpoint(ctx, id)
	a.op.Record(err)
	return err
}

// Prune keeps the newest keep checkpoints and returns the deleted ids.
func (a *CkptApp) Prune(ctx context.Context, keep int) ([]string, error) {
	if err := a.persistOperation(ctx, strconv.Itoa(keep)); err != nil {
		return nil, err
	}
	deleted, err := a.service.Prune(ctx, keep)
	a.op.Record(err)
	return deleted, err
}

// GC removes unreferenced vault bodies.
func (a *CkptApp) GC(ctx context.Context) (int, error) {
	if err := a.persistOperation(ctx, ""); err != nil {
		return 0, err
	}
	removed, err := a.service.GC(ctx)
	a.op.Record(err)
	return removed, err
}

// Status compares the live tree against the newest checkpoint.
func (a *CkptApp) Status(ctx context.Context) (*ckpt.ProjectStatus, error) {
	return a.service.Status(ctx)
}

// PlanRestore returns what restoring id would change, without changing it.
func (a *CkptApp) PlanRestore(ctx context.Context, id string) (*ckpt.Plan, error) {
	return a.service.PlanRestore(ctx, id)
}

// RestoreCheckpoint rolls the project back to checkpoint id. observer, if
// non-nil, receives every state transition.
func (a *CkptApp) RestoreCheckpoint(ctx context.Context, id string, observer ckpt.Observer) (*ckpt.RestoreResult, error) {
	if err := a.persistOperation(ctx, id); err != nil {
		return nil, err
	}
	a.op.CheckpointID = id
	a.service.SetObserver(observer)
	defer a.service.SetObserver(nil)

	res, err := a.service.RestoreCheckpoint(ctx, id)
	a.op.Record(err)
	if err != nil {
		return nil, err
	}
	a.op.SafetyBackupID = res.SafetyBackupID
	return res, nil
}

// GetHistory returns the most recent operations.
func (a *CkptApp) GetHistory(ctx context.Context, limit int) ([]*model.Operation, error) {
	return a.service.GetHistory(ctx, limit)
}

// GetFileHistory resolves rawPath against the working directory and returns
// the captured versions of that project file.
func (a *CkptApp) GetFileHistory(ctx context.Context, rawPath string) ([]*model.FileVersion, error) {
	rel, err := a.projectPath(rawPath)
	if err != nil {
		return nil, err
	}
	return a.service.GetFileHistory(ctx, rel)
}

// projectPath converts a CLI path into a slash separated path relative to
// the project root.
func (a *CkptApp) projectPath(rawPath string) (string, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	rel, err := filepath.Rel(a.cfg.ProjectRoot, absPath)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	rel = filepath.ToSlash(rel)
	if !model.ValidPath(rel) {
		return "", fmt.Errorf("%s is not inside project root %s", rawPath, a.cfg.ProjectRoot)
	}
	return rel, nil
}

// Close finalizes the operation and closes all resources.
func (a *CkptApp) Close() error {
	var firstErr error

	if a.op.Persisted() {
		if err := a.db.FinishOperation(context.Background(), a.op.record()); err != nil {
			firstErr = fmt.Errorf("finishing operation: %w", err)
		}
	}

	if err := a.db.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}
	a.codec.Close()

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
