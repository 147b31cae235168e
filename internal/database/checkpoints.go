package database

import (
	"context"
	"database/sql"
	"fmt"

	"ckpt-go/internal/ckpt"
	"ckpt-go/internal/model"
)

// SaveCheckpoint writes the checkpoint row and its manifest in one
// transaction. The database runs with synchronous=FULL, so the checkpoint is
// durable once this returns.
func (s *SQLiteDatabase) SaveCheckpoint(ctx context.Context, cp *model.Checkpoint) (string, error) {
	if cp.ID == "" {
		return "", fmt.Errorf("saving checkpoint: empty id")
	}

	err := s.withTx(ctx, nil, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO checkpoints
			   (id, project_id, created_at, description, kind, snapshot_data, snapshot_size, signature, file_count, file_bytes)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			cp.ID, cp.ProjectID, toNanos(cp.CreatedAt), cp.Description, string(cp.Kind),
			cp.SnapshotData, len(cp.SnapshotData), cp.Signature,
			len(cp.Manifest), cp.Manifest.TotalSize())
		if err != nil {
			return fmt.Errorf("inserting checkpoint: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO checkpoint_files (checkpoint_id, path, digest, size) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing manifest insert: %w", err)
		}
		defer stmt.Close()

		for _, e := range cp.Manifest {
			if _, err := stmt.ExecContext(ctx, cp.ID, e.Path, e.Digest, e.Size); err != nil {
				return fmt.Errorf("inserting manifest entry %s: %w", e.Path, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("saving checkpoint: %w", err)
	}
	return cp.ID, nil
}

func (s *SQLiteDatabase) ListCheckpoints(ctx context.Context, projectID string) ([]*model.Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, created_at, description, kind, snapshot_size, file_count, file_bytes
		   FROM checkpoints
		  WHERE project_id = ?
		  ORDER BY created_at DESC, id DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*model.Summary
	for rows.Next() {
		var (
			sum     model.Summary
			created int64
			kind    string
		)
		if err := rows.Scan(&sum.ID, &sum.ProjectID, &created, &sum.Description, &kind,
			&sum.SnapshotSize, &sum.FileCount, &sum.FileBytes); err != nil {
			return nil, fmt.Errorf("scanning checkpoint summary: %w", err)
		}
		sum.CreatedAt = fromNanos(created)
		sum.Kind = model.Kind(kind)
		out = append(out, &sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	return out, nil
}

func (s *SQLiteDatabase) GetCheckpoint(ctx context.Context, id string) (*model.Checkpoint, error) {
	var (
		cp      model.Checkpoint
		created int64
		kind    string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, created_at, description, kind, snapshot_data, signature
		   FROM checkpoints
		  WHERE id = ?`, id).
		Scan(&cp.ID, &cp.ProjectID, &created, &cp.Description, &kind, &cp.SnapshotData, &cp.Signature)
	if err != nil {
		if isNotFound(err) {
			return nil, ckpt.ErrNotFound
		}
		return nil, fmt.Errorf("getting checkpoint: %w", err)
	}
	cp.CreatedAt = fromNanos(created)
	cp.Kind = model.Kind(kind)

	rows, err := s.db.QueryContext(ctx,
		`SELECT path, digest, size FROM checkpoint_files WHERE checkpoint_id = ? ORDER BY path`, id)
	if err != nil {
		return nil, fmt.Errorf("getting checkpoint manifest: %w", err)
	}
	defer rows.Close()

	cp.Manifest = model.Manifest{}
	for rows.Next() {
		var e model.ManifestEntry
		if err := rows.Scan(&e.Path, &e.Digest, &e.Size); err != nil {
			return nil, fmt.Errorf("scanning manifest entry: %w", err)
		}
		cp.Manifest = append(cp.Manifest, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("getting checkpoint manifest: %w", err)
	}
	return &cp, nil
}

func (s *SQLiteDatabase) DeleteCheckpoint(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting checkpoint: %w", err)
	}
	if n == 0 {
		return ckpt.ErrNotFound
	}
	return nil
}

func (s *SQLiteDatabase) ReferencedDigests(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT digest FROM checkpoint_files`)
	if err != nil {
		return nil, fmt.Errorf("listing referenced digests: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scanning digest: %w", err)
		}
		out[d] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing referenced digests: %w", err)
	}
	return out, nil
}

func (s *SQLiteDatabase) FindFileVersions(ctx context.Context, projectID string, path string) ([]*model.FileVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.created_at, c.kind, f.digest, f.size
		   FROM checkpoint_files f
		   JOIN checkpoints c ON c.id = f.checkpoint_id
		  WHERE c.project_id = ? AND f.path = ?
		  ORDER BY c.created_at DESC, c.id DESC`, projectID, path)
	if err != nil {
		return nil, fmt.Errorf("finding file versions: %w", err)
	}
	defer rows.Close()

	var out []*model.FileVersion
	for rows.Next() {
		var (
			v       model.FileVersion
			created int64
			kind    string
		)
		if err := rows.Scan(&v.CheckpointID, &created, &kind, &v.Digest, &v.Size); err != nil {
			return nil, fmt.Errorf("scanning file version: %w", err)
		}
		v.CreatedAt = fromNanos(created)
		v.Kind = model.Kind(kind)
		out = append(out, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("finding file versions: %w", err)
	}
	return out, nil
}
