package database

import (
	"context"
	"database/sql"
	"fmt"

	"ckpt-go/internal/model"
)

// ReadTables returns every tracked row for the project, ordered by id.
// All four tables are read in one transaction so the result is a consistent
// snapshot.
func (s *SQLiteDatabase) ReadTables(ctx context.Context, projectID string) (*model.Tables, error) {
	tables := model.NewTables(projectID)

	err := s.withTx(ctx, nil, func(tx *sql.Tx) error {
		if err := readPhases(ctx, tx, tables); err != nil {
			return err
		}
		if err := readFeatures(ctx, tx, tables); err != nil {
			return err
		}
		if err := readChatMessages(ctx, tx, tables); err != nil {
			return err
		}
		return readGeneratedFiles(ctx, tx, tables)
	})
	if err != nil {
		return nil, fmt.Errorf("reading tables: %w", err)
	}
	return tables, nil
}

func readPhases(ctx context.Context, tx *sql.Tx, t *model.Tables) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, project_id, name, position, status, created_at
		   FROM phases WHERE project_id = ? ORDER BY id`, t.ProjectID)
	if err != nil {
		return fmt.Errorf("querying phases: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p       model.Phase
			created int64
		)
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.Name, &p.Position, &p.Status, &created); err != nil {
			return fmt.Errorf("scanning phase: %w", err)
		}
		p.CreatedAt = fromNanos(created)
		t.Phases = append(t.Phases, p)
	}
	return rows.Err()
}

func readFeatures(ctx context.Context, tx *sql.Tx, t *model.Tables) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, project_id, phase_id, title, description, status, position, created_at, updated_at
		   FROM features WHERE project_id = ? ORDER BY id`, t.ProjectID)
	if err != nil {
		return fmt.Errorf("querying features: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			f                model.Feature
			created, updated int64
		)
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.PhaseID, &f.Title, &f.Description,
			&f.Status, &f.Position, &created, &updated); err != nil {
			return fmt.Errorf("scanning feature: %w", err)
		}
		f.CreatedAt = fromNanos(created)
		f.UpdatedAt = fromNanos(updated)
		t.Features = append(t.Features, f)
	}
	return rows.Err()
}

func readChatMessages(ctx context.Context, tx *sql.Tx, t *model.Tables) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, project_id, feature_id, role, content, created_at
		   FROM chat_messages WHERE project_id = ? ORDER BY id`, t.ProjectID)
	if err != nil {
		return fmt.Errorf("querying chat messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m         model.ChatMessage
			featureID sql.NullString
			created   int64
		)
		if err := rows.Scan(&m.ID, &m.ProjectID, &featureID, &m.Role, &m.Content, &created); err != nil {
			return fmt.Errorf("scanning chat message: %w", err)
		}
		m.FeatureID = featureID.String
		m.CreatedAt = fromNanos(created)
		t.ChatMessages = append(t.ChatMessages, m)
	}
	return rows.Err()
}

func readGeneratedFiles(ctx context.Context, tx *sql.Tx, t *model.Tables) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, project_id, feature_id, path, digest, size, language, generated_at
		   FROM generated_files WHERE project_id = ? ORDER BY id`, t.ProjectID)
	if err != nil {
		return fmt.Errorf("querying generated files: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			g         model.GeneratedFile
			featureID sql.NullString
			generated int64
		)
		if err := rows.Scan(&g.ID, &g.ProjectID, &featureID, &g.Path, &g.Digest,
			&g.Size, &g.Language, &generated); err != nil {
			return fmt.Errorf("scanning generated file: %w", err)
		}
		g.FeatureID = featureID.String
		g.GeneratedAt = fromNanos(generated)
		t.GeneratedFiles = append(t.GeneratedFiles, g)
	}
	return rows.Err()
}

// ReplaceTables swaps the project's rows for the given set inside one
// serializable transaction. Children are deleted before parents and parents
// inserted before children so foreign keys hold at every statement. Any
// failure rolls the whole transaction back.
func (s *SQLiteDatabase) ReplaceTables(ctx context.Context, projectID string, tables *model.Tables) error {
	if tables.ProjectID != projectID {
		return fmt.Errorf("replacing tables: rows belong to project %s, want %s", tables.ProjectID, projectID)
	}

	err := s.withTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable}, func(tx *sql.Tx) error {
		for _, table := range []string{"generated_files", "chat_messages", "features", "phases"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE project_id = ?`, projectID); err != nil {
				return fmt.Errorf("clearing %s: %w", table, err)
			}
		}

		if err := insertRows(ctx, tx,
			`INSERT INTO phases (id, project_id, name, position, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			tables.Phases, func(p model.Phase) []any {
				return []any{p.ID, p.ProjectID, p.Name, p.Position, p.Status, toNanos(p.CreatedAt)}
			}); err != nil {
			return fmt.Errorf("inserting phases: %w", err)
		}

		if err := insertRows(ctx, tx,
			`INSERT INTO features (id, project_id, phase_id, title, description, status, position, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			tables.Features, func(f model.Feature) []any {
				return []any{f.ID, f.ProjectID, f.PhaseID, f.Title, f.Description, f.Status, f.Position,
					toNanos(f.CreatedAt), toNanos(f.UpdatedAt)}
			}); err != nil {
			return fmt.Errorf("inserting features: %w", err)
		}

		if err := insertRows(ctx, tx,
			`INSERT INTO chat_messages (id, project_id, feature_id, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			tables.ChatMessages, func(m model.ChatMessage) []any {
				return []any{m.ID, m.ProjectID, nullString(m.FeatureID), m.Role, m.Content, toNanos(m.CreatedAt)}
			}); err != nil {
			return fmt.Errorf("inserting chat messages: %w", err)
		}

		if err := insertRows(ctx, tx,
			`INSERT INTO generated_files (id, project_id, feature_id, path, digest, size, language, generated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			tables.GeneratedFiles, func(g model.GeneratedFile) []any {
				return []any{g.ID, g.ProjectID, nullString(g.FeatureID), g.Path, g.Digest, g.Size, g.Language,
					toNanos(g.GeneratedAt)}
			}); err != nil {
			return fmt.Errorf("inserting generated files: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replacing tables: %w", err)
	}
	return nil
}

// insertRows executes one prepared statement per row.
func insertRows[T any](ctx context.Context, tx *sql.Tx, query string, rows []T, args func(T) []any) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, args(row)...); err != nil {
			return err
		}
	}
	return nil
}
