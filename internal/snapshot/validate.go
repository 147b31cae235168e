package snapshot

import (
	"fmt"
	"time"

	"ckpt-go/internal/model"
)

// ChatRoles are the accepted values of ChatMessage.Role.
var ChatRoles = map[string]bool{
	"user":      true,
	"assistant": true,
	"system":    true,
}

// Validate checks every row for its table's required fields, unique ids and
// project ownership. Cross-table references are left to the structured store.
func Validate(t *model.Tables) error {
	seen := make(map[string]bool)
	check := func(table, id, projectID string) error {
		if id == "" {
			return fmt.Errorf("%s: empty id", table)
		}
		if projectID != t.ProjectID {
			return fmt.Errorf("%s %s: belongs to project %q, want %q", table, id, projectID, t.ProjectID)
		}
		key := table + "/" + id
		if seen[key] {
			return fmt.Errorf("%s %s: duplicate id", table, id)
		}
		seen[key] = true
		return nil
	}

	for _, p := range t.Phases {
		if err := check("phases", p.ID, p.ProjectID); err != nil {
			return err
		}
		if p.Name == "" {
			return fmt.Errorf("phases %s: empty name", p.ID)
		}
		if !validTime(p.CreatedAt) {
			return fmt.Errorf("phases %s: missing or out of range created_at", p.ID)
		}
	}

	for _, f := range t.Features {
		if err := check("features", f.ID, f.ProjectID); err != nil {
			return err
		}
		if f.PhaseID == "" {
			return fmt.Errorf("features %s: empty phase_id", f.ID)
		}
		if f.Title == "" {
			return fmt.Errorf("features %s: empty title", f.ID)
		}
		if !validTime(f.CreatedAt) || !validTime(f.UpdatedAt) {
			return fmt.Errorf("features %s: missing or out of range timestamps", f.ID)
		}
	}

	for _, m := range t.ChatMessages {
		if err := check("chat_messages", m.ID, m.ProjectID); err != nil {
			return err
		}
		if !ChatRoles[m.Role] {
			return fmt.Errorf("chat_messages %s: unknown role %q", m.ID, m.Role)
		}
		if !validTime(m.CreatedAt) {
			return fmt.Errorf("chat_messages %s: missing or out of range created_at", m.ID)
		}
	}

	for _, g := range t.GeneratedFiles {
		if err := check("generated_files", g.ID, g.ProjectID); err != nil {
			return err
		}
		if !model.ValidPath(g.Path) {
			return fmt.Errorf("generated_files %s: invalid path %q", g.ID, g.Path)
		}
		if g.Size < 0 {
			return fmt.Errorf("generated_files %s: negative size", g.ID)
		}
		if !validTime(g.GeneratedAt) {
			return fmt.Errorf("generated_files %s: missing or out of range generated_at", g.ID)
		}
	}
	return nil
}

// Timestamps are stored as unix nanoseconds, which cover 1678 to 2262.
var (
	minTime = time.Unix(0, -1<<63).UTC()
	maxTime = time.Unix(0, 1<<63-1).UTC()
)

func validTime(t time.Time) bool {
	return !t.IsZero() && !t.Before(minTime) && !t.After(maxTime)
}
