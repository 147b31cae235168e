package model

import "time"

// Phase is a top-level stage of a project plan.
type Phase struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	Position  int64     `json:"position"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Feature is a unit of work within a phase.
type Feature struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	PhaseID     string    `json:"phase_id"` // Foreign key to Phase
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Position    int64     `json:"position"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ChatMessage is one entry of the project's conversation history.
type ChatMessage struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	FeatureID string    `json:"feature_id,omitempty"` // Optional foreign key to Feature
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// GeneratedFile records a file produced under the project root.
type GeneratedFile struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	FeatureID   string    `json:"feature_id,omitempty"` // Optional foreign key to Feature
	Path        string    `json:"path"`                 // Relative to project root, slash separated
	Digest      string    `json:"digest"`               // SHA-256 hex of the generated content
	Size        int64     `json:"size"`
	Language    string    `json:"language,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Tables is the full set of tracked rows for one project.
type Tables struct {
	ProjectID      string          `json:"project_id"`
	Phases         []Phase         `json:"phases"`
	Features       []Feature       `json:"features"`
	ChatMessages   []ChatMessage   `json:"chat_messages"`
	GeneratedFiles []GeneratedFile `json:"generated_files"`
}

// NewTables returns an empty table set for a project.
// Slices are non-nil so empty tables encode as [] rather than null.
func NewTables(projectID string) *Tables {
	return &Tables{
		ProjectID:      projectID,
		Phases:         []Phase{},
		Features:       []Feature{},
		ChatMessages:   []ChatMessage{},
		GeneratedFiles: []GeneratedFile{},
	}
}

// RowCount returns the number of rows across all tables.
func (t *Tables) RowCount() int {
	return len(t.Phases) + len(t.Features) + len(t.ChatMessages) + len(t.GeneratedFiles)
}
