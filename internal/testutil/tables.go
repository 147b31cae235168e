package testutil

import (
	"fmt"
	"time"

	"ckpt-go/internal/model"
)

// BaseTime is the creation time of every fixture row.
var BaseTime = time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

// SampleTables returns a deterministic table set. Larger versions add rows
// and change existing ones, so two versions always differ.
//
//	version 0: one phase, one chat message
//	version n: n+1 phases, n features, 2n+1 messages, n generated files
func SampleTables(projectID string, version int) *model.Tables {
	t := model.NewTables(projectID)
	at := func(i int) time.Time { return BaseTime.Add(time.Duration(i) * time.Minute) }

	for i := 0; i <= version; i++ {
		t.Phases = append(t.Phases, model.Phase{
			ID:        fmt.Sprintf("phase-%d", i),
			ProjectID: projectID,
			Name:      fmt.Sprintf("Phase %d (v%d)", i, version),
			Position:  int64(i),
			Status:    "active",
			CreatedAt: at(i),
		})
	}
	for i := 1; i <= version; i++ {
		t.Features = append(t.Features, model.Feature{
			ID:          fmt.Sprintf("feature-%d", i),
			ProjectID:   projectID,
			PhaseID:     fmt.Sprintf("phase-%d", i),
			Title:       fmt.Sprintf("Feature %d", i),
			Description: fmt.Sprintf("added in version %d", version),
			Status:      "todo",
			Position:    int64(i),
			CreatedAt:   at(i),
			UpdatedAt:   at(i + version),
		})
		t.GeneratedFiles = append(t.GeneratedFiles, model.GeneratedFile{
			ID:          fmt.Sprintf("gen-%d", i),
			ProjectID:   projectID,
			FeatureID:   fmt.Sprintf("feature-%d", i),
			Path:        fmt.Sprintf("src/feature%d.go", i),
			Digest:      SHA256Hex([]byte(fmt.Sprintf("feature %d", i))),
			Size:        int64(len(fmt.Sprintf("feature %d", i))),
			Language:    "go",
			GeneratedAt: at(i),
		})
	}
	for i := 0; i <= 2*version; i++ {
		msg := model.ChatMessage{
			ID:        fmt.Sprintf("msg-%03d", i),
			ProjectID: projectID,
			Role:      []string{"user", "assistant"}[i%2],
			Content:   fmt.Sprintf("message %d", i),
			CreatedAt: at(i),
		}
		if i > 0 && i <= version {
			msg.FeatureID = fmt.Sprintf("feature-%d", i)
		}
		t.ChatMessages = append(t.ChatMessages, msg)
	}
	return t
}
