package ckpt

import (
	"bytes"
	"testing"
	"time"

	"ckpt-go/internal/model"
)

func sampleCheckpoint() *model.Checkpoint {
	return &model.Checkpoint{
		ID:           "cp-1",
		ProjectID:    "proj",
		CreatedAt:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Description:  "before refactor",
		Kind:         model.KindManual,
		SnapshotData: []byte("payload"),
		Manifest: model.Manifest{
			{Path: "a.go", Digest: "d1", Size: 1},
			{Path: "b.go", Digest: "d2", Size: 2},
		},
	}
}

func TestSigningMessage_Deterministic(t *testing.T) {
	a := SigningMessage(sampleCheckpoint())
	b := SigningMessage(sampleCheckpoint())
	if !bytes.Equal(a, b) {
		t.Error("SigningMessage() differs for equal checkpoints")
	}
	if len(a) != 32 {
		t.Errorf("len(SigningMessage()) = %d, want 32", len(a))
	}

	// The signature is not part of the message.
	cp := sampleCheckpoint()
	cp.Signature = []byte("anything")
	if !bytes.Equal(a, SigningMessage(cp)) {
		t.Error("SigningMessage() depends on the signature field")
	}
}

func TestSigningMessage_CoversEveryField(t *testing.T) {
	base := SigningMessage(sampleCheckpoint())

	tests := []struct {
		name   string
		mutate func(cp *model.Checkpoint)
	}{
		{"id", func(cp *model.Checkpoint) { cp.ID = "cp-2" }},
		{"project", func(cp *model.Checkpoint) { cp.ProjectID = "other" }},
		{"created_at", func(cp *model.Checkpoint) { cp.CreatedAt = cp.CreatedAt.Add(time.Nanosecond) }},
		{"description", func(cp *model.Checkpoint) { cp.Description = "after refactor" }},
		{"kind", func(cp *model.Checkpoint) { cp.Kind = model.KindSafetyBackup }},
		{"snapshot", func(cp *model.Checkpoint) { cp.SnapshotData[0] ^= 0x01 }},
		{"manifest digest", func(cp *model.Checkpoint) { cp.Manifest[0].Digest = "dx" }},
		{"manifest size", func(cp *model.Checkpoint) { cp.Manifest[1].Size = 3 }},
		{"manifest path", func(cp *model.Checkpoint) { cp.Manifest[1].Path = "c.go" }},
		{"manifest entry dropped", func(cp *model.Checkpoint) { cp.Manifest = cp.Manifest[:1] }},
		{"field boundary shift", func(cp *model.Checkpoint) {
			cp.ID = "cp-1p"
			cp.ProjectID = "roj"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cp := sampleCheckpoint()
			tt.mutate(cp)
			if bytes.Equal(base, SigningMessage(cp)) {
				t.Errorf("SigningMessage() unchanged after mutating %s", tt.name)
			}
		})
	}
}

func TestManifestDigest(t *testing.T) {
	empty := ManifestDigest(nil)
	if empty != ManifestDigest(model.Manifest{}) {
		t.Error("nil and empty manifests hash differently")
	}
	one := ManifestDigest(model.Manifest{{Path: "a", Digest: "d", Size: 0}})
	if one == empty {
		t.Error("ManifestDigest() equal for empty and one-entry manifests")
	}
}
