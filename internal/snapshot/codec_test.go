package snapshot

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"ckpt-go/internal/model"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodec()
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func sampleTables() *model.Tables {
	at := time.Date(2024, 3, 1, 9, 0, 0, 123456789, time.UTC)
	tables := model.NewTables("proj-1")
	tables.Phases = []model.Phase{
		{ID: "ph-1", ProjectID: "proj-1", Name: "Design", Position: 1, Status: "done", CreatedAt: at},
		{ID: "ph-2", ProjectID: "proj-1", Name: "Build", Position: 2, Status: "active", CreatedAt: at.Add(time.Hour)},
	}
	tables.Features = []model.Feature{
		{ID: "ft-1", ProjectID: "proj-1", PhaseID: "ph-2", Title: "Login", Description: "OAuth login", Status: "todo", Position: 1, CreatedAt: at, UpdatedAt: at.Add(time.Minute)},
	}
	tables.ChatMessages = []model.ChatMessage{
		{ID: "msg-1", ProjectID: "proj-1", Role: "user", Content: "Add a login page", CreatedAt: at},
		{ID: "msg-2", ProjectID: "proj-1", FeatureID: "ft-1", Role: "assistant", Content: "Done. ✓", CreatedAt: at.Add(time.Second)},
	}
	tables.GeneratedFiles = []model.GeneratedFile{
		{ID: "gf-1", ProjectID: "proj-1", FeatureID: "ft-1", Path: "src/login.go", Digest: "ab12", Size: 42, Language: "go", GeneratedAt: at},
	}
	return tables
}

func TestCodec_RoundTrip(t *testing.T) {
	c := newTestCodec(t)

	tests := []struct {
		name   string
		tables *model.Tables
	}{
		{name: "empty tables", tables: model.NewTables("proj-1")},
		{name: "populated tables", tables: sampleTables()},
		{
			name: "only chat messages",
			tables: func() *model.Tables {
				tb := model.NewTables("proj-1")
				tb.ChatMessages = sampleTables().ChatMessages
				return tb
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := c.Encode(tt.tables)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			got, err := c.Decode(data)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if diff := cmp.Diff(tt.tables, got); diff != "" {
				t.Errorf("Decode(Encode()) mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCodec_RoundTripNormalizes(t *testing.T) {
	c := newTestCodec(t)
	want := sampleTables()

	// Same rows, reversed and in a non-UTC zone.
	zone := time.FixedZone("UTC+5", 5*60*60)
	in := model.NewTables("proj-1")
	for i := len(want.Phases) - 1; i >= 0; i-- {
		p := want.Phases[i]
		p.CreatedAt = p.CreatedAt.In(zone)
		in.Phases = append(in.Phases, p)
	}
	for i := len(want.ChatMessages) - 1; i >= 0; i-- {
		m := want.ChatMessages[i]
		m.CreatedAt = m.CreatedAt.In(zone)
		in.ChatMessages = append(in.ChatMessages, m)
	}
	in.Features = want.Features
	in.GeneratedFiles = nil

	data, err := c.Encode(in)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	got, err := c.Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if diff := cmp.Diff(Canonical(in), got); diff != "" {
		t.Errorf("Decode(Encode()) mismatch with Canonical() (-want +got):\n%s", diff)
	}

	want.GeneratedFiles = []model.GeneratedFile{}
	if diff := cmp.Diff(want, Canonical(in)); diff != "" {
		t.Errorf("Canonical() mismatch (-want +got):\n%s", diff)
	}
	for i, m := range got.ChatMessages {
		if m.CreatedAt.Location() != time.UTC {
			t.Errorf("ChatMessages[%d].CreatedAt location = %v, want UTC", i, m.CreatedAt.Location())
		}
	}
	if diff := cmp.Diff(got, Canonical(got)); diff != "" {
		t.Errorf("Canonical() of decoded tables is not a no-op (-want +got):\n%s", diff)
	}
}

func TestCodec_EncodeDeterministic(t *testing.T) {
	c := newTestCodec(t)

	a := sampleTables()

	// Same rows in a different order and a different time zone.
	b := sampleTables()
	b.Phases[0], b.Phases[1] = b.Phases[1], b.Phases[0]
	b.ChatMessages[0], b.ChatMessages[1] = b.ChatMessages[1], b.ChatMessages[0]
	loc := time.FixedZone("UTC+5", 5*60*60)
	b.Features[0].CreatedAt = b.Features[0].CreatedAt.In(loc)

	dataA, err := c.Encode(a)
	if err != nil {
		t.Fatalf("Encode(a) error = %v", err)
	}
	dataB, err := c.Encode(b)
	if err != nil {
		t.Fatalf("Encode(b) error = %v", err)
	}
	if !bytes.Equal(dataA, dataB) {
		t.Error("Encode() produced different bytes for the same logical state")
	}

	again, err := c.Encode(a)
	if err != nil {
		t.Fatalf("Encode(a) error = %v", err)
	}
	if !bytes.Equal(dataA, again) {
		t.Error("Encode() is not stable across calls")
	}
}

func TestCodec_EncodeDoesNotModifyInput(t *testing.T) {
	c := newTestCodec(t)

	tables := sampleTables()
	tables.Phases[0], tables.Phases[1] = tables.Phases[1], tables.Phases[0]
	before := tables.Phases[0].ID

	if _, err := c.Encode(tables); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if tables.Phases[0].ID != before {
		t.Errorf("Phases[0].ID = %q after Encode, want %q", tables.Phases[0].ID, before)
	}
}

func TestCodec_EncodeRejectsMissingProject(t *testing.T) {
	c := newTestCodec(t)

	if _, err := c.Encode(nil); err == nil {
		t.Error("Encode(nil) expected error")
	}
	if _, err := c.Encode(&model.Tables{}); err == nil {
		t.Error("Encode() with empty project id expected error")
	}
}

func TestCodec_DecodeErrors(t *testing.T) {
	c := newTestCodec(t)

	valid, err := c.Encode(sampleTables())
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	frame := func(body string) []byte {
		return c.encoder.EncodeAll([]byte(body), append([]byte(nil), magic...))
	}

	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "bad magic", data: append([]byte("XXXX"), valid[4:]...)},
		{name: "magic only", data: magic},
		{name: "truncated", data: valid[:len(valid)-5]},
		{name: "not json", data: frame("not json")},
		{name: "unknown version", data: frame(`{"version":2,"project_id":"p","tables":{}}`)},
		{name: "missing version", data: frame(`{"project_id":"p","tables":{}}`)},
		{name: "missing project", data: frame(`{"version":1,"tables":{}}`)},
		{name: "missing tables", data: frame(`{"version":1,"project_id":"p"}`)},
		{name: "trailing data", data: frame(`{"version":1,"project_id":"p","tables":{}} {}`)},
		{name: "unknown table", data: frame(`{"version":1,"project_id":"p","tables":{"users":[]}}`)},
		{name: "unknown column", data: frame(`{"version":1,"project_id":"p","tables":{"phases":[{"id":"a","project_id":"p","name":"n","created_at":"2024-01-01T00:00:00Z","color":"red"}]}}`)},
		{name: "phase without name", data: frame(`{"version":1,"project_id":"p","tables":{"phases":[{"id":"a","project_id":"p","created_at":"2024-01-01T00:00:00Z"}]}}`)},
		{name: "row for other project", data: frame(`{"version":1,"project_id":"p","tables":{"phases":[{"id":"a","project_id":"q","name":"n","created_at":"2024-01-01T00:00:00Z"}]}}`)},
		{name: "bad chat role", data: frame(`{"version":1,"project_id":"p","tables":{"chat_messages":[{"id":"m","project_id":"p","role":"robot","content":"x","created_at":"2024-01-01T00:00:00Z"}]}}`)},
		{name: "duplicate ids", data: frame(`{"version":1,"project_id":"p","tables":{"phases":[{"id":"a","project_id":"p","name":"n","created_at":"2024-01-01T00:00:00Z"},{"id":"a","project_id":"p","name":"m","created_at":"2024-01-01T00:00:00Z"}]}}`)},
		{name: "escaping file path", data: frame(`{"version":1,"project_id":"p","tables":{"generated_files":[{"id":"g","project_id":"p","path":"../etc/passwd","digest":"d","size":1,"generated_at":"2024-01-01T00:00:00Z"}]}}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Decode(tt.data)
			if err == nil {
				t.Fatal("Decode() expected error")
			}
			if !IsDecodeError(err) {
				t.Errorf("Decode() error = %T, want *DecodeError", err)
			}
			if got != nil {
				t.Errorf("Decode() returned tables %+v on error, want nil", got)
			}
		})
	}
}

func TestCodec_DecodeAcceptsNullTables(t *testing.T) {
	c := newTestCodec(t)

	data := c.encoder.EncodeAll([]byte(`{"version":1,"project_id":"p","tables":{"phases":null}}`), append([]byte(nil), magic...))
	got, err := c.Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if diff := cmp.Diff(model.NewTables("p"), got); diff != "" {
		t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
	}
}
