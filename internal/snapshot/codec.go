// Package snapshot encodes the tracked project tables into the payload stored
// with a checkpoint.
//
// A payload is the 4 byte magic "CKS\x01" followed by one zstd frame holding
// canonical JSON:
//
//	{"version":1,"project_id":"...","tables":{"phases":[...],"features":[...],
//	 "chat_messages":[...],"generated_files":[...]}}
//
// Rows are sorted by id and times are normalized to UTC, so the same logical
// state always produces the same bytes.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/klauspost/compress/zstd"

	"ckpt-go/internal/model"
)

// Version is the payload schema version written by Encode.
const Version = 1

// maxDecodedSize bounds decompression of untrusted payloads.
const maxDecodedSize = 1 << 30

var magic = []byte("CKS\x01")

// DecodeError reports why a payload was rejected.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decoding snapshot: %s: %v", e.Reason, e.Err)
	}
	return "decoding snapshot: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsDecodeError reports whether err is or wraps a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

type envelope struct {
	Version   int             `json:"version"`
	ProjectID string          `json:"project_id"`
	Tables    json.RawMessage `json:"tables"`
}

type tableSet struct {
	Phases         []model.Phase         `json:"phases"`
	Features       []model.Feature       `json:"features"`
	ChatMessages   []model.ChatMessage   `json:"chat_messages"`
	GeneratedFiles []model.GeneratedFile `json:"generated_files"`
}

// Codec implements ckpt.Codec. It is safe for concurrent use.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCodec creates a Codec.
func NewCodec() (*Codec, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(maxDecodedSize),
	)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &Codec{encoder: enc, decoder: dec}, nil
}

// Close releases the decoder's resources.
func (c *Codec) Close() {
	c.decoder.Close()
	c.encoder.Close()
}

// Encode serializes tables into a payload.
// It encodes the canonical form of its input, so Decode(Encode(t)) equals
// Canonical(t) and equals t only when t is already canonical. The input is
// not modified.
func (c *Codec) Encode(tables *model.Tables) ([]byte, error) {
	if tables == nil {
		return nil, errors.New("encoding snapshot: nil tables")
	}
	if tables.ProjectID == "" {
		return nil, errors.New("encoding snapshot: empty project id")
	}

	set := canonical(tables)
	rawTables, err := json.Marshal(set)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot tables: %w", err)
	}
	body, err := json.Marshal(envelope{
		Version:   Version,
		ProjectID: tables.ProjectID,
		Tables:    rawTables,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}

	out := make([]byte, 0, len(magic)+len(body)/4)
	out = append(out, magic...)
	return c.encoder.EncodeAll(body, out), nil
}

// Decode parses a payload. On any error the returned tables are nil and the
// error is a *DecodeError.
func (c *Codec) Decode(data []byte) (*model.Tables, error) {
	if len(data) < len(magic) || !bytes.Equal(data[:len(magic)], magic) {
		return nil, &DecodeError{Reason: "bad magic"}
	}

	body, err := c.decoder.DecodeAll(data[len(magic):], nil)
	if err != nil {
		return nil, &DecodeError{Reason: "corrupt or truncated payload", Err: err}
	}

	var head struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return nil, &DecodeError{Reason: "malformed envelope", Err: err}
	}
	if head.Version != Version {
		return nil, &DecodeError{Reason: fmt.Sprintf("unknown schema version %d", head.Version)}
	}

	var env envelope
	if err := decodeStrict(body, &env); err != nil {
		return nil, &DecodeError{Reason: "malformed envelope", Err: err}
	}
	if env.ProjectID == "" {
		return nil, &DecodeError{Reason: "missing project_id"}
	}
	if len(env.Tables) == 0 {
		return nil, &DecodeError{Reason: "missing tables"}
	}

	var set tableSet
	if err := decodeStrict(env.Tables, &set); err != nil {
		return nil, &DecodeError{Reason: "malformed tables", Err: err}
	}

	tables := &model.Tables{
		ProjectID:      env.ProjectID,
		Phases:         nonNil(set.Phases),
		Features:       nonNil(set.Features),
		ChatMessages:   nonNil(set.ChatMessages),
		GeneratedFiles: nonNil(set.GeneratedFiles),
	}
	if err := Validate(tables); err != nil {
		return nil, &DecodeError{Reason: "invalid row", Err: err}
	}
	return tables, nil
}

// decodeStrict unmarshals exactly one JSON value, rejecting unknown fields
// and trailing data.
func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("trailing data after JSON value")
	}
	return nil
}

// Canonical returns a copy of t with every table sorted by id, times in UTC
// and nil tables replaced by empty ones. Tables read back from the store are
// already canonical.
func Canonical(t *model.Tables) *model.Tables {
	set := canonical(t)
	return &model.Tables{
		ProjectID:      t.ProjectID,
		Phases:         set.Phases,
		Features:       set.Features,
		ChatMessages:   set.ChatMessages,
		GeneratedFiles: set.GeneratedFiles,
	}
}

// canonical returns a sorted, UTC-normalized copy of the tables.
func canonical(t *model.Tables) tableSet {
	set := tableSet{
		Phases:         slices.Clone(nonNil(t.Phases)),
		Features:       slices.Clone(nonNil(t.Features)),
		ChatMessages:   slices.Clone(nonNil(t.ChatMessages)),
		GeneratedFiles: slices.Clone(nonNil(t.GeneratedFiles)),
	}

	for i := range set.Phases {
		set.Phases[i].CreatedAt = set.Phases[i].CreatedAt.UTC()
	}
	for i := range set.Features {
		set.Features[i].CreatedAt = set.Features[i].CreatedAt.UTC()
		set.Features[i].UpdatedAt = set.Features[i].UpdatedAt.UTC()
	}
	for i := range set.ChatMessages {
		set.ChatMessages[i].CreatedAt = set.ChatMessages[i].CreatedAt.UTC()
	}
	for i := range set.GeneratedFiles {
		set.GeneratedFiles[i].GeneratedAt = set.GeneratedFiles[i].GeneratedAt.UTC()
	}

	slices.SortFunc(set.Phases, func(a, b model.Phase) int { return strings.Compare(a.ID, b.ID) })
	slices.SortFunc(set.Features, func(a, b model.Feature) int { return strings.Compare(a.ID, b.ID) })
	slices.SortFunc(set.ChatMessages, func(a, b model.ChatMessage) int { return strings.Compare(a.ID, b.ID) })
	slices.SortFunc(set.GeneratedFiles, func(a, b model.GeneratedFile) int { return strings.Compare(a.ID, b.ID) })
	return set
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
