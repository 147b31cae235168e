package vault

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"ckpt-go/internal/ckpt"
)

// MemoryVault is an in-memory implementation of the Vault interface.
// It is useful for testing and is safe for concurrent use.
type MemoryVault struct {
	name    string
	content map[string][]byte // digest -> body
	mu      sync.RWMutex
}

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:    name,
		content: make(map[string][]byte),
	}
}

// PutContent stores content identified by its digest.
func (m *MemoryVault) PutContent(ctx context.Context, digest string, r io.Reader, size int64) error {
	if err := checkDigest(digest); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.content[digest] = data
	return nil
}

// GetContent retrieves content by digest.
func (m *MemoryVault) GetContent(ctx context.Context, digest string, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	data, ok := m.content[digest]
	m.mu.RUnlock()
	if !ok {
		return notFound(digest)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	return nil
}

func (m *MemoryVault) HasContent(ctx context.Context, digest string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.content[digest]
	return ok, nil
}

func (m *MemoryVault) DeleteContent(ctx context.Context, digest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.content, digest)
	return nil
}

// ListContent returns the stored digests in sorted order.
func (m *MemoryVault) ListContent(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.content))
	for d := range m.content {
		out = append(out, d)
	}
	sort.Strings(out)
	return out, nil
}

// Len returns the number of stored bodies.
func (m *MemoryVault) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.content)
}

// ValidateSetup always succeeds for in-memory vault.
func (m *MemoryVault) ValidateSetup(ctx context.Context) error {
	return nil
}

// Compile-time check that MemoryVault implements ckpt.Vault interface
var _ ckpt.Vault = (*MemoryVault)(nil)
