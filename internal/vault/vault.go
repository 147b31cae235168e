// Package vault provides content-addressed storage for generated file bodies.
// Bodies are keyed by the lowercase hex SHA-256 of their content.
package vault

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// ErrContentNotFound is returned by GetContent for an unknown digest.
var ErrContentNotFound = errors.New("content not found")

// checkDigest rejects anything that is not a lowercase hex SHA-256, which also
// keeps digests safe to use as file names and object keys.
func checkDigest(digest string) error {
	if len(digest) != 64 {
		return fmt.Errorf("invalid digest %q: want 64 hex characters", digest)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return fmt.Errorf("invalid digest %q: %w", digest, err)
	}
	for _, c := range digest {
		if c >= 'A' && c <= 'F' {
			return fmt.Errorf("invalid digest %q: must be lowercase", digest)
		}
	}
	return nil
}

func notFound(digest string) error {
	return fmt.Errorf("%w: %s", ErrContentNotFound, digest)
}

// countingReader counts the bytes read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
