package signing

import (
	"crypto/ed25519"
	_ "embed"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
)

// trustedKeyHex is the hex encoded public key that every checkpoint must
// verify against. It is replaced at build time with the output of
// `ckpt keys init --trusted-out internal/signing/trusted.pub`.
//
//go:embed trusted.pub
var trustedKeyHex string

var trustedKey = sync.OnceValues(func() (ed25519.PublicKey, error) {
	return ParsePublicKey(trustedKeyHex)
})

// TrustedPublicKey returns the compiled-in public key.
func TrustedPublicKey() (ed25519.PublicKey, error) {
	return trustedKey()
}

// Trusted returns a verifier for the compiled-in public key. If the
// embedded key is malformed every checkpoint fails verification.
func Trusted() *KeyVerifier {
	pub, err := trustedKey()
	if err != nil {
		return NewKeyVerifier(nil)
	}
	return NewKeyVerifier(pub)
}

// ParsePublicKey decodes a hex encoded Ed25519 public key.
// Surrounding whitespace and '#' comment lines are ignored.
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	var keyHex string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keyHex = line
		break
	}
	b, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decoding public key: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key is %d bytes, want %d", len(b), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(b), nil
}

// FormatPublicKey encodes a public key in the trusted.pub file format.
func FormatPublicKey(pub ed25519.PublicKey) string {
	return "# ckpt trusted checkpoint signing key (Ed25519)\n" + hex.EncodeToString(pub) + "\n"
}
