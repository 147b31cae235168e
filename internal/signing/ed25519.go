// Package signing signs and verifies checkpoints with Ed25519.
package signing

import (
	"crypto/ed25519"
	"errors"

	"ckpt-go/internal/ckpt"
)

// Sign signs message with priv.
func Sign(priv ed25519.PrivateKey, message []byte) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid private key length")
	}
	return ed25519.Sign(priv, message), nil
}

// Verify reports whether sig is a valid signature of message by pub.
// Keys or signatures of the wrong length fail verification.
func Verify(pub ed25519.PublicKey, message, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, message, sig)
}

// KeySigner implements ckpt.Signer with an in-memory private key.
type KeySigner struct {
	priv ed25519.PrivateKey
}

var _ ckpt.Signer = (*KeySigner)(nil)

// NewKeySigner creates a KeySigner.
func NewKeySigner(priv ed25519.PrivateKey) (*KeySigner, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid private key length")
	}
	return &KeySigner{priv: priv}, nil
}

func (s *KeySigner) Sign(message []byte) ([]byte, error) {
	return Sign(s.priv, message)
}

// PublicKey returns the key that verifies this signer's signatures.
func (s *KeySigner) PublicKey() ed25519.PublicKey {
	return s.priv.Public().(ed25519.PublicKey)
}

// KeyVerifier implements ckpt.Verifier with a fixed public key.
type KeyVerifier struct {
	pub ed25519.PublicKey
}

var _ ckpt.Verifier = (*KeyVerifier)(nil)

// NewKeyVerifier creates a KeyVerifier. A malformed key yields a verifier
// that rejects every signature.
func NewKeyVerifier(pub ed25519.PublicKey) *KeyVerifier {
	return &KeyVerifier{pub: pub}
}

func (v *KeyVerifier) Verify(message, sig []byte) bool {
	return Verify(v.pub, message, sig)
}
