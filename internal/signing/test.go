package signing

import (
	"crypto/ed25519"
	"crypto/sha256"

	"ckpt-go/internal/ckpt"
)

// testSeed derives the well-known test key. Signatures made with it carry
// no authority: the trusted key compiled into the binary never matches it.
var testSeed = sha256.Sum256([]byte("ckpt test signing key"))

// TestKeyStore is a deterministic key store for testing. It needs no files
// and accepts any passphrase.
type TestKeyStore struct {
	setupCalled bool
}

var _ ckpt.KeyStore = (*TestKeyStore)(nil)

// NewTestKeyStore creates a new TestKeyStore.
func NewTestKeyStore() *TestKeyStore {
	return &TestKeyStore{}
}

func (k *TestKeyStore) Setup(passphrase string) ([]byte, error) {
	k.setupCalled = true
	return TestPublicKey(), nil
}

func (k *TestKeyStore) Unlock(passphrase string) (ckpt.Signer, error) {
	return NewKeySigner(TestPrivateKey())
}

func (k *TestKeyStore) IsConfigured() bool {
	return true
}

// TestPrivateKey returns the deterministic test private key.
func TestPrivateKey() ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(testSeed[:])
}

// TestPublicKey returns the public half of TestPrivateKey.
func TestPublicKey() ed25519.PublicKey {
	return TestPrivateKey().Public().(ed25519.PublicKey)
}

// TestVerifier returns a verifier for the test key.
func TestVerifier() *KeyVerifier {
	return NewKeyVerifier(TestPublicKey())
}
