package signing

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"

	"ckpt-go/internal/ckpt"
	"ckpt-go/internal/config"
)

// AgeKeyStore implements ckpt.KeyStore. The Ed25519 seed is encrypted with
// the user's passphrase using age's scrypt-based passphrase encryption. The
// public key is written next to it in plaintext in trusted.pub format.
type AgeKeyStore struct {
	publicKeyPath  string
	privateKeyPath string
}

var _ ckpt.KeyStore = (*AgeKeyStore)(nil)

// NewAgeKeyStore creates a new AgeKeyStore from configuration.
func NewAgeKeyStore(cfg config.SigningConfig) *AgeKeyStore {
	return &AgeKeyStore{
		publicKeyPath:  cfg.PublicKeyPath,
		privateKeyPath: cfg.PrivateKeyPath,
	}
}

// Setup generates a new key pair and stores it. An existing private key is
// never overwritten.
func (k *AgeKeyStore) Setup(passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase must not be empty")
	}
	if _, err := os.Stat(k.privateKeyPath); err == nil {
		return nil, fmt.Errorf("private key already exists: %s", k.privateKeyPath)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating key pair: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(k.privateKeyPath), 0700); err != nil {
		return nil, fmt.Errorf("creating private key directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(k.publicKeyPath), 0700); err != nil {
		return nil, fmt.Errorf("creating public key directory: %w", err)
	}

	privFile, err := os.OpenFile(k.privateKeyPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("creating private key file: %w", err)
	}
	defer privFile.Close()

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt recipient: %w", err)
	}

	w, err := age.Encrypt(privFile, recipient)
	if err != nil {
		return nil, fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.WriteString(w, hex.EncodeToString(priv.Seed())+"\n"); err != nil {
		return nil, fmt.Errorf("writing encrypted private key: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing encrypted private key: %w", err)
	}

	if err := os.WriteFile(k.publicKeyPath, []byte(FormatPublicKey(pub)), 0644); err != nil {
		return nil, fmt.Errorf("writing public key: %w", err)
	}

	return pub, nil
}

// Unlock decrypts the private key using the passphrase.
func (k *AgeKeyStore) Unlock(passphrase string) (ckpt.Signer, error) {
	privData, err := os.ReadFile(k.privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key file: %w", err)
	}

	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}

	decReader, err := age.Decrypt(bytes.NewReader(privData), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting private key: %w", err)
	}

	keyData, err := io.ReadAll(decReader)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted private key: %w", err)
	}

	seed, err := hex.DecodeString(strings.TrimSpace(string(keyData)))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("private key seed is %d bytes, want %d", len(seed), ed25519.SeedSize)
	}

	return NewKeySigner(ed25519.NewKeyFromSeed(seed))
}

// IsConfigured returns true if the private key file exists.
func (k *AgeKeyStore) IsConfigured() bool {
	_, err := os.Stat(k.privateKeyPath)
	return err == nil
}
