package ckpt

import "ckpt-go/internal/model"

// Codec serializes the tracked tables into a checkpoint payload.
// Encode must be deterministic: equal table sets produce equal bytes.
// Decode is all-or-nothing: on error it returns nil tables.
type Codec interface {
	Encode(tables *model.Tables) ([]byte, error)
	Decode(data []byte) (*model.Tables, error)
}

// Signer produces signatures for new checkpoints.
// Only processes authorized to create checkpoints hold one.
type Signer interface {
	Sign(message []byte) ([]byte, error)
}

// Verifier checks checkpoint signatures. It never errors: malformed input
// simply fails verification.
type Verifier interface {
	Verify(message, signature []byte) bool
}

// KeyStore holds the private signing key at rest.
// Setup and Unlock require a passphrase; the unlocked Signer lives in memory
// only and is never written back to disk.
type KeyStore interface {
	// Setup generates a new key pair, stores the private key encrypted with
	// the passphrase, and returns the public key to be compiled into the
	// binary as the trusted key.
	Setup(passphrase string) (publicKey []byte, err error)

	// Unlock decrypts the private key and returns a Signer for the session.
	// Returns an error if the passphrase is incorrect.
	Unlock(passphrase string) (Signer, error)

	// IsConfigured returns true if a private key exists at the configured path.
	IsConfigured() bool
}
