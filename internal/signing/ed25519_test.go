package signing

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
)

func TestSignVerify_RoundTrip(t *testing.T) {
	t.Parallel()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}

	tests := []struct {
		name    string
		message []byte
	}{
		{name: "empty", message: []byte{}},
		{name: "text", message: []byte("checkpoint payload")},
		{name: "binary", message: []byte{0x00, 0xff, 0x01, 0xfe}},
		{name: "large", message: bytes.Repeat([]byte("abcdef"), 10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := Sign(priv, tt.message)
			if err != nil {
				t.Fatalf("Sign() error = %v", err)
			}
			if !Verify(pub, tt.message, sig) {
				t.Error("Verify() = false for a valid signature")
			}
		})
	}
}

func TestVerify_SingleBitMutation(t *testing.T) {
	t.Parallel()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	message := []byte("phases=2 features=1 chat=2 files=1")
	sig, err := Sign(priv, message)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	for i := 0; i < len(message)*8; i++ {
		mutated := bytes.Clone(message)
		mutated[i/8] ^= 1 << (i % 8)
		if Verify(pub, mutated, sig) {
			t.Fatalf("Verify() = true after flipping message bit %d", i)
		}
	}

	for i := 0; i < len(sig)*8; i++ {
		mutated := bytes.Clone(sig)
		mutated[i/8] ^= 1 << (i % 8)
		if Verify(pub, message, mutated) {
			t.Fatalf("Verify() = true after flipping signature bit %d", i)
		}
	}
}

func TestVerify_MalformedInputs(t *testing.T) {
	t.Parallel()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	message := []byte("payload")
	sig, err := Sign(priv, message)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	tests := []struct {
		name string
		pub  ed25519.PublicKey
		sig  []byte
	}{
		{name: "nil key", pub: nil, sig: sig},
		{name: "short key", pub: pub[:16], sig: sig},
		{name: "long key", pub: append(bytes.Clone(pub), 0x00), sig: sig},
		{name: "nil signature", pub: pub, sig: nil},
		{name: "short signature", pub: pub, sig: sig[:63]},
		{name: "long signature", pub: pub, sig: append(bytes.Clone(sig), 0x00)},
		{name: "zero key", pub: make([]byte, ed25519.PublicKeySize), sig: sig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if Verify(tt.pub, message, tt.sig) {
				t.Error("Verify() = true, want false")
			}
		})
	}
}

func TestSign_InvalidKey(t *testing.T) {
	t.Parallel()

	if _, err := Sign(ed25519.PrivateKey{1, 2, 3}, []byte("x")); err == nil {
		t.Error("Sign() with short key expected error")
	}
	if _, err := NewKeySigner(nil); err == nil {
		t.Error("NewKeySigner(nil) expected error")
	}
}

func TestKeySigner_KeyVerifier(t *testing.T) {
	t.Parallel()

	signer, err := NewKeySigner(TestPrivateKey())
	if err != nil {
		t.Fatalf("NewKeySigner() error = %v", err)
	}
	verifier := NewKeyVerifier(signer.PublicKey())

	sig, err := signer.Sign([]byte("hello"))
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if !verifier.Verify([]byte("hello"), sig) {
		t.Error("Verify() = false for own signature")
	}

	other, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	if NewKeyVerifier(other).Verify([]byte("hello"), sig) {
		t.Error("Verify() = true with a different public key")
	}
}
