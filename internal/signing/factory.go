package signing

import (
	"fmt"

	"ckpt-go/internal/ckpt"
	"ckpt-go/internal/config"
)

// NewKeyStoreFromConfig creates a KeyStore based on the configuration type.
// The verifying key is never configurable; see Trusted.
func NewKeyStoreFromConfig(cfg config.SigningConfig) (ckpt.KeyStore, error) {
	switch cfg.Type {
	case "age", "":
		return NewAgeKeyStore(cfg), nil
	default:
		return nil, fmt.Errorf("unknown signing type: %q", cfg.Type)
	}
}
