package security

import (
	"crypto/ecdsa"
	"encoding/pem"
	"fmt"
	"os"

	"go.step.sm/crypto/keyutil"
	"go.step.sm/crypto/pemutil"
)

// GenerateKey creates a P-256 key.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	key, err := keyutil.GenerateKey("EC", "P-256", 0)
	if err != nil {
		return nil, err
	}
	ecKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unexpected key type %T", key)
	}
	return ecKey, nil
}

// LoadPrivateKey reads a PEM encoded ECDSA private key.
func LoadPrivateKey(path string) (*ecdsa.PrivateKey, error) {
	key, err := pemutil.Read(path)
	if err != nil {
		return nil, err
	}
	ecKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%s: unsupported key type %T", path, key)
	}
	return ecKey, nil
}

// SavePrivateKey writes key to path as PEM, readable only by the owner.
func SavePrivateKey(path string, key *ecdsa.PrivateKey) error {
	block, err := pemutil.Serialize(key)
	if err != nil {
		return err
	}
	return os.WriteFile(path, pem.EncodeToMemory(block), 0o600)
}

// LoadOrCreatePrivateKey loads the key at path, generating and saving one when the file does not exist.
func LoadOrCreatePrivateKey(path string) (*ecdsa.PrivateKey, bool, error) {
	if _, statError := os.Stat(path); statError == nil {
		key, err := LoadPrivateKey(path)
		return key, false, err
	} else if !os.IsNotExist(statError) {
		return nil, false, statError
	}
	key, err := GenerateKey()
	if err != nil {
		return nil, false, err
	}
	return key, true, SavePrivateKey(path, key)
}
