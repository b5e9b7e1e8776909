// Package crypto derives and runs the encrypted channel an NDNCERT requester and CA share for the
// CHALLENGE step.
package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"fmt"
)

var ErrCrypto = errors.New("session crypto error")

// ECDHState holds one side of the P-256 key agreement.
type ECDHState struct {
	RemotePublicKey *ecdh.PublicKey
	PublicKey       *ecdh.PublicKey
	privateKey      *ecdh.PrivateKey
}

// NewECDHState generates a fresh ephemeral key pair.
func NewECDHState() (*ECDHState, error) {
	privateKey, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	return &ECDHState{PublicKey: privateKey.PublicKey(), privateKey: privateKey}, nil
}

// PublicKeyBytes is the uncompressed point carried in the EcdhPub field.
func (e *ECDHState) PublicKeyBytes() []byte {
	return e.PublicKey.Bytes()
}

func (e *ECDHState) SetRemotePublicKey(pubKey []byte) error {
	remotePubKey, err := ecdh.P256().NewPublicKey(pubKey)
	if err != nil {
		return fmt.Errorf("%w: malformed remote public key: %v", ErrCrypto, err)
	}
	e.RemotePublicKey = remotePubKey
	return nil
}

func (e *ECDHState) SharedSecret() ([]byte, error) {
	if e.RemotePublicKey == nil {
		return nil, fmt.Errorf("%w: remote public key not set", ErrCrypto)
	}
	sharedSecret, err := e.privateKey.ECDH(e.RemotePublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	return sharedSecret, nil
}
