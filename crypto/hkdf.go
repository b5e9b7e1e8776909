package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"go.step.sm/crypto/randutil"
	"golang.org/x/crypto/hkdf"
)

const (
	KeySize         = 16
	SaltLength      = 32
	RequestIdLength = 8
)

const hkdfInfo = "NDNCERT session keys"

// Role selects which derived key a side encrypts with.
type Role int

const (
	Requester Role = iota
	Authority
)

// SessionKey is the encrypted channel of one enrollment.
type SessionKey struct {
	Salt      []byte
	RequestId []byte
	Encrypter *Encrypter
	Decrypter *Decrypter
}

func MakeSalt() ([]byte, error) {
	salt, err := randutil.Salt(SaltLength)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	return salt, nil
}

// MakeRequestId returns a random alphanumeric id. Callers check it against live sessions.
func MakeRequestId() ([]byte, error) {
	requestId, err := randutil.Alphanumeric(RequestIdLength)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	return []byte(requestId), nil
}

// HKDF expands secret into n independent keys of KeySize bytes.
func HKDF(secret []byte, salt []byte, n int) ([][]byte, error) {
	reader := hkdf.New(sha256.New, secret, salt, []byte(hkdfInfo))
	keys := make([][]byte, n)
	for i := range keys {
		keys[i] = make([]byte, KeySize)
		if _, err := io.ReadFull(reader, keys[i]); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
		}
	}
	return keys, nil
}

// DeriveSessionKeys runs ECDH and HKDF. The first derived key protects requester-to-CA messages and the
// second CA-to-requester messages, so one side's Encrypter pairs with the other side's Decrypter.
func DeriveSessionKeys(role Role, state *ECDHState, salt, requestId []byte) (*SessionKey, error) {
	if len(salt) < 8 {
		return nil, fmt.Errorf("%w: salt shorter than 8 bytes", ErrCrypto)
	}
	if len(requestId) == 0 {
		return nil, fmt.Errorf("%w: empty request id", ErrCrypto)
	}
	secret, err := state.SharedSecret()
	if err != nil {
		return nil, err
	}
	keys, err := HKDF(secret, salt, 2)
	if err != nil {
		return nil, err
	}
	outbound, inbound := keys[0], keys[1]
	if role == Authority {
		outbound, inbound = inbound, outbound
	}
	encrypter, err := NewEncrypter(outbound, requestId)
	if err != nil {
		return nil, err
	}
	decrypter, err := NewDecrypter(inbound, requestId)
	if err != nil {
		return nil, err
	}
	return &SessionKey{
		Salt:      append([]byte(nil), salt...),
		RequestId: append([]byte(nil), requestId...),
		Encrypter: encrypter,
		Decrypter: decrypter,
	}, nil
}
