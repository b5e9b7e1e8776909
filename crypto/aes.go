package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

const (
	NonceSizeBytes = 12
	TagSizeBytes   = 16
)

// EncryptedMessage is the content of a CipherMsg. EncryptedPayload carries the authentication tag at its end.
type EncryptedMessage struct {
	InitializationVector []byte
	EncryptedPayload     []byte
}

// Encrypter seals payloads with AES-GCM, using the request id as additional data.
// The IV is 64 random bits followed by a 32-bit big-endian counter.
type Encrypter struct {
	aead      cipher.AEAD
	requestId []byte

	mu      sync.Mutex
	random  [8]byte
	counter uint32
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes", ErrCrypto, KeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	return aead, nil
}

func NewEncrypter(key, requestId []byte) (*Encrypter, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	e := &Encrypter{aead: aead, requestId: requestId}
	if _, err := io.ReadFull(rand.Reader, e.random[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	return e, nil
}

func (e *Encrypter) Encrypt(plaintext []byte) (*EncryptedMessage, error) {
	e.mu.Lock()
	if e.counter == ^uint32(0) {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: IV counter exhausted", ErrCrypto)
	}
	iv := make([]byte, NonceSizeBytes)
	copy(iv, e.random[:])
	binary.BigEndian.PutUint32(iv[8:], e.counter)
	e.counter++
	e.mu.Unlock()

	return &EncryptedMessage{
		InitializationVector: iv,
		EncryptedPayload:     e.aead.Seal(nil, iv, plaintext, e.requestId),
	}, nil
}

// Decrypter opens payloads sealed by the peer's Encrypter.
type Decrypter struct {
	aead      cipher.AEAD
	requestId []byte
}

func NewDecrypter(key, requestId []byte) (*Decrypter, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	return &Decrypter{aead: aead, requestId: requestId}, nil
}

func (d *Decrypter) Decrypt(message *EncryptedMessage) ([]byte, error) {
	if len(message.InitializationVector) != NonceSizeBytes {
		return nil, fmt.Errorf("%w: IV must be %d bytes", ErrCrypto, NonceSizeBytes)
	}
	if len(message.EncryptedPayload) < TagSizeBytes {
		return nil, fmt.Errorf("%w: payload shorter than the authentication tag", ErrCrypto)
	}
	plaintext, err := d.aead.Open(nil, message.InitializationVector, message.EncryptedPayload, d.requestId)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	return plaintext, nil
}
