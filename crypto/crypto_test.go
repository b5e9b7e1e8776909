package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func handshake(t *testing.T, requesterSalt, caSalt, requesterId, caId []byte) (*SessionKey, *SessionKey) {
	requester, err := NewECDHState()
	require.NoError(t, err)
	authority, err := NewECDHState()
	require.NoError(t, err)
	require.NoError(t, requester.SetRemotePublicKey(authority.PublicKeyBytes()))
	require.NoError(t, authority.SetRemotePublicKey(requester.PublicKeyBytes()))

	requesterKey, err := DeriveSessionKeys(Requester, requester, requesterSalt, requesterId)
	require.NoError(t, err)
	authorityKey, err := DeriveSessionKeys(Authority, authority, caSalt, caId)
	require.NoError(t, err)
	return requesterKey, authorityKey
}

func TestSessionKeysAreComplementary(t *testing.T) {
	salt, err := MakeSalt()
	require.NoError(t, err)
	requestId, err := MakeRequestId()
	require.NoError(t, err)
	require.Len(t, requestId, RequestIdLength)

	requester, authority := handshake(t, salt, salt, requestId, requestId)

	msg, err := requester.Encrypter.Encrypt([]byte("selected challenge"))
	require.NoError(t, err)
	plain, err := authority.Decrypter.Decrypt(msg)
	require.NoError(t, err)
	require.Equal(t, "selected challenge", string(plain))

	reply, err := authority.Encrypter.Encrypt([]byte("need-code"))
	require.NoError(t, err)
	plain, err = requester.Decrypter.Decrypt(reply)
	require.NoError(t, err)
	require.Equal(t, "need-code", string(plain))

	// A side cannot open its own outbound traffic.
	_, err = requester.Decrypter.Decrypt(msg)
	require.ErrorIs(t, err, ErrCrypto)
}

func TestSessionKeysBoundToSaltAndRequestId(t *testing.T) {
	salt, _ := MakeSalt()
	otherSalt, _ := MakeSalt()

	requester, authority := handshake(t, salt, otherSalt, []byte("abcd1234"), []byte("abcd1234"))
	msg, err := requester.Encrypter.Encrypt([]byte("x"))
	require.NoError(t, err)
	_, err = authority.Decrypter.Decrypt(msg)
	require.ErrorIs(t, err, ErrCrypto)

	requester, authority = handshake(t, salt, salt, []byte("abcd1234"), []byte("zzzz1234"))
	msg, err = requester.Encrypter.Encrypt([]byte("x"))
	require.NoError(t, err)
	_, err = authority.Decrypter.Decrypt(msg)
	require.ErrorIs(t, err, ErrCrypto)
}

func TestEncrypterCounterAdvances(t *testing.T) {
	key := make([]byte, KeySize)
	e, err := NewEncrypter(key, []byte("id"))
	require.NoError(t, err)
	a, err := e.Encrypt(nil)
	require.NoError(t, err)
	b, err := e.Encrypt(nil)
	require.NoError(t, err)
	require.Equal(t, a.InitializationVector[:8], b.InitializationVector[:8])
	require.NotEqual(t, a.InitializationVector, b.InitializationVector)
	require.Len(t, a.EncryptedPayload, TagSizeBytes)
}

func TestMalformedRemoteKey(t *testing.T) {
	state, err := NewECDHState()
	require.NoError(t, err)
	require.ErrorIs(t, state.SetRemotePublicKey([]byte{4, 1, 2, 3}), ErrCrypto)
	_, err = DeriveSessionKeys(Requester, state, make([]byte, 8), []byte("id"))
	require.ErrorIs(t, err, ErrCrypto)
}
