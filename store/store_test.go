package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	enc "github.com/zjkmxy/go-ndn/pkg/encoding"

	"github.com/UCLA-IRL/go-ndncert/security"
)

func newCert(t *testing.T) *security.Certificate {
	key, err := security.GenerateKey()
	require.NoError(t, err)
	id, _ := enc.NameFromStr("/ndn/edu/ucla/alice")
	cert, err := security.MakeSelfSignedCertificate(security.MakeKeyName(id), key, security.NewValidityPeriod(time.Now(), time.Hour))
	require.NoError(t, err)
	return cert
}

func testStore(t *testing.T, s CertStore) {
	cert := newCert(t)
	_, err := s.Get(cert.Name())
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Insert(cert))
	got, err := s.Get(cert.Name())
	require.NoError(t, err)
	require.Equal(t, cert.Wire(), got.Wire())

	got, err = s.Get(cert.FullName())
	require.NoError(t, err)
	require.True(t, got.FullName().Equal(cert.FullName()))

	wrongDigest := security.Append(cert.Name(), enc.NewBytesComponent(enc.TypeImplicitSha256DigestComponent, make([]byte, 32)))
	_, err = s.Get(wrongDigest)
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, s.Close())
}

func TestMemStore(t *testing.T) {
	testStore(t, NewMemStore())
}

func TestBoltStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "certs.db")
	s, err := NewBoltStore(path)
	require.NoError(t, err)
	testStore(t, s)

	// Records survive reopening.
	s, err = NewBoltStore(path)
	require.NoError(t, err)
	cert := newCert(t)
	require.NoError(t, s.Insert(cert))
	require.NoError(t, s.Close())
	s, err = NewBoltStore(path)
	require.NoError(t, err)
	got, err := s.Get(cert.FullName())
	require.NoError(t, err)
	require.True(t, got.SamePublicKey(cert.PublicKey()))
	require.NoError(t, s.Close())
}
