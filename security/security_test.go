package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	enc "github.com/zjkmxy/go-ndn/pkg/encoding"
	"github.com/zjkmxy/go-ndn/pkg/ndn"
	"github.com/zjkmxy/go-ndn/pkg/ndn/spec_2022"
	"github.com/zjkmxy/go-ndn/pkg/utils"
)

func newKey(t *testing.T) *ecdsa.PrivateKey {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

func TestValidityIntersect(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := NewValidityPeriod(base, 10*time.Hour)
	b := NewValidityPeriod(base.Add(2*time.Hour), 20*time.Hour)
	got := a.Intersect(b)
	require.True(t, got.Equal(ValidityPeriod{NotBefore: base.Add(2 * time.Hour), NotAfter: base.Add(10 * time.Hour)}))
	require.True(t, got.Intersect(b).Equal(got))

	c := NewValidityPeriod(base.Add(11*time.Hour), time.Hour)
	require.True(t, a.Intersect(c).IsEmpty())
	require.False(t, a.Intersect(c).Includes(base.Add(11*time.Hour)))
}

func TestValiditySecondsStaysInside(t *testing.T) {
	v := ValidityPeriod{
		NotBefore: time.Date(2024, 1, 1, 0, 0, 0, 400_000_000, time.UTC),
		NotAfter:  time.Date(2024, 1, 1, 1, 0, 0, 900_000_000, time.UTC),
	}
	s := v.Seconds()
	require.Equal(t, time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC), s.NotBefore)
	require.Equal(t, time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC), s.NotAfter)
	require.True(t, s.Seconds().Equal(s))
}

func TestSelfSignedCertificate(t *testing.T) {
	key := newKey(t)
	identity, _ := enc.NameFromStr("/ndn/edu/ucla/alice")
	keyName := MakeKeyName(identity)
	require.True(t, IsKeyName(keyName))

	validity := NewValidityPeriod(time.Now(), time.Hour)
	cert, err := MakeSelfSignedCertificate(keyName, key, validity)
	require.NoError(t, err)
	require.True(t, IsCertName(cert.Name()))
	require.True(t, cert.IsSelfSigned())
	require.True(t, cert.Identity().Equal(identity))
	require.Equal(t, "self", cert.IssuerId())

	parsed, err := ParseCertificate(cert.Wire())
	require.NoError(t, err)
	require.NoError(t, parsed.Verify(&key.PublicKey))
	require.True(t, parsed.Validity().Equal(cert.Validity()))
	require.True(t, parsed.SamePublicKey(&key.PublicKey))
	require.NoError(t, parsed.CheckValidity(time.Now().Add(30*time.Minute)))
	require.ErrorIs(t, parsed.CheckValidity(time.Now().Add(2*time.Hour)), ErrExpired)

	other := newKey(t)
	require.ErrorIs(t, parsed.Verify(&other.PublicKey), ErrBadSignature)
}

func TestCertificateFromDataRejectsBlob(t *testing.T) {
	key := newKey(t)
	name, _ := enc.NameFromStr("/ndn/alice/KEY/k1/self/v=1")
	content, err := EncodePublicKey(&key.PublicKey)
	require.NoError(t, err)
	wire, _, err := spec_2022.Spec{}.MakeData(name, &ndn.DataConfig{
		ContentType: utils.IdPtr(ndn.ContentTypeBlob),
	}, enc.Wire{content}, NewEccSigner(name[:len(name)-2], key))
	require.NoError(t, err)
	_, err = ParseCertificate(wire.Join())
	require.ErrorIs(t, err, ErrBadCertificate)
}

func TestCertificateNameHelpers(t *testing.T) {
	name, _ := enc.NameFromStr("/ndn/alice/KEY/k1/self/v=1")
	require.True(t, IsCertName(name))
	require.False(t, IsKeyName(name))
	require.Equal(t, "/ndn/alice/KEY/k1", ToKeyName(name).String())
	require.Equal(t, "/ndn/alice", ToIdentityName(name).String())

	identity := name[:2]
	keyName := MakeKeyName(identity)
	require.Len(t, keyName, 4)
	require.Equal(t, "/ndn/alice/KEY/k1/self/v=1", name.String())
}

func TestVerifyDataMissingKeyLocator(t *testing.T) {
	key := newKey(t)
	name, _ := enc.NameFromStr("/ndn/data")
	wire, _, err := spec_2022.Spec{}.MakeData(name, &ndn.DataConfig{}, enc.Wire{[]byte("x")}, NewEccSigner(nil, key))
	require.NoError(t, err)
	data, sigCovered, err := spec_2022.Spec{}.ReadData(enc.NewBufferReader(wire.Join()))
	require.NoError(t, err)
	require.ErrorIs(t, VerifyData(data, sigCovered, &key.PublicKey), ErrMissingKeyLocator)
}

func makeSignedInterest(t *testing.T, name enc.Name, signer ndn.Signer) (ndn.Interest, enc.Wire) {
	wire, _, _, err := spec_2022.Spec{}.MakeInterest(name[:len(name):len(name)], &ndn.InterestConfig{
		Nonce: utils.IdPtr(uint64(7)),
	}, enc.Wire{[]byte{1}}, signer)
	require.NoError(t, err)
	interest, sigCovered, err := spec_2022.Spec{}.ReadInterest(enc.NewBufferReader(wire.Join()))
	require.NoError(t, err)
	return interest, sigCovered
}

func TestSignedInterestPolicy(t *testing.T) {
	key := newKey(t)
	keyName, _ := enc.NameFromStr("/ndn/alice/KEY/k1")
	now := time.Now()
	clock := func() time.Time { return now }
	policy := NewSignedInterestPolicy(time.Minute, clock)

	name, _ := enc.NameFromStr("/ndn/CA/CHALLENGE/abc")
	interest, sigCovered := makeSignedInterest(t, name, NewEccIntSigner(keyName, key, clock))
	require.NoError(t, VerifyInterest(interest, sigCovered, &key.PublicKey))
	require.NoError(t, policy.Check(interest.Signature()))
	require.ErrorIs(t, policy.Check(interest.Signature()), ErrBadSignature)

	other := newKey(t)
	require.ErrorIs(t, VerifyInterest(interest, sigCovered, &other.PublicKey), ErrBadSignature)

	stale, _ := makeSignedInterest(t, name, NewEccIntSigner(keyName, key, func() time.Time {
		return now.Add(-2 * time.Minute)
	}))
	require.ErrorIs(t, policy.Check(stale.Signature()), ErrBadSignature)

	unsigned, _ := makeSignedInterest(t, name, nil)
	require.ErrorIs(t, policy.Check(unsigned.Signature()), ErrBadSignature)
}

func TestPrivateKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.pem")
	key, created, err := LoadOrCreatePrivateKey(path)
	require.NoError(t, err)
	require.True(t, created)

	loaded, created, err := LoadOrCreatePrivateKey(path)
	require.NoError(t, err)
	require.False(t, created)
	require.True(t, key.Equal(loaded))
}
