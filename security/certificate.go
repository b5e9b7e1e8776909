package security

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/dchest/uniuri"
	enc "github.com/zjkmxy/go-ndn/pkg/encoding"
	"github.com/zjkmxy/go-ndn/pkg/ndn"
	"github.com/zjkmxy/go-ndn/pkg/ndn/spec_2022"
	"github.com/zjkmxy/go-ndn/pkg/utils"
)

const (
	keyComponent    = "KEY"
	selfIssuerId    = "self"
	keyIdLength     = 8
	certFreshness   = time.Hour
	certNameMinimum = 4
)

// Certificate is a KEY Data packet named <identity>/KEY/<keyId>/<issuerId>/<version> whose content is
// a PKIX encoded public key.
type Certificate struct {
	data       ndn.Data
	wire       []byte
	sigCovered enc.Wire
	publicKey  *ecdsa.PublicKey
	validity   ValidityPeriod
}

// Append returns name followed by comps without writing into name's backing array.
func Append(name enc.Name, comps ...enc.Component) enc.Name {
	ret := make(enc.Name, 0, len(name)+len(comps))
	return append(append(ret, name...), comps...)
}

// GenericComponent is a generic name component holding s.
func GenericComponent(s string) enc.Component {
	return enc.NewStringComponent(enc.TypeGenericNameComponent, s)
}

// MakeKeyName returns <identity>/KEY/<random keyId>.
func MakeKeyName(identity enc.Name) enc.Name {
	return Append(identity, GenericComponent(keyComponent), GenericComponent(uniuri.NewLen(keyIdLength)))
}

// IsKeyName reports whether name has the <identity>/KEY/<keyId> shape.
func IsKeyName(name enc.Name) bool {
	if len(name) < 2 {
		return false
	}
	c := name[len(name)-2]
	return c.Typ == enc.TypeGenericNameComponent && string(c.Val) == keyComponent
}

// IsCertName reports whether name has the <identity>/KEY/<keyId>/<issuerId>/<version> shape.
func IsCertName(name enc.Name) bool {
	return len(name) >= certNameMinimum && IsKeyName(name[:len(name)-2]) &&
		name[len(name)-1].Typ == enc.TypeVersionNameComponent
}

// ToIdentityName strips the key or certificate suffix from name.
func ToIdentityName(name enc.Name) enc.Name {
	switch {
	case IsCertName(name):
		return name[:len(name)-4]
	case IsKeyName(name):
		return name[:len(name)-2]
	}
	return name
}

// ToKeyName strips the certificate suffix from name.
func ToKeyName(name enc.Name) enc.Name {
	if IsCertName(name) {
		return name[:len(name)-2]
	}
	return name
}

// EncodePublicKey returns the PKIX encoding of key.
func EncodePublicKey(key *ecdsa.PublicKey) ([]byte, error) {
	return x509.MarshalPKIXPublicKey(key)
}

// ParsePublicKey decodes a PKIX encoded ECDSA public key.
func ParsePublicKey(der []byte) (*ecdsa.PublicKey, error) {
	genericPublicKey, parsePublicKeyError := x509.ParsePKIXPublicKey(der)
	if parsePublicKeyError != nil {
		return nil, parsePublicKeyError
	}
	publicKey, ok := genericPublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unsupported public key type %T", genericPublicKey)
	}
	return publicKey, nil
}

// CertificateFromData checks the shape of a certificate packet. The signature is not verified.
func CertificateFromData(data ndn.Data, sigCovered enc.Wire, raw enc.Wire) (*Certificate, error) {
	if !IsCertName(data.Name()) {
		return nil, fmt.Errorf("%w: bad name %s", ErrBadCertificate, data.Name())
	}
	if ct := data.ContentType(); ct == nil || *ct != ndn.ContentTypeKey {
		return nil, fmt.Errorf("%w: content type is not KEY", ErrBadCertificate)
	}
	notBefore, notAfter := data.Signature().Validity()
	if notBefore == nil || notAfter == nil {
		return nil, fmt.Errorf("%w: missing validity period", ErrBadCertificate)
	}
	publicKey, err := ParsePublicKey(data.Content().Join())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCertificate, err)
	}
	wire := make([]byte, 0, raw.Length())
	for _, buf := range raw {
		wire = append(wire, buf...)
	}
	return &Certificate{
		data:       data,
		wire:       wire,
		sigCovered: sigCovered,
		publicKey:  publicKey,
		validity:   ValidityPeriod{NotBefore: *notBefore, NotAfter: *notAfter},
	}, nil
}

// ParseCertificate decodes an encoded certificate packet.
func ParseCertificate(wire []byte) (*Certificate, error) {
	own := append([]byte(nil), wire...)
	data, sigCovered, err := spec_2022.Spec{}.ReadData(enc.NewBufferReader(own))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCertificate, err)
	}
	return CertificateFromData(data, sigCovered, enc.Wire{own})
}

// MakeSelfSignedCertificate creates the certificate request for key: a certificate over its own
// public key, issued by "self".
func MakeSelfSignedCertificate(keyName enc.Name, key *ecdsa.PrivateKey, validity ValidityPeriod) (*Certificate, error) {
	return IssueCertificate(IssueOptions{
		KeyName:    keyName,
		PublicKey:  &key.PublicKey,
		IssuerId:   selfIssuerId,
		Validity:   validity,
		Version:    utils.MakeTimestamp(time.Now()),
		SignerKey:  key,
		SignerName: keyName,
	})
}

// IssueOptions describes a certificate to mint.
type IssueOptions struct {
	KeyName    enc.Name
	PublicKey  *ecdsa.PublicKey
	IssuerId   string
	Validity   ValidityPeriod
	Version    uint64
	SignerKey  *ecdsa.PrivateKey
	SignerName enc.Name
}

// IssueCertificate mints <KeyName>/<IssuerId>/v=<Version> over PublicKey, signed by SignerKey.
func IssueCertificate(opts IssueOptions) (*Certificate, error) {
	if !IsKeyName(opts.KeyName) {
		return nil, fmt.Errorf("%w: %s is not a key name", ErrBadCertificate, opts.KeyName)
	}
	content, err := EncodePublicKey(opts.PublicKey)
	if err != nil {
		return nil, err
	}
	validity := opts.Validity.Seconds()
	if validity.IsEmpty() {
		return nil, fmt.Errorf("%w: empty validity period %s", ErrBadCertificate, validity)
	}
	name := Append(opts.KeyName, GenericComponent(opts.IssuerId), enc.NewVersionComponent(opts.Version))
	wire, _, err := spec_2022.Spec{}.MakeData(name, &ndn.DataConfig{
		ContentType: utils.IdPtr(ndn.ContentTypeKey),
		Freshness:   utils.IdPtr(certFreshness),
	}, enc.Wire{content}, newCertSigner(opts.SignerName, opts.SignerKey, validity))
	if err != nil {
		return nil, err
	}
	return ParseCertificate(wire.Join())
}

func (c *Certificate) Name() enc.Name {
	return c.data.Name()
}

// FullName returns the certificate name including its implicit digest.
func (c *Certificate) FullName() enc.Name {
	return Append(c.data.Name()).ToFullName(enc.Wire{c.wire})
}

func (c *Certificate) KeyName() enc.Name {
	return ToKeyName(c.data.Name())
}

func (c *Certificate) Identity() enc.Name {
	return ToIdentityName(c.data.Name())
}

func (c *Certificate) IssuerId() string {
	name := c.data.Name()
	return string(name[len(name)-2].Val)
}

func (c *Certificate) KeyLocator() enc.Name {
	return c.data.Signature().KeyName()
}

func (c *Certificate) Data() ndn.Data {
	return c.data
}

// Wire is the encoded packet. Callers must not modify it.
func (c *Certificate) Wire() []byte {
	return c.wire
}

func (c *Certificate) PublicKey() *ecdsa.PublicKey {
	return c.publicKey
}

func (c *Certificate) Validity() ValidityPeriod {
	return c.validity
}

// IsSelfSigned reports whether the key locator names the certificate's own key.
func (c *Certificate) IsSelfSigned() bool {
	return c.KeyLocator().Equal(c.KeyName())
}

// Verify checks the certificate signature against issuer.
func (c *Certificate) Verify(issuer *ecdsa.PublicKey) error {
	return VerifyData(c.data, c.sigCovered, issuer)
}

// CheckValidity fails with ErrExpired when now is outside the validity period.
func (c *Certificate) CheckValidity(now time.Time) error {
	if !c.validity.Includes(now) {
		return fmt.Errorf("%w: %s not in %s", ErrExpired, now.UTC().Format(time.RFC3339), c.validity)
	}
	return nil
}

// SamePublicKey reports whether c certifies pub.
func (c *Certificate) SamePublicKey(pub *ecdsa.PublicKey) bool {
	own, err := EncodePublicKey(c.publicKey)
	if err != nil {
		return false
	}
	other, err := EncodePublicKey(pub)
	return err == nil && bytes.Equal(own, other)
}
