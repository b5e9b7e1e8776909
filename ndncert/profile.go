package ndncert

import (
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/UCLA-IRL/go-ndncert/security"
	enc "github.com/zjkmxy/go-ndn/pkg/encoding"
	"github.com/zjkmxy/go-ndn/pkg/ndn"
	"github.com/zjkmxy/go-ndn/pkg/utils"
)

// Profile is the CA description every requester starts from.
type Profile struct {
	CaPrefix    enc.Name
	CaInfo      string
	ProbeKeys   []string
	MaxValidity time.Duration
	Certificate *security.Certificate
}

func (p *Profile) PublicKey() *ecdsa.PublicKey {
	return p.Certificate.PublicKey()
}

func (p *Profile) encode() *CaProfile {
	return &CaProfile{
		CaPrefix:       p.CaPrefix,
		CaInfo:         p.CaInfo,
		ParameterKey:   p.ProbeKeys,
		MaxValidPeriod: uint64(p.MaxValidity / time.Second),
		CaCertificate:  p.Certificate.Wire(),
	}
}

// ProfileName is <caPrefix>/CA/INFO/v=<version>/seg=0.
func ProfileName(caPrefix enc.Name, version uint64) enc.Name {
	return append(InfoName(caPrefix), enc.NewVersionComponent(version), enc.NewSegmentComponent(0))
}

// MakeProfileData signs the profile as ProfileName(caPrefix, version).
func MakeProfileData(profile *Profile, version uint64, signer ndn.Signer) (enc.Wire, error) {
	return makeResponse(ProfileName(profile.CaPrefix, version), profile.encode().Encode(), signer)
}

// MakeProfileRequest asks for the latest profile under <caPrefix>/CA/INFO.
func MakeProfileRequest(caPrefix enc.Name) *Request {
	return &Request{
		Name: InfoName(caPrefix),
		Config: &ndn.InterestConfig{
			CanBePrefix: true,
			MustBeFresh: true,
			Lifetime:    utils.IdPtr(interestLifetime),
		},
	}
}

// ProfileFromData checks and decodes a profile packet. With a nil anchor the CA certificate carried in
// the profile is trusted on first use; otherwise it must certify the anchor's key.
func ProfileFromData(data ndn.Data, sigCovered enc.Wire, anchor *security.Certificate) (*Profile, error) {
	raw, err := ParseCaProfile(data.Content().Join())
	if err != nil {
		return nil, fmt.Errorf("%w: malformed profile: %v", ErrValidation, err)
	}
	if !InfoName(raw.CaPrefix).IsPrefix(data.Name()) {
		return nil, fmt.Errorf("%w: profile %s does not belong to %s", ErrValidation, data.Name(), raw.CaPrefix)
	}
	cert, err := security.ParseCertificate(raw.CaCertificate)
	if err != nil {
		return nil, err
	}
	if anchor != nil && !cert.SamePublicKey(anchor.PublicKey()) {
		return nil, fmt.Errorf("%w: profile certificate %s does not match the trust anchor", ErrBadSignature, cert.Name())
	}
	if err = security.VerifyData(data, sigCovered, cert.PublicKey()); err != nil {
		return nil, err
	}
	return &Profile{
		CaPrefix:    raw.CaPrefix,
		CaInfo:      raw.CaInfo,
		ProbeKeys:   raw.ParameterKey,
		MaxValidity: time.Duration(raw.MaxValidPeriod) * time.Second,
		Certificate: cert,
	}, nil
}
