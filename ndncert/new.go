package ndncert

import (
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/UCLA-IRL/go-ndncert/crypto"
	"github.com/UCLA-IRL/go-ndncert/security"
	enc "github.com/zjkmxy/go-ndn/pkg/encoding"
	"github.com/zjkmxy/go-ndn/pkg/ndn"
)

func truncate(profile *Profile, requested security.ValidityPeriod, notBefore, notAfter time.Time) security.ValidityPeriod {
	return requested.Intersect(profile.Certificate.Validity(), security.ValidityPeriod{NotBefore: notBefore, NotAfter: notAfter})
}

// TruncateValidity narrows requested to what the CA can grant at now: the CA certificate's own period
// and the window [now - grace, now + MaxValidity]. The result must include now and is rounded to
// whole seconds.
func TruncateValidity(profile *Profile, requested security.ValidityPeriod, now time.Time, grace time.Duration) (security.ValidityPeriod, error) {
	truncated := truncate(profile, requested, now.Add(-grace), now.Add(profile.MaxValidity))
	if !truncated.Includes(now) {
		return truncated, fmt.Errorf("%w: %s does not include %s", ErrValidityPeriod, truncated, now.UTC().Format(time.RFC3339))
	}
	return truncated.Seconds(), nil
}

// checkRequestedValidity rejects a certificate request asking for more than TruncateValidity would
// have granted against a clock up to ClockSkewTolerance away from now. Skew moves the window, it
// never widens it: the period is no longer than [now - grace, now + MaxValidity].
func checkRequestedValidity(profile *Profile, requested security.ValidityPeriod, now time.Time) error {
	notBefore := now.Add(-NotBeforeGracePeriod - ClockSkewTolerance)
	notAfter := now.Add(profile.MaxValidity + ClockSkewTolerance)
	truncated := truncate(profile, requested, notBefore, notAfter).Seconds()
	if truncated.IsEmpty() || !truncated.Equal(requested) {
		return fmt.Errorf("%w: requested %s, CA allows %s", ErrBadValidity, requested, truncated)
	}
	if requested.Duration() > profile.MaxValidity+NotBeforeGracePeriod {
		return fmt.Errorf("%w: %s is longer than %s", ErrBadValidity, requested, profile.MaxValidity+NotBeforeGracePeriod)
	}
	if requested.NotBefore.After(now.Add(ClockSkewTolerance)) || requested.NotAfter.Before(now) {
		return fmt.Errorf("%w: %s does not cover now", ErrBadValidity, requested)
	}
	return nil
}

// NewRequest is the requester's side of a NEW exchange.
type NewRequest struct {
	Request     *Request
	Ecdh        *crypto.ECDHState
	CertRequest *security.Certificate
}

// MakeNewRequest builds a NEW Interest carrying a self-signed certificate request for key, signed by key.
// A zero requested period asks for the longest validity the CA grants.
func MakeNewRequest(profile *Profile, keyName enc.Name, key *ecdsa.PrivateKey, requested security.ValidityPeriod, clock func() time.Time) (*NewRequest, error) {
	if clock == nil {
		clock = time.Now
	}
	now := clock()
	if requested.NotBefore.IsZero() && requested.NotAfter.IsZero() {
		requested = security.NewValidityPeriod(now, profile.MaxValidity)
	}
	validity, err := TruncateValidity(profile, requested, now, NotBeforeGracePeriod)
	if err != nil {
		return nil, err
	}
	certRequest, err := security.MakeSelfSignedCertificate(keyName, key, validity)
	if err != nil {
		return nil, err
	}
	ecdhState, err := crypto.NewECDHState()
	if err != nil {
		return nil, err
	}
	appParam := (&NewInterest{EcdhPub: ecdhState.PublicKeyBytes(), CertRequest: certRequest.Wire()}).Encode()
	request := newRequest(NewName(profile.CaPrefix), appParam, security.NewEccIntSigner(keyName, key, clock))
	return &NewRequest{Request: request, Ecdh: ecdhState, CertRequest: certRequest}, nil
}

// NewRequestInfo is what the CA learns from a NEW Interest.
type NewRequestInfo struct {
	EcdhPub     []byte
	CertRequest *security.Certificate
}

// NewRequestFromInterest checks a NEW Interest: the certificate request must be well formed,
// self-signed, within what the CA grants now, and the key it certifies must have signed the Interest.
func NewRequestFromInterest(profile *Profile, interest ndn.Interest, sigCovered enc.Wire, now time.Time) (*NewRequestInfo, error) {
	if interest.AppParam() == nil {
		return nil, fmt.Errorf("%w: NEW without parameters", ErrBadInterestFormat)
	}
	req, err := ParseNewInterest(interest.AppParam().Join())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadParameterFormat, err)
	}
	certRequest, err := security.ParseCertificate(req.CertRequest)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadParameterFormat, err)
	}

	if err = checkRequestedValidity(profile, certRequest.Validity(), now); err != nil {
		return nil, err
	}
	if !certRequest.IsSelfSigned() {
		return nil, fmt.Errorf("%w: certificate request is not self-signed", ErrBadSignature)
	}
	if err = certRequest.Verify(certRequest.PublicKey()); err != nil {
		return nil, err
	}
	if err = security.VerifyInterest(interest, sigCovered, certRequest.PublicKey()); err != nil {
		return nil, err
	}
	return &NewRequestInfo{EcdhPub: req.EcdhPub, CertRequest: certRequest}, nil
}

func MakeNewResponse(interest ndn.Interest, signer ndn.Signer, res *NewData) (enc.Wire, error) {
	return makeResponse(interest.Name(), res.Encode(), signer)
}

// NewResponseFromData verifies the CA reply to a NEW Interest.
func NewResponseFromData(profile *Profile, data ndn.Data, sigCovered enc.Wire) (*NewData, error) {
	content, err := verifyResponse(data, sigCovered, profile.PublicKey())
	if err != nil {
		return nil, err
	}
	res, err := ParseNewData(content)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed NEW response: %v", ErrValidation, err)
	}
	return res, nil
}

// Session completes the key agreement once the CA has answered.
func (r *NewRequest) Session(res *NewData) (*crypto.SessionKey, error) {
	if err := r.Ecdh.SetRemotePublicKey(res.EcdhPub); err != nil {
		return nil, err
	}
	return crypto.DeriveSessionKeys(crypto.Requester, r.Ecdh, res.Salt, res.RequestId)
}
