package challenge

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/apex/log"
	enc "github.com/zjkmxy/go-ndn/pkg/encoding"

	"github.com/UCLA-IRL/go-ndncert/ndncert"
	"github.com/UCLA-IRL/go-ndncert/security"
)

// NonceLength is the minimum nonce a possession proof signs.
const NonceLength = 16

// PossessionPolicy decides whether holding cert entitles the requester to subjectName.
type PossessionPolicy func(cert *security.Certificate, subjectName enc.Name) bool

// Possession requires the requester to hold a trusted certificate and prove it by signing a nonce.
// Every failure ends the request.
type Possession struct {
	Retries     uint64
	Timeout     time.Duration
	TrustAnchor *ecdsa.PublicKey
	Policy      PossessionPolicy
}

type possessionState struct {
	certWire []byte
	cert     *security.Certificate
	nonce    []byte
}

// NewPossession needs a trust anchor, a policy, or both.
func NewPossession(anchor *ecdsa.PublicKey, policy PossessionPolicy) (*Possession, error) {
	if anchor == nil && policy == nil {
		return nil, errors.New("possession challenge needs a trust anchor or a policy")
	}
	return &Possession{Retries: 1, Timeout: defaultTimeLimit, TrustAnchor: anchor, Policy: policy}, nil
}

func (p *Possession) ChallengeId() string      { return string(KindPossession) }
func (p *Possession) RetryLimit() uint64       { return p.Retries }
func (p *Possession) TimeLimit() time.Duration { return p.Timeout }

func reject(code ndncert.ErrorCode, format string, a ...any) ndncert.ChallengeOutcome {
	return ndncert.ChallengeOutcome{Reject: code, RejectInfo: fmt.Sprintf(format, a...)}
}

func (p *Possession) trusted(cert *security.Certificate, subjectName enc.Name) bool {
	if p.TrustAnchor != nil && cert.Verify(p.TrustAnchor) != nil {
		return false
	}
	return p.Policy == nil || p.Policy(cert, subjectName)
}

func (p *Possession) Process(ctx *ndncert.ChallengeContext, params []ndncert.Parameter) ndncert.ChallengeOutcome {
	logger := log.WithField("module", "challenge")
	wire, ok := ndncert.GetParameter(params, ParameterKeyIssuedCert)
	if !ok {
		return reject(ndncert.ErrorCodeInvalidParameters, "missing %s", ParameterKeyIssuedCert)
	}

	state, started := ctx.State.(*possessionState)
	if !started {
		cert, err := security.ParseCertificate(wire)
		if err != nil {
			return reject(ndncert.ErrorCodeBadParameterFormat, "malformed certificate: %v", err)
		}
		if err = cert.CheckValidity(ctx.Now); err != nil {
			return reject(ndncert.ErrorCodeBadValidityPeriod, "%v", err)
		}
		if !p.trusted(cert, ctx.CertRequest.Identity()) {
			logger.Errorf("Request %x presented untrusted certificate %s", ctx.RequestId, cert.Name())
			return reject(ndncert.ErrorCodeNameNotAllowed, "certificate %s is not trusted for %s", cert.Name(), ctx.CertRequest.Identity())
		}
		nonce := make([]byte, NonceLength)
		if _, err = rand.Read(nonce); err != nil {
			return reject(ndncert.ErrorCodeInvalidParameters, "failed to generate nonce")
		}
		ctx.State = &possessionState{certWire: append([]byte(nil), wire...), cert: cert, nonce: nonce}
		return ndncert.ChallengeOutcome{
			ChallengeStatus: ndncert.ChallengeStatusNeedProof,
			Parameters:      []ndncert.Parameter{{Key: ParameterKeyNonce, Value: nonce}},
		}
	}

	if !bytes.Equal(state.certWire, wire) {
		logger.Errorf("Request %x changed its certificate between rounds", ctx.RequestId)
		return reject(ndncert.ErrorCodeBadParameterFormat, "certificate does not match the one presented")
	}
	if err := state.cert.CheckValidity(ctx.Now); err != nil {
		return reject(ndncert.ErrorCodeBadValidityPeriod, "%v", err)
	}
	proof, ok := ndncert.GetParameter(params, ParameterKeyProof)
	if !ok {
		return reject(ndncert.ErrorCodeInvalidParameters, "missing %s", ParameterKeyProof)
	}
	digest := sha256.Sum256(state.nonce)
	if !ecdsa.VerifyASN1(state.cert.PublicKey(), digest[:], proof) {
		return reject(ndncert.ErrorCodeBadSignature, "bad proof of possession for %s", state.cert.Name())
	}
	return ndncert.ChallengeOutcome{Success: true, ChallengeStatus: ndncert.ChallengeStatusSuccess}
}

// PossessionClient proves control of Certificate with Key.
type PossessionClient struct {
	Certificate *security.Certificate
	Key         *ecdsa.PrivateKey
}

func (*PossessionClient) ChallengeId() string { return string(KindPossession) }

func (c *PossessionClient) Start(*ndncert.ClientChallengeContext) ([]ndncert.Parameter, error) {
	return []ndncert.Parameter{{Key: ParameterKeyIssuedCert, Value: c.Certificate.Wire()}}, nil
}

func (c *PossessionClient) Next(ctx *ndncert.ClientChallengeContext) ([]ndncert.Parameter, error) {
	nonce, ok := ndncert.GetParameter(ctx.Parameters, ParameterKeyNonce)
	if !ok || len(nonce) < NonceLength {
		return nil, fmt.Errorf("%w: CA nonce must be at least %d bytes", ndncert.ErrValidation, NonceLength)
	}
	digest := sha256.Sum256(nonce)
	proof, err := ecdsa.SignASN1(rand.Reader, c.Key, digest[:])
	if err != nil {
		return nil, err
	}
	return []ndncert.Parameter{
		{Key: ParameterKeyIssuedCert, Value: c.Certificate.Wire()},
		{Key: ParameterKeyProof, Value: proof},
	}, nil
}
