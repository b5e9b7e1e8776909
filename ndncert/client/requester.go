// Package client drives an NDNCERT enrollment from the requester side: profile discovery, PROBE, NEW,
// the challenge rounds and the final certificate fetch.
package client

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/apex/log"
	enc "github.com/zjkmxy/go-ndn/pkg/encoding"
	"github.com/zjkmxy/go-ndn/pkg/ndn"
	"github.com/zjkmxy/go-ndn/pkg/utils"

	"github.com/UCLA-IRL/go-ndncert/engine"
	"github.com/UCLA-IRL/go-ndncert/ndncert"
	"github.com/UCLA-IRL/go-ndncert/ndncert/challenge"
	"github.com/UCLA-IRL/go-ndncert/security"
)

const interestLifetime = 4 * time.Second

func express(ctx context.Context, ndnEngine ndn.Engine, req *ndncert.Request) (*engine.Reply, error) {
	return engine.Express(ctx, ndnEngine, req.Name, req.Config, req.AppParam, req.Signer)
}

// FetchProfile retrieves and checks the CA profile under <caPrefix>/CA/INFO. With a nil anchor the
// certificate in the profile is trusted on first use.
func FetchProfile(ctx context.Context, ndnEngine ndn.Engine, caPrefix enc.Name, anchor *security.Certificate) (*ndncert.Profile, error) {
	logger := log.WithField("module", "client")
	req := ndncert.MakeProfileRequest(caPrefix)
	logger.Infof("Fetching CA profile %s", req.Name)
	reply, err := express(ctx, ndnEngine, req)
	if err != nil {
		return nil, err
	}
	profile, err := ndncert.ProfileFromData(reply.Data, reply.SigCovered, anchor)
	if err != nil {
		return nil, err
	}
	if !profile.CaPrefix.Equal(caPrefix) {
		return nil, fmt.Errorf("%w: asked %s, profile is for %s", ndncert.ErrValidation, caPrefix, profile.CaPrefix)
	}
	if anchor == nil {
		logger.Infof("Trusting CA certificate %s on first use", profile.Certificate.Name())
	}
	return profile, nil
}

// RequesterState talks to one CA whose profile has been checked.
type RequesterState struct {
	Engine  ndn.Engine
	Profile *ndncert.Profile
	Clock   func() time.Time
}

func NewRequesterState(ndnEngine ndn.Engine, profile *ndncert.Profile) *RequesterState {
	return &RequesterState{Engine: ndnEngine, Profile: profile, Clock: time.Now}
}

func (requesterState *RequesterState) now() time.Time {
	if requesterState.Clock == nil {
		return time.Now()
	}
	return requesterState.Clock()
}

// Probe asks the CA which names the parameters entitle the requester to.
func (requesterState *RequesterState) Probe(ctx context.Context, params []ndncert.Parameter) (*ndncert.ProbeData, error) {
	logger := log.WithField("module", "client")
	req, err := ndncert.MakeProbeRequest(requesterState.Profile, params)
	if err != nil {
		return nil, err
	}
	logger.Infof("Expressing PROBE Interest %s", req.Name)
	reply, err := express(ctx, requesterState.Engine, req)
	if err != nil {
		return nil, err
	}
	return ndncert.ProbeResponseFromData(requesterState.Profile, reply.Data, reply.SigCovered)
}

type RequestOptions struct {
	// KeyName names Key, <identity>/KEY/<keyId>.
	KeyName enc.Name
	Key     *ecdsa.PrivateKey
	// Validity is the period asked for. Zero asks for the longest the CA grants.
	Validity security.ValidityPeriod
	// Challenges are tried in order against what the CA offers.
	Challenges []ndncert.ClientChallenge
	// Probe, when set, must admit the identity of KeyName.
	Probe *ndncert.ProbeData
}

// RequestCertificate runs NEW and the challenge rounds, then fetches and checks the issued certificate.
// Any ErrorMsg from the CA ends the enrollment with a *ndncert.ProtocolError.
func (requesterState *RequesterState) RequestCertificate(ctx context.Context, opts RequestOptions) (*security.Certificate, error) {
	logger := log.WithField("module", "client")
	profile := requesterState.Profile
	if !security.IsKeyName(opts.KeyName) {
		return nil, fmt.Errorf("%w: %s is not a key name", ndncert.ErrValidation, opts.KeyName)
	}
	identity := security.ToIdentityName(opts.KeyName)
	if opts.Probe != nil && !opts.Probe.Match(identity) {
		return nil, fmt.Errorf("%w: %s is not among the probed names", ndncert.ErrNameNotAllowed, identity)
	}

	newRequest, err := ndncert.MakeNewRequest(profile, opts.KeyName, opts.Key, opts.Validity, requesterState.Clock)
	if err != nil {
		return nil, err
	}
	logger.Infof("Expressing NEW Interest for %s", newRequest.CertRequest.Name())
	reply, err := express(ctx, requesterState.Engine, newRequest.Request)
	if err != nil {
		return nil, err
	}
	newData, err := ndncert.NewResponseFromData(profile, reply.Data, reply.SigCovered)
	if err != nil {
		return nil, err
	}
	session, err := newRequest.Session(newData)
	if err != nil {
		return nil, err
	}
	module, err := challenge.Select(newData.Challenge, opts.Challenges)
	if err != nil {
		return nil, err
	}
	logger.Infof("Request %x: using challenge %s", newData.RequestId, module.ChallengeId())

	challengeContext := &ndncert.ClientChallengeContext{
		CaPrefix:  profile.CaPrefix,
		RequestId: newData.RequestId,
		KeyName:   opts.KeyName,
		Status:    ndncert.StatusBeforeChallenge,
	}
	params, err := module.Start(challengeContext)
	if err != nil {
		return nil, err
	}
	signer := security.NewEccIntSigner(opts.KeyName, opts.Key, requesterState.Clock)
	for {
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		req, err := ndncert.MakeChallengeRequest(profile.CaPrefix, session, &ndncert.ChallengeInterestPlaintext{
			SelectedChallenge: module.ChallengeId(),
			Parameters:        params,
		}, signer)
		if err != nil {
			return nil, err
		}
		reply, err := express(ctx, requesterState.Engine, req)
		if err != nil {
			return nil, err
		}
		res, err := ndncert.ChallengeResponseFromData(profile, session, reply.Data, reply.SigCovered)
		if err != nil {
			return nil, err
		}
		logger.Infof("Request %x: status %s, challenge status %q", newData.RequestId, res.Status, res.ChallengeStatus)

		switch res.Status {
		case ndncert.StatusSuccess:
			if res.IssuedCertificateName == nil {
				return nil, fmt.Errorf("%w: success without an issued certificate name", ndncert.ErrValidation)
			}
			return requesterState.FetchCertificate(ctx, res.IssuedCertificateName, res.ForwardingHint, &opts.Key.PublicKey)
		case ndncert.StatusFailure:
			return nil, fmt.Errorf("%w: CA reported failure (%s)", ndncert.ErrValidation, res.ChallengeStatus)
		}

		challengeContext.Status = res.Status
		challengeContext.ChallengeStatus = res.ChallengeStatus
		challengeContext.RemainingTries = res.RemainingTries
		challengeContext.RemainingTime = res.RemainingTime
		challengeContext.Parameters = res.Parameters
		if params, err = module.Next(challengeContext); err != nil {
			return nil, err
		}
	}
}

// FetchCertificate retrieves an issued certificate by its full name and checks that the CA signed it
// over publicKey.
func (requesterState *RequesterState) FetchCertificate(ctx context.Context, name enc.Name, forwardingHint enc.Name, publicKey *ecdsa.PublicKey) (*security.Certificate, error) {
	logger := log.WithField("module", "client")
	config := &ndn.InterestConfig{Lifetime: utils.IdPtr(interestLifetime)}
	if len(forwardingHint) > 0 {
		config.ForwardingHint = []enc.Name{forwardingHint}
	}
	logger.Infof("Fetching issued certificate %s via %s", name, forwardingHint)
	reply, err := engine.Express(ctx, requesterState.Engine, name, config, nil, nil)
	if err != nil {
		return nil, err
	}
	cert, err := security.CertificateFromData(reply.Data, reply.SigCovered, reply.Raw)
	if err != nil {
		return nil, err
	}
	if !name.Equal(cert.Name()) && !name.Equal(cert.FullName()) {
		return nil, fmt.Errorf("%w: fetched %s, asked %s", ndncert.ErrValidation, cert.FullName(), name)
	}
	if err = cert.Verify(requesterState.Profile.PublicKey()); err != nil {
		return nil, err
	}
	if err = cert.CheckValidity(requesterState.now()); err != nil {
		return nil, err
	}
	if !cert.SamePublicKey(publicKey) {
		return nil, fmt.Errorf("%w: %s does not certify the requester key", ndncert.ErrValidation, cert.Name())
	}
	return cert, nil
}
