// Package server is the NDNCERT certificate authority: it answers INFO, PROBE, NEW and CHALLENGE
// Interests, runs the configured challenges and serves the certificates it issues.
package server

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/apex/log"
	enc "github.com/zjkmxy/go-ndn/pkg/encoding"
	"github.com/zjkmxy/go-ndn/pkg/ndn"

	"github.com/UCLA-IRL/go-ndncert/crypto"
	"github.com/UCLA-IRL/go-ndncert/ndncert"
	"github.com/UCLA-IRL/go-ndncert/ndncert/challenge"
	"github.com/UCLA-IRL/go-ndncert/security"
	"github.com/UCLA-IRL/go-ndncert/store"
)

const (
	DefaultIssuerId            = "NDNCERT"
	DefaultMaxValidity         = 86400 * time.Second
	DefaultCertificateValidity = 365 * 24 * time.Hour
	DefaultRequestTimeout      = 60 * time.Second
	DefaultSweepInterval       = 30 * time.Second
)

// ProbeHandler assigns names for a PROBE. Returning neither entries nor redirects answers
// NoAvailableName.
type ProbeHandler func(params []ndncert.Parameter) ([]ndncert.ProbeEntry, []enc.Name, error)

// ParamAssignment names <caPrefix>/<value> with one component per probe key, in profile order.
func ParamAssignment(caPrefix enc.Name, probeKeys []string) ProbeHandler {
	return func(params []ndncert.Parameter) ([]ndncert.ProbeEntry, []enc.Name, error) {
		name := caPrefix
		for _, key := range probeKeys {
			value, ok := ndncert.GetParameter(params, key)
			if !ok || len(value) == 0 {
				return nil, nil, nil
			}
			name = security.Append(name, enc.NewBytesComponent(enc.TypeGenericNameComponent, value))
		}
		return []ndncert.ProbeEntry{{Name: name}}, nil, nil
	}
}

type Options struct {
	CaPrefix    enc.Name
	CaInfo      string
	MaxValidity time.Duration
	ProbeKeys   []string
	IssuerId    string
	// ForwardingHint is where issued certificates are served. Defaults to CaPrefix.
	ForwardingHint enc.Name
	Key            *ecdsa.PrivateKey
	// Certificate certifies Key. A self-signed one valid for CertificateValidity is made when nil.
	Certificate         *security.Certificate
	CertificateValidity time.Duration
	Challenges          *challenge.Registry
	Store               store.CertStore
	ProbeHandler        ProbeHandler
	RequestTimeout      time.Duration
	SweepInterval       time.Duration
	InterestWindow      time.Duration
	Clock               func() time.Time
}

type CaState struct {
	profile        *ndncert.Profile
	profileName    enc.Name
	profileWire    enc.Wire
	key            *ecdsa.PrivateKey
	signer         ndn.Signer
	issuerId       string
	forwardingHint enc.Name
	challenges     *challenge.Registry
	store          store.CertStore
	probeHandler   ProbeHandler
	policy         *security.SignedInterestPolicy
	requests       *requestTable
	requestTimeout time.Duration
	sweepInterval  time.Duration
	clock          func() time.Time
}

func NewCaState(opts Options) (*CaState, error) {
	if len(opts.CaPrefix) == 0 {
		return nil, fmt.Errorf("CA prefix is required")
	}
	if opts.Key == nil {
		return nil, fmt.Errorf("CA key is required")
	}
	if opts.Challenges == nil {
		return nil, fmt.Errorf("no challenge configured")
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.MaxValidity <= 0 {
		opts.MaxValidity = DefaultMaxValidity
	}
	if opts.IssuerId == "" {
		opts.IssuerId = DefaultIssuerId
	}
	if opts.ForwardingHint == nil {
		opts.ForwardingHint = opts.CaPrefix
	}
	if opts.Store == nil {
		opts.Store = store.NewMemStore()
	}
	if opts.ProbeHandler == nil {
		opts.ProbeHandler = ParamAssignment(opts.CaPrefix, opts.ProbeKeys)
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.CertificateValidity <= 0 {
		opts.CertificateValidity = DefaultCertificateValidity
	}

	now := opts.Clock()
	caCert := opts.Certificate
	if caCert == nil {
		var err error
		validity := security.NewValidityPeriod(now.Add(-ndncert.NotBeforeGracePeriod), opts.CertificateValidity)
		caCert, err = security.MakeSelfSignedCertificate(security.MakeKeyName(opts.CaPrefix), opts.Key, validity)
		if err != nil {
			return nil, err
		}
	} else if !caCert.SamePublicKey(&opts.Key.PublicKey) {
		return nil, fmt.Errorf("%w: CA certificate %s does not certify the CA key", security.ErrBadCertificate, caCert.Name())
	}

	caState := &CaState{
		profile: &ndncert.Profile{
			CaPrefix:    opts.CaPrefix,
			CaInfo:      opts.CaInfo,
			ProbeKeys:   opts.ProbeKeys,
			MaxValidity: opts.MaxValidity,
			Certificate: caCert,
		},
		key:            opts.Key,
		signer:         security.NewEccSigner(caCert.KeyName(), opts.Key),
		issuerId:       opts.IssuerId,
		forwardingHint: opts.ForwardingHint,
		challenges:     opts.Challenges,
		store:          opts.Store,
		probeHandler:   opts.ProbeHandler,
		policy:         security.NewSignedInterestPolicy(opts.InterestWindow, opts.Clock),
		requests:       newRequestTable(),
		requestTimeout: opts.RequestTimeout,
		sweepInterval:  opts.SweepInterval,
		clock:          opts.Clock,
	}
	version := uint64(now.UnixMilli())
	profileWire, err := ndncert.MakeProfileData(caState.profile, version, caState.signer)
	if err != nil {
		return nil, err
	}
	caState.profileName = ndncert.ProfileName(opts.CaPrefix, version)
	caState.profileWire = profileWire
	return caState, nil
}

func (caState *CaState) Profile() *ndncert.Profile {
	return caState.profile
}

func (caState *CaState) Certificate() *security.Certificate {
	return caState.profile.Certificate
}

// Serve attaches the CA to ndnEngine and returns. Everything the CA answers lives under the CA prefix,
// issued certificates included, so one handler covers it. The handler is detached and the request
// table sweep stops when ctx is done.
func (caState *CaState) Serve(ctx context.Context, ndnEngine ndn.Engine) error {
	logger := log.WithField("module", "ca")
	caPrefix := caState.profile.CaPrefix
	logger.Infof("Preparing to serve %s (%s) with challenges %v", caPrefix, caState.profile.CaInfo, caState.challenges.Ids())
	if err := ndnEngine.AttachHandler(caPrefix, caState.onInterest); err != nil {
		logger.Errorf("Failed to attach handler on %s: %s", caPrefix, err.Error())
		return err
	}

	go func() {
		ticker := time.NewTicker(caState.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				if err := ndnEngine.DetachHandler(caPrefix); err != nil {
					logger.Errorf("Failed to detach handler on %s: %s", caPrefix, err.Error())
				}
				logger.Infof("Stopped serving %s", caPrefix)
				return
			case <-ticker.C:
				if removed := caState.requests.sweep(caState.clock()); removed > 0 {
					logger.Infof("Dropped %d expired requests", removed)
				}
			}
		}
	}()
	return nil
}

// Routes are the prefixes the forwarder must send to the CA: the CA prefix, and the forwarding hint
// when it lies outside it.
func (caState *CaState) Routes() []enc.Name {
	caPrefix := caState.profile.CaPrefix
	routes := []enc.Name{caPrefix}
	if !caPrefix.IsPrefix(caState.forwardingHint) {
		routes = append(routes, caState.forwardingHint)
	}
	return routes
}

// Register asks the local forwarder for the CA routes.
func (caState *CaState) Register(ndnEngine ndn.Engine) error {
	logger := log.WithField("module", "ca")
	for _, route := range caState.Routes() {
		logger.Infof("Registering route %s", route)
		if err := ndnEngine.RegisterRoute(route); err != nil {
			logger.Errorf("Failed to register %s: %s", route, err.Error())
			return err
		}
	}
	return nil
}

func (caState *CaState) Close() error {
	return caState.store.Close()
}

// onInterest runs on the engine's receive loop, so each request is handled on its own goroutine.
func (caState *CaState) onInterest(interest ndn.Interest, _ enc.Wire, sigCovered enc.Wire, reply ndn.ReplyFunc, _ time.Time) {
	caPrefix := caState.profile.CaPrefix
	name := interest.Name()
	switch {
	case ndncert.InfoName(caPrefix).IsPrefix(name):
		go caState.OnProfile(interest, reply)
	case ndncert.ProbeName(caPrefix).IsPrefix(name):
		go caState.OnProbe(interest, reply)
	case ndncert.NewName(caPrefix).IsPrefix(name):
		go caState.OnNew(interest, sigCovered, reply)
	case ndncert.ChallengeName(caPrefix, nil).IsPrefix(name):
		go caState.OnChallenge(interest, sigCovered, reply)
	default:
		go caState.OnFetchCertificate(interest, reply)
	}
}

func (caState *CaState) OnProfile(interest ndn.Interest, reply ndn.ReplyFunc) {
	logger := log.WithField("module", "ca")
	name := interest.Name()
	logger.Infof("Handling INFO Interest %s", name)
	if !name.IsPrefix(caState.profileName) || (!interest.CanBePrefix() && len(name) != len(caState.profileName)) {
		logger.Debugf("INFO Interest %s does not match profile %s", name, caState.profileName)
		return
	}
	if err := reply(caState.profileWire); err != nil {
		logger.Errorf("Failed to reply with profile: %s", err.Error())
	}
}

func (caState *CaState) OnProbe(interest ndn.Interest, reply ndn.ReplyFunc) {
	logger := log.WithField("module", "ca")
	logger.Infof("Handling PROBE Interest %s", interest.Name())
	params, err := ndncert.ProbeRequestFromInterest(caState.profile, interest)
	if err != nil {
		logger.Errorf("Bad PROBE Interest received: %s", err.Error())
		caState.replyWithError(interest, reply, ndncert.ErrorCodeOf(err), "")
		return
	}
	entries, redirects, err := caState.probeHandler(params)
	if err != nil {
		logger.Errorf("Name assignment failed: %s", err.Error())
		caState.replyWithError(interest, reply, ndncert.ErrorCodeOf(err), "")
		return
	}
	if len(entries)+len(redirects) == 0 {
		logger.Error("No names available for PROBE parameters")
		caState.replyWithError(interest, reply, ndncert.ErrorCodeNoAvailableNames, "")
		return
	}
	data, err := ndncert.MakeProbeResponse(interest, caState.signer, entries, redirects)
	caState.replyWithData(reply, data, err)
}

func (caState *CaState) OnNew(interest ndn.Interest, sigCovered enc.Wire, reply ndn.ReplyFunc) {
	logger := log.WithField("module", "ca")
	logger.Infof("Handling incoming NEW Interest with name: %s", interest.Name())
	now := caState.clock()
	info, err := ndncert.NewRequestFromInterest(caState.profile, interest, sigCovered, now)
	if err != nil {
		logger.Errorf("Bad NEW Interest received: %s", err.Error())
		caState.replyWithError(interest, reply, ndncert.ErrorCodeOf(err), "")
		return
	}
	caPrefix := caState.profile.CaPrefix
	identity := info.CertRequest.Identity()
	if !caPrefix.IsPrefix(identity) || len(identity) == len(caPrefix) {
		logger.Errorf("Bad NEW Interest received: %s is not under %s", identity, caPrefix)
		caState.replyWithError(interest, reply, ndncert.ErrorCodeNameNotAllowed, "")
		return
	}

	ecdhState, err := crypto.NewECDHState()
	if err == nil {
		err = ecdhState.SetRemotePublicKey(info.EcdhPub)
	}
	if err != nil {
		logger.Errorf("Bad NEW Interest received: %s", err.Error())
		caState.replyWithError(interest, reply, ndncert.ErrorCodeBadParameterFormat, "")
		return
	}
	salt, err := crypto.MakeSalt()
	if err != nil {
		logger.Errorf("Failed to generate salt: %s", err.Error())
		return
	}

	state := &requestState{
		status:      ndncert.StatusBeforeChallenge,
		expiry:      now.Add(caState.requestTimeout),
		certRequest: info.CertRequest,
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if err = caState.requests.reserve(state); err != nil {
		logger.Errorf("Failed to allocate a request id: %s", err.Error())
		return
	}
	state.session, err = crypto.DeriveSessionKeys(crypto.Authority, ecdhState, salt, state.requestId)
	if err != nil {
		logger.Errorf("Failed to derive session keys: %s", err.Error())
		caState.requests.remove(state)
		caState.replyWithError(interest, reply, ndncert.ErrorCodeBadParameterFormat, "")
		return
	}
	logger.Infof("Created request %x for %s", state.requestId, info.CertRequest.Name())

	data, err := ndncert.MakeNewResponse(interest, caState.signer, &ndncert.NewData{
		EcdhPub:   ecdhState.PublicKeyBytes(),
		Salt:      salt,
		RequestId: state.requestId,
		Challenge: caState.challenges.Ids(),
	})
	caState.replyWithData(reply, data, err)
}

func (caState *CaState) OnChallenge(interest ndn.Interest, sigCovered enc.Wire, reply ndn.ReplyFunc) {
	logger := log.WithField("module", "ca")
	logger.Infof("Handling incoming CHALLENGE Interest with name: %s", interest.Name())
	requestId, err := ndncert.ParseChallengeRequestId(caState.profile.CaPrefix, interest)
	if err != nil {
		logger.Errorf("Bad CHALLENGE Interest received: %s", err.Error())
		caState.replyWithError(interest, reply, ndncert.ErrorCodeBadInterestFormat, "")
		return
	}

	state := caState.requests.get(requestId)
	if state == nil {
		logger.Errorf("Bad CHALLENGE Interest received: unknown request id %x", requestId)
		caState.replyWithError(interest, reply, ndncert.ErrorCodeInvalidParameters, "")
		return
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.removed {
		logger.Errorf("Bad CHALLENGE Interest received: request %x already ended", requestId)
		caState.replyWithError(interest, reply, ndncert.ErrorCodeInvalidParameters, "")
		return
	}
	now := caState.clock()
	if state.expiry.Before(now) {
		logger.Errorf("Request %x has run out of time", requestId)
		caState.requests.remove(state)
		caState.replyWithError(interest, reply, ndncert.ErrorCodeRunOutOfTime, "")
		return
	}

	request, err := ndncert.DecodeChallengeRequest(interest, sigCovered, state.certRequest.PublicKey(), caState.policy, state.session)
	if err != nil {
		logger.Errorf("Bad CHALLENGE Interest received for %x: %s", requestId, err.Error())
		caState.replyWithError(interest, reply, ndncert.ErrorCodeOf(err), "")
		return
	}

	var module ndncert.ServerChallenge
	switch state.status {
	case ndncert.StatusBeforeChallenge:
		var ok bool
		if module, ok = caState.challenges.Lookup(request.SelectedChallenge); !ok {
			logger.Errorf("Request %x selected unknown challenge %q", requestId, request.SelectedChallenge)
			caState.requests.remove(state)
			caState.replyWithError(interest, reply, ndncert.ErrorCodeInvalidParameters, "")
			return
		}
		state.challengeId = module.ChallengeId()
		state.remainingTries = module.RetryLimit()
		state.expiry = now.Add(module.TimeLimit())
		state.challenge = &ndncert.ChallengeContext{
			CaPrefix:    caState.profile.CaPrefix,
			RequestId:   state.requestId,
			CertRequest: state.certRequest,
		}
		logger.Infof("Request %x started challenge %s", requestId, state.challengeId)
	default:
		if request.SelectedChallenge != state.challengeId {
			logger.Errorf("Request %x switched challenge from %q to %q", requestId, state.challengeId, request.SelectedChallenge)
			caState.requests.remove(state)
			caState.replyWithError(interest, reply, ndncert.ErrorCodeInvalidParameters, "")
			return
		}
		module, _ = caState.challenges.Lookup(state.challengeId)
	}
	if state.remainingTries == 0 {
		logger.Errorf("Request %x has run out of tries", requestId)
		caState.requests.remove(state)
		caState.replyWithError(interest, reply, ndncert.ErrorCodeRunOutOfTries, "")
		return
	}

	state.challenge.Status = state.status
	state.challenge.Now = now
	outcome := module.Process(state.challenge, request.Parameters)
	state.status = ndncert.StatusChallenge

	switch {
	case outcome.Reject != 0:
		logger.Errorf("Request %x rejected by challenge %s: %s", requestId, state.challengeId, outcome.RejectInfo)
		caState.requests.remove(state)
		caState.replyWithError(interest, reply, outcome.Reject, outcome.RejectInfo)
		return
	case outcome.Success:
		caState.requests.remove(state)
		cert, err := caState.issue(state, now)
		if err != nil {
			logger.Errorf("Failed to issue certificate for %x: %s", requestId, err.Error())
			caState.replyWithError(interest, reply, ndncert.ErrorCodeOf(err), "")
			return
		}
		logger.Infof("Request %x succeeded, issued %s", requestId, cert.Name())
		state.status = ndncert.StatusSuccess
		caState.replyWithChallenge(interest, reply, state, &ndncert.ChallengeDataPlaintext{
			Status:                ndncert.StatusSuccess,
			ChallengeStatus:       outcome.ChallengeStatus,
			IssuedCertificateName: cert.FullName(),
			ForwardingHint:        caState.forwardingHint,
		})
		return
	}

	if outcome.DecrementRetry {
		// the try just spent was the last one
		if state.remainingTries <= 1 {
			logger.Errorf("Request %x has run out of tries", requestId)
			caState.requests.remove(state)
			caState.replyWithError(interest, reply, ndncert.ErrorCodeRunOutOfTries, "")
			return
		}
		state.remainingTries--
	}
	remainingTries := state.remainingTries
	remainingTime := uint64(0)
	if left := state.expiry.Sub(now); left > 0 {
		remainingTime = uint64(left / time.Second)
	}
	logger.Infof("Request %x: %s, %d tries and %ds left", requestId, outcome.ChallengeStatus, remainingTries, remainingTime)
	caState.replyWithChallenge(interest, reply, state, &ndncert.ChallengeDataPlaintext{
		Status:          ndncert.StatusChallenge,
		ChallengeStatus: outcome.ChallengeStatus,
		RemainingTries:  &remainingTries,
		RemainingTime:   &remainingTime,
		Parameters:      outcome.Parameters,
	})
}

// OnFetchCertificate serves issued certificates from the store.
func (caState *CaState) OnFetchCertificate(interest ndn.Interest, reply ndn.ReplyFunc) {
	logger := log.WithField("module", "ca")
	cert, err := caState.store.Get(interest.Name())
	if err != nil {
		logger.Debugf("No certificate for %s: %s", interest.Name(), err.Error())
		return
	}
	logger.Infof("Serving certificate %s", cert.Name())
	if err = reply(enc.Wire{cert.Wire()}); err != nil {
		logger.Errorf("Failed to reply with certificate: %s", err.Error())
	}
}

// issue mints the certificate for a request that passed its challenge and stores it.
func (caState *CaState) issue(state *requestState, now time.Time) (*security.Certificate, error) {
	cert, err := security.IssueCertificate(security.IssueOptions{
		KeyName:    state.certRequest.KeyName(),
		PublicKey:  state.certRequest.PublicKey(),
		IssuerId:   caState.issuerId,
		Validity:   state.certRequest.Validity(),
		Version:    uint64(now.UnixMilli()),
		SignerKey:  caState.key,
		SignerName: caState.profile.Certificate.KeyName(),
	})
	if err != nil {
		return nil, err
	}
	if err = caState.store.Insert(cert); err != nil {
		return nil, err
	}
	return cert, nil
}

func (caState *CaState) replyWithChallenge(interest ndn.Interest, reply ndn.ReplyFunc, state *requestState, plaintext *ndncert.ChallengeDataPlaintext) {
	data, err := ndncert.MakeChallengeResponse(interest, caState.signer, state.session, plaintext)
	caState.replyWithData(reply, data, err)
}

func (caState *CaState) replyWithError(interest ndn.Interest, reply ndn.ReplyFunc, errorCode ndncert.ErrorCode, errorInfo string) {
	logger := log.WithField("module", "ca")
	logger.Infof("Replying with error %s", errorCode)
	data, err := ndncert.MakeErrorData(interest, caState.signer, errorCode, errorInfo)
	caState.replyWithData(reply, data, err)
}

func (caState *CaState) replyWithData(reply ndn.ReplyFunc, data enc.Wire, makeDataError error) {
	logger := log.WithField("module", "ca")
	if makeDataError != nil {
		logger.Errorf("Failed to generate data packet: %s", makeDataError.Error())
		return
	}
	if err := reply(data); err != nil {
		logger.Errorf("Failed to reply with data: %s", err.Error())
	}
}
