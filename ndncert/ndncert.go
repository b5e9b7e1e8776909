// Package ndncert builds and parses the NDNCERT enrollment messages: the CA profile, PROBE, NEW,
// CHALLENGE and error replies.
package ndncert

import (
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/UCLA-IRL/go-ndncert/security"
	enc "github.com/zjkmxy/go-ndn/pkg/encoding"
	"github.com/zjkmxy/go-ndn/pkg/ndn"
	"github.com/zjkmxy/go-ndn/pkg/ndn/spec_2022"
	"github.com/zjkmxy/go-ndn/pkg/utils"
)

const (
	ComponentCa        = "CA"
	ComponentInfo      = "INFO"
	ComponentProbe     = "PROBE"
	ComponentNew       = "NEW"
	ComponentChallenge = "CHALLENGE"
)

const (
	ChallengeStatusNeedCode     = "need-code"
	ChallengeStatusWrongCode    = "wrong-code"
	ChallengeStatusInvalidEmail = "invalid-email"
	ChallengeStatusNeedProof    = "need-proof"
	ChallengeStatusSuccess      = "success"
)

const (
	// NotBeforeGracePeriod is how far before now a requester backdates its certificate.
	NotBeforeGracePeriod = 60 * time.Second
	// ClockSkewTolerance bounds the requester/CA clock difference the NEW validity check accepts.
	ClockSkewTolerance = 60 * time.Second
	responseFreshness  = time.Second
	interestLifetime   = 4 * time.Second
)

type Status uint64

const (
	StatusBeforeChallenge Status = 0
	StatusChallenge       Status = 1
	StatusPending         Status = 2
	StatusSuccess         Status = 3
	StatusFailure         Status = 4
)

func (s Status) String() string {
	switch s {
	case StatusBeforeChallenge:
		return "BeforeChallenge"
	case StatusChallenge:
		return "Challenge"
	case StatusPending:
		return "Pending"
	case StatusSuccess:
		return "Success"
	case StatusFailure:
		return "Failure"
	}
	return fmt.Sprintf("Status(%d)", uint64(s))
}

func caName(caPrefix enc.Name, rest ...string) enc.Name {
	comps := []enc.Component{security.GenericComponent(ComponentCa)}
	for _, c := range rest {
		comps = append(comps, security.GenericComponent(c))
	}
	return security.Append(caPrefix, comps...)
}

// InfoName is <caPrefix>/CA/INFO.
func InfoName(caPrefix enc.Name) enc.Name {
	return caName(caPrefix, ComponentInfo)
}

func ProbeName(caPrefix enc.Name) enc.Name {
	return caName(caPrefix, ComponentProbe)
}

func NewName(caPrefix enc.Name) enc.Name {
	return caName(caPrefix, ComponentNew)
}

// ChallengeName is <caPrefix>/CA/CHALLENGE, or <caPrefix>/CA/CHALLENGE/<requestId> when requestId is given.
func ChallengeName(caPrefix enc.Name, requestId []byte) enc.Name {
	name := caName(caPrefix, ComponentChallenge)
	if requestId != nil {
		name = append(name, enc.NewBytesComponent(enc.TypeGenericNameComponent, requestId))
	}
	return name
}

// WithoutDigest strips a trailing ParametersSha256Digest component.
func WithoutDigest(name enc.Name) enc.Name {
	if len(name) > 0 && name[len(name)-1].Typ == enc.TypeParametersSha256DigestComponent {
		return name[:len(name)-1]
	}
	return name
}

// Request is an Interest ready to be expressed.
type Request struct {
	Name     enc.Name
	Config   *ndn.InterestConfig
	AppParam enc.Wire
	Signer   ndn.Signer
}

func newRequest(name enc.Name, appParam []byte, signer ndn.Signer) *Request {
	return &Request{
		Name: name,
		Config: &ndn.InterestConfig{
			MustBeFresh: true,
			Lifetime:    utils.IdPtr(interestLifetime),
		},
		AppParam: enc.Wire{appParam},
		Signer:   signer,
	}
}

// Build encodes the request the way an engine would send it and decodes it again, as a producer
// receives it.
func (r *Request) Build() (ndn.Interest, enc.Wire, error) {
	cfg := *r.Config
	if cfg.Nonce == nil {
		cfg.Nonce = utils.IdPtr(uint64(0))
	}
	wire, _, _, err := spec_2022.Spec{}.MakeInterest(security.Append(r.Name), &cfg, r.AppParam, r.Signer)
	if err != nil {
		return nil, nil, err
	}
	interest, sigCovered, err := spec_2022.Spec{}.ReadInterest(enc.NewBufferReader(wire.Join()))
	if err != nil {
		return nil, nil, err
	}
	return interest, sigCovered, nil
}

// verifyResponse checks the CA signature and turns an ErrorMsg into a *ProtocolError.
func verifyResponse(data ndn.Data, sigCovered enc.Wire, caKey *ecdsa.PublicKey) ([]byte, error) {
	if err := security.VerifyData(data, sigCovered, caKey); err != nil {
		return nil, err
	}
	content := data.Content().Join()
	if len(content) > 0 && content[0] == byte(TypeErrorCode) {
		msg, err := ParseErrorMessage(content)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed error message: %v", ErrValidation, err)
		}
		return nil, &ProtocolError{Code: msg.ErrorCode, Info: msg.ErrorInfo}
	}
	return content, nil
}

// makeResponse signs content as a Data named name, which is the name of the Interest it answers.
func makeResponse(name enc.Name, content []byte, signer ndn.Signer) (enc.Wire, error) {
	wire, _, err := spec_2022.Spec{}.MakeData(name, &ndn.DataConfig{
		ContentType: utils.IdPtr(ndn.ContentTypeBlob),
		Freshness:   utils.IdPtr(responseFreshness),
	}, enc.Wire{content}, signer)
	return wire, err
}
