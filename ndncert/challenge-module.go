package ndncert

import (
	"time"

	"github.com/UCLA-IRL/go-ndncert/security"
	enc "github.com/zjkmxy/go-ndn/pkg/encoding"
)

// ChallengeContext is the per-request view a ServerChallenge works with. Status is the request status
// before this round: StatusBeforeChallenge on the first call to Process.
type ChallengeContext struct {
	CaPrefix    enc.Name
	RequestId   []byte
	CertRequest *security.Certificate
	Status      Status
	Now         time.Time
	// State belongs to the challenge and lives as long as the request.
	State any
}

// ChallengeOutcome is the result of one challenge round. A non-zero Reject ends the request with that
// error code and no retry.
type ChallengeOutcome struct {
	Success         bool
	DecrementRetry  bool
	ChallengeStatus string
	Parameters      []Parameter
	Reject          ErrorCode
	RejectInfo      string
}

// ServerChallenge validates proof of control on the CA.
type ServerChallenge interface {
	ChallengeId() string
	RetryLimit() uint64
	TimeLimit() time.Duration
	Process(ctx *ChallengeContext, params []Parameter) ChallengeOutcome
}

// ClientChallengeContext carries what the requester knows after the last CA reply.
type ClientChallengeContext struct {
	CaPrefix        enc.Name
	RequestId       []byte
	KeyName         enc.Name
	Status          Status
	ChallengeStatus string
	RemainingTries  *uint64
	RemainingTime   *uint64
	Parameters      []Parameter
}

// ClientChallenge answers a challenge on the requester. Start is called once, Next on every later round.
type ClientChallenge interface {
	ChallengeId() string
	Start(ctx *ClientChallengeContext) ([]Parameter, error)
	Next(ctx *ClientChallengeContext) ([]Parameter, error)
}
