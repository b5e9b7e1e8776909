package challenge

import (
	"time"

	"github.com/UCLA-IRL/go-ndncert/ndncert"
)

// Nop issues without any proof of control.
type Nop struct{}

func (*Nop) ChallengeId() string      { return string(KindNop) }
func (*Nop) RetryLimit() uint64       { return 1 }
func (*Nop) TimeLimit() time.Duration { return defaultTimeLimit }

func (*Nop) Process(*ndncert.ChallengeContext, []ndncert.Parameter) ndncert.ChallengeOutcome {
	return ndncert.ChallengeOutcome{Success: true, ChallengeStatus: ndncert.ChallengeStatusSuccess}
}

// NopClient answers a nop challenge with no parameters.
type NopClient struct{}

func (*NopClient) ChallengeId() string { return string(KindNop) }

func (*NopClient) Start(*ndncert.ClientChallengeContext) ([]ndncert.Parameter, error) {
	return nil, nil
}

func (*NopClient) Next(*ndncert.ClientChallengeContext) ([]ndncert.Parameter, error) {
	return nil, nil
}
