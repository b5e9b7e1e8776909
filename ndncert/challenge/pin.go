package challenge

import (
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/UCLA-IRL/go-ndncert/ndncert"
	"go.step.sm/crypto/randutil"
)

const (
	ParameterKeyCode       = "code"
	ParameterKeyEmail      = "email"
	ParameterKeyIssuedCert = "issued-cert"
	ParameterKeyNonce      = "nonce"
	ParameterKeyProof      = "proof"
)

const pinLength = 6

func newPin() (string, error) {
	return randutil.String(pinLength, "0123456789")
}

// checkCode is the second half of the pin and email challenges.
func checkCode(expected string, params []ndncert.Parameter) ndncert.ChallengeOutcome {
	code, ok := param(params, ParameterKeyCode)
	if ok && subtle.ConstantTimeCompare([]byte(code), []byte(expected)) == 1 {
		return ndncert.ChallengeOutcome{Success: true, ChallengeStatus: ndncert.ChallengeStatusSuccess}
	}
	return ndncert.ChallengeOutcome{DecrementRetry: true, ChallengeStatus: ndncert.ChallengeStatusWrongCode}
}

// Pin generates a code when the challenge starts and hands it to OnNewPin for out-of-band delivery.
type Pin struct {
	Retries  uint64
	Timeout  time.Duration
	OnNewPin func(requestId []byte, pin string)
}

type pinState struct {
	code string
}

func (p *Pin) ChallengeId() string      { return string(KindPin) }
func (p *Pin) RetryLimit() uint64       { return p.Retries }
func (p *Pin) TimeLimit() time.Duration { return p.Timeout }

func (p *Pin) Process(ctx *ndncert.ChallengeContext, params []ndncert.Parameter) ndncert.ChallengeOutcome {
	state, started := ctx.State.(*pinState)
	if !started {
		code, err := newPin()
		if err != nil {
			return ndncert.ChallengeOutcome{Reject: ndncert.ErrorCodeInvalidParameters, RejectInfo: "failed to generate PIN"}
		}
		ctx.State = &pinState{code: code}
		if p.OnNewPin != nil {
			p.OnNewPin(ctx.RequestId, code)
		}
		return ndncert.ChallengeOutcome{ChallengeStatus: ndncert.ChallengeStatusNeedCode}
	}
	return checkCode(state.code, params)
}

// PinClient asks Prompt for the code the CA handed out.
type PinClient struct {
	Prompt CodePrompt
}

func (*PinClient) ChallengeId() string { return string(KindPin) }

func (*PinClient) Start(*ndncert.ClientChallengeContext) ([]ndncert.Parameter, error) {
	return nil, nil
}

func (c *PinClient) Next(ctx *ndncert.ClientChallengeContext) ([]ndncert.Parameter, error) {
	return promptCode(c.Prompt, ctx)
}

func promptCode(prompt CodePrompt, ctx *ndncert.ClientChallengeContext) ([]ndncert.Parameter, error) {
	if prompt == nil {
		return nil, fmt.Errorf("%w: no code prompt configured", ndncert.ErrValidation)
	}
	code, err := prompt(ctx.ChallengeStatus)
	if err != nil {
		return nil, err
	}
	return []ndncert.Parameter{{Key: ParameterKeyCode, Value: []byte(code)}}, nil
}
