package challenge

import (
	"fmt"
	"time"

	"github.com/apex/log"
	enc "github.com/zjkmxy/go-ndn/pkg/encoding"

	"github.com/UCLA-IRL/go-ndncert/email"
	"github.com/UCLA-IRL/go-ndncert/ndncert"
)

// Mailer delivers a message to one address. *email.SmtpModule is the production implementation.
type Mailer interface {
	Send(to, subject, body string) error
}

// EmailAssignmentPolicy decides whether subjectName may be issued to the owner of address.
type EmailAssignmentPolicy func(subjectName enc.Name, address string) bool

// Email sends a code to an address supplied by the requester. Subject and Body may use the $caPrefix$,
// $requestId$, $subjectName$, $keyName$ and $pin$ tokens.
type Email struct {
	Retries      uint64
	Timeout      time.Duration
	Mailer       Mailer
	Subject      string
	Body         string
	Policy       EmailAssignmentPolicy
	OnEmailSent  func(requestId []byte, address string)
	OnEmailError func(requestId []byte, address string, err error)
}

type emailState struct {
	address string
	code    string
}

func (e *Email) ChallengeId() string      { return string(KindEmail) }
func (e *Email) RetryLimit() uint64       { return e.Retries }
func (e *Email) TimeLimit() time.Duration { return e.Timeout }

func (e *Email) Process(ctx *ndncert.ChallengeContext, params []ndncert.Parameter) ndncert.ChallengeOutcome {
	if state, sent := ctx.State.(*emailState); sent {
		return checkCode(state.code, params)
	}
	logger := log.WithField("module", "challenge")

	address, ok := param(params, ParameterKeyEmail)
	if !ok || email.ValidateAddress(address) != nil {
		logger.Infof("Request %x supplied an invalid email address %q", ctx.RequestId, address)
		return ndncert.ChallengeOutcome{DecrementRetry: true, ChallengeStatus: ndncert.ChallengeStatusInvalidEmail}
	}
	subjectName := ctx.CertRequest.Identity()
	if e.Policy != nil && !e.Policy(subjectName, address) {
		logger.Errorf("Email %s may not be assigned %s", address, subjectName)
		return ndncert.ChallengeOutcome{
			Reject:     ndncert.ErrorCodeNameNotAllowed,
			RejectInfo: fmt.Sprintf("%s cannot be assigned to %s", subjectName, address),
		}
	}

	code, err := newPin()
	if err != nil {
		return ndncert.ChallengeOutcome{Reject: ndncert.ErrorCodeInvalidParameters, RejectInfo: "failed to generate PIN"}
	}
	subject, body := e.Subject, e.Body
	if subject == "" {
		subject = email.DefaultSubject
	}
	if body == "" {
		body = email.DefaultBody
	}
	values := map[string]string{
		"caPrefix":    ctx.CaPrefix.String(),
		"requestId":   string(ctx.RequestId),
		"subjectName": subjectName.String(),
		"keyName":     ctx.CertRequest.KeyName().String(),
		"pin":         code,
	}
	err = e.Mailer.Send(address, email.ExpandTemplate(subject, values), email.ExpandTemplate(body, values))
	if err != nil {
		if e.OnEmailError != nil {
			e.OnEmailError(ctx.RequestId, address, err)
		}
		return ndncert.ChallengeOutcome{Reject: ndncert.ErrorCodeInvalidParameters, RejectInfo: "failed to send the challenge email"}
	}
	if e.OnEmailSent != nil {
		e.OnEmailSent(ctx.RequestId, address)
	}
	ctx.State = &emailState{address: address, code: code}
	return ndncert.ChallengeOutcome{ChallengeStatus: ndncert.ChallengeStatusNeedCode}
}

// EmailClient supplies Address and then asks Prompt for the code that arrived by email.
type EmailClient struct {
	Address string
	Prompt  CodePrompt
}

func (*EmailClient) ChallengeId() string { return string(KindEmail) }

func (c *EmailClient) Start(*ndncert.ClientChallengeContext) ([]ndncert.Parameter, error) {
	if err := email.ValidateAddress(c.Address); err != nil {
		return nil, fmt.Errorf("%w: %w", ndncert.ErrValidation, err)
	}
	return []ndncert.Parameter{{Key: ParameterKeyEmail, Value: []byte(c.Address)}}, nil
}

func (c *EmailClient) Next(ctx *ndncert.ClientChallengeContext) ([]ndncert.Parameter, error) {
	if ctx.ChallengeStatus == ndncert.ChallengeStatusInvalidEmail {
		return nil, fmt.Errorf("%w: CA rejected email address %s", ndncert.ErrValidation, c.Address)
	}
	return promptCode(c.Prompt, ctx)
}
