package challenge

import (
	"crypto/ecdsa"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	enc "github.com/zjkmxy/go-ndn/pkg/encoding"

	"github.com/UCLA-IRL/go-ndncert/ndncert"
	"github.com/UCLA-IRL/go-ndncert/security"
)

func selfSigned(t *testing.T, identity string, validity security.ValidityPeriod) (*security.Certificate, *ecdsa.PrivateKey) {
	key, err := security.GenerateKey()
	require.NoError(t, err)
	id, err := enc.NameFromStr(identity)
	require.NoError(t, err)
	cert, err := security.MakeSelfSignedCertificate(security.MakeKeyName(id), key, validity)
	require.NoError(t, err)
	return cert, key
}

func newContext(t *testing.T) *ndncert.ChallengeContext {
	cert, _ := selfSigned(t, "/ndn/edu/ucla/alice", security.NewValidityPeriod(time.Now(), time.Hour))
	caPrefix, _ := enc.NameFromStr("/ndn/edu/ucla")
	return &ndncert.ChallengeContext{
		CaPrefix:    caPrefix,
		RequestId:   []byte("req00001"),
		CertRequest: cert,
		Status:      ndncert.StatusBeforeChallenge,
		Now:         time.Now(),
	}
}

func codeParams(code string) []ndncert.Parameter {
	return []ndncert.Parameter{{Key: ParameterKeyCode, Value: []byte(code)}}
}

func TestRegistryFromConfig(t *testing.T) {
	anchor, _ := security.GenerateKey()
	registry, err := FromConfig([]Config{
		{Type: KindPin, RetryLimit: 5},
		{Type: KindNop},
		{Type: KindPossession},
	}, Hooks{TrustAnchor: &anchor.PublicKey})
	require.NoError(t, err)
	require.Equal(t, []string{"pin", "nop", "possession"}, registry.Ids())

	pin, ok := registry.Lookup("pin")
	require.True(t, ok)
	require.Equal(t, uint64(5), pin.RetryLimit())
	require.Equal(t, defaultTimeLimit, pin.TimeLimit())
	_, ok = registry.Lookup("email")
	require.False(t, ok)

	_, err = FromConfig([]Config{{Type: KindEmail}}, Hooks{})
	require.Error(t, err)
	_, err = FromConfig([]Config{{Type: "sms"}}, Hooks{})
	require.Error(t, err)
	_, err = FromConfig([]Config{{Type: KindNop}, {Type: KindNop}}, Hooks{})
	require.Error(t, err)
}

func TestRegistryRejectsZeroRetryLimit(t *testing.T) {
	_, err := NewRegistry(&Pin{Timeout: time.Minute})
	require.ErrorIs(t, err, ndncert.ErrValidation)
	_, err = NewRegistry(&Nop{}, &Email{Mailer: &fakeMailer{}})
	require.ErrorIs(t, err, ndncert.ErrValidation)

	registry, err := NewRegistry(&Pin{Retries: 1, Timeout: time.Minute})
	require.NoError(t, err)
	pin, _ := registry.Lookup("pin")
	require.Equal(t, uint64(1), pin.RetryLimit())
}

func TestSelect(t *testing.T) {
	modules := []ndncert.ClientChallenge{&EmailClient{}, &PinClient{}}
	m, err := Select([]string{"pin", "nop"}, modules)
	require.NoError(t, err)
	require.Equal(t, "pin", m.ChallengeId())

	_, err = Select([]string{"possession"}, modules)
	require.ErrorIs(t, err, ndncert.ErrUnsupportedChallenge)
}

func TestPin(t *testing.T) {
	var delivered string
	pin := &Pin{Retries: 3, Timeout: time.Minute, OnNewPin: func(requestId []byte, code string) {
		require.Equal(t, "req00001", string(requestId))
		delivered = code
	}}
	ctx := newContext(t)

	out := pin.Process(ctx, nil)
	require.False(t, out.Success)
	require.Equal(t, ndncert.ChallengeStatusNeedCode, out.ChallengeStatus)
	require.Len(t, delivered, pinLength)
	ctx.Status = ndncert.StatusChallenge

	out = pin.Process(ctx, codeParams("not-it"))
	require.False(t, out.Success)
	require.True(t, out.DecrementRetry)
	require.Equal(t, ndncert.ChallengeStatusWrongCode, out.ChallengeStatus)

	out = pin.Process(ctx, nil)
	require.True(t, out.DecrementRetry)

	out = pin.Process(ctx, codeParams(delivered))
	require.True(t, out.Success)
}

func TestPinClientPrompt(t *testing.T) {
	client := &PinClient{Prompt: func(status string) (string, error) {
		require.Equal(t, ndncert.ChallengeStatusNeedCode, status)
		return "123456", nil
	}}
	params, err := client.Next(&ndncert.ClientChallengeContext{ChallengeStatus: ndncert.ChallengeStatusNeedCode})
	require.NoError(t, err)
	require.Equal(t, codeParams("123456"), params)

	_, err = (&PinClient{}).Next(&ndncert.ClientChallengeContext{})
	require.ErrorIs(t, err, ndncert.ErrValidation)
}

type fakeMailer struct {
	to, subject, body string
	err               error
}

func (m *fakeMailer) Send(to, subject, body string) error {
	m.to, m.subject, m.body = to, subject, body
	return m.err
}

func TestEmail(t *testing.T) {
	mailer := &fakeMailer{}
	var sentTo string
	challenge := &Email{
		Retries: 3,
		Timeout: time.Minute,
		Mailer:  mailer,
		Subject: "Code for $subjectName$",
		Body:    "$caPrefix$ $requestId$ $pin$",
		OnEmailSent: func(requestId []byte, address string) {
			sentTo = address
		},
	}
	ctx := newContext(t)

	out := challenge.Process(ctx, []ndncert.Parameter{{Key: ParameterKeyEmail, Value: []byte("nope")}})
	require.Equal(t, ndncert.ChallengeStatusInvalidEmail, out.ChallengeStatus)
	require.True(t, out.DecrementRetry)
	require.Nil(t, ctx.State)

	out = challenge.Process(ctx, []ndncert.Parameter{{Key: ParameterKeyEmail, Value: []byte("alice@example.com")}})
	require.Equal(t, ndncert.ChallengeStatusNeedCode, out.ChallengeStatus)
	require.Equal(t, "alice@example.com", sentTo)
	require.Equal(t, "Code for /ndn/edu/ucla/alice", mailer.subject)
	code := ctx.State.(*emailState).code
	require.Equal(t, "/ndn/edu/ucla req00001 "+code, mailer.body)

	require.True(t, challenge.Process(ctx, codeParams("000000x")).DecrementRetry)
	require.True(t, challenge.Process(ctx, codeParams(code)).Success)
}

func TestEmailRejections(t *testing.T) {
	var failed error
	challenge := &Email{
		Mailer: &fakeMailer{err: errors.New("smtp down")},
		OnEmailError: func(requestId []byte, address string, err error) {
			failed = err
		},
	}
	params := []ndncert.Parameter{{Key: ParameterKeyEmail, Value: []byte("alice@example.com")}}
	out := challenge.Process(newContext(t), params)
	require.Equal(t, ndncert.ErrorCodeInvalidParameters, out.Reject)
	require.Error(t, failed)

	challenge = &Email{
		Mailer: &fakeMailer{},
		Policy: func(subjectName enc.Name, address string) bool { return false },
	}
	out = challenge.Process(newContext(t), params)
	require.Equal(t, ndncert.ErrorCodeNameNotAllowed, out.Reject)
}

func TestEmailClient(t *testing.T) {
	client := &EmailClient{Address: "alice@example.com", Prompt: func(string) (string, error) { return "42", nil }}
	params, err := client.Start(nil)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", string(params[0].Value))

	_, err = client.Next(&ndncert.ClientChallengeContext{ChallengeStatus: ndncert.ChallengeStatusInvalidEmail})
	require.ErrorIs(t, err, ndncert.ErrValidation)
	_, err = (&EmailClient{Address: "bad"}).Start(nil)
	require.ErrorIs(t, err, ndncert.ErrValidation)
}

// issued returns a certificate for alice signed by anchor.
func issued(t *testing.T, anchor *ecdsa.PrivateKey, validity security.ValidityPeriod) (*security.Certificate, *ecdsa.PrivateKey) {
	key, err := security.GenerateKey()
	require.NoError(t, err)
	id, _ := enc.NameFromStr("/ndn/edu/ucla/alice")
	anchorName, _ := enc.NameFromStr("/ndn/edu/ucla/KEY/anchor")
	cert, err := security.IssueCertificate(security.IssueOptions{
		KeyName:    security.MakeKeyName(id),
		PublicKey:  &key.PublicKey,
		IssuerId:   "NDNCERT",
		Validity:   validity,
		Version:    1,
		SignerKey:  anchor,
		SignerName: anchorName,
	})
	require.NoError(t, err)
	return cert, key
}

func runPossession(t *testing.T, server *Possession, ctx *ndncert.ChallengeContext, client *PossessionClient) ndncert.ChallengeOutcome {
	params, err := client.Start(nil)
	require.NoError(t, err)
	out := server.Process(ctx, params)
	require.Zero(t, out.Reject, out.RejectInfo)
	require.Equal(t, ndncert.ChallengeStatusNeedProof, out.ChallengeStatus)

	params, err = client.Next(&ndncert.ClientChallengeContext{Parameters: out.Parameters})
	require.NoError(t, err)
	return server.Process(ctx, params)
}

func TestPossession(t *testing.T) {
	anchor, _ := security.GenerateKey()
	server, err := NewPossession(&anchor.PublicKey, nil)
	require.NoError(t, err)
	cert, key := issued(t, anchor, security.NewValidityPeriod(time.Now().Add(-time.Hour), 2*time.Hour))

	out := runPossession(t, server, newContext(t), &PossessionClient{Certificate: cert, Key: key})
	require.True(t, out.Success)

	// Proof by a key that does not match the certificate.
	_, otherKey := issued(t, anchor, security.NewValidityPeriod(time.Now().Add(-time.Hour), 2*time.Hour))
	out = runPossession(t, server, newContext(t), &PossessionClient{Certificate: cert, Key: otherKey})
	require.Equal(t, ndncert.ErrorCodeBadSignature, out.Reject)
}

func TestPossessionRejectsTamperedCertificate(t *testing.T) {
	anchor, _ := security.GenerateKey()
	server, _ := NewPossession(&anchor.PublicKey, nil)
	cert, key := issued(t, anchor, security.NewValidityPeriod(time.Now().Add(-time.Hour), 2*time.Hour))
	client := &PossessionClient{Certificate: cert, Key: key}
	ctx := newContext(t)

	params, _ := client.Start(nil)
	out := server.Process(ctx, params)
	params, err := client.Next(&ndncert.ClientChallengeContext{Parameters: out.Parameters})
	require.NoError(t, err)

	tampered := append([]byte(nil), params[0].Value...)
	tampered[len(tampered)-1] ^= 0xff
	params[0].Value = tampered
	out = server.Process(ctx, params)
	require.False(t, out.Success)
	require.Equal(t, ndncert.ErrorCodeBadParameterFormat, out.Reject)
}

func TestPossessionTrustAndValidity(t *testing.T) {
	anchor, _ := security.GenerateKey()
	server, _ := NewPossession(&anchor.PublicKey, nil)

	stranger, strangerKey := selfSigned(t, "/ndn/edu/ucla/alice", security.NewValidityPeriod(time.Now().Add(-time.Minute), time.Hour))
	params, _ := (&PossessionClient{Certificate: stranger, Key: strangerKey}).Start(nil)
	require.Equal(t, ndncert.ErrorCodeNameNotAllowed, server.Process(newContext(t), params).Reject)

	expired, expiredKey := issued(t, anchor, security.NewValidityPeriod(time.Now().Add(-3*time.Hour), time.Hour))
	params, _ = (&PossessionClient{Certificate: expired, Key: expiredKey}).Start(nil)
	require.Equal(t, ndncert.ErrorCodeBadValidityPeriod, server.Process(newContext(t), params).Reject)

	_, err := NewPossession(nil, nil)
	require.Error(t, err)
}

func TestPossessionClientRejectsShortNonce(t *testing.T) {
	cert, key := selfSigned(t, "/ndn/alice", security.NewValidityPeriod(time.Now(), time.Hour))
	client := &PossessionClient{Certificate: cert, Key: key}
	_, err := client.Next(&ndncert.ClientChallengeContext{
		Parameters: []ndncert.Parameter{{Key: ParameterKeyNonce, Value: make([]byte, NonceLength-1)}},
	})
	require.ErrorIs(t, err, ndncert.ErrValidation)
	_, err = client.Next(&ndncert.ClientChallengeContext{})
	require.ErrorIs(t, err, ndncert.ErrValidation)
}

func TestNop(t *testing.T) {
	require.True(t, (&Nop{}).Process(newContext(t), nil).Success)
	params, err := (&NopClient{}).Start(nil)
	require.NoError(t, err)
	require.Empty(t, params)
}
