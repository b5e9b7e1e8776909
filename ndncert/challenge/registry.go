// Package challenge holds the proof-of-control methods an NDNCERT CA can require: nop, pin, email and
// possession.
package challenge

import (
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/UCLA-IRL/go-ndncert/ndncert"
	"golang.org/x/exp/slices"
)

type Kind string

const (
	KindNop        Kind = "nop"
	KindPin        Kind = "pin"
	KindEmail      Kind = "email"
	KindPossession Kind = "possession"
)

const (
	defaultRetryLimit = 3
	defaultTimeLimit  = 300 * time.Second
)

// Config is one entry of the CA's challenge list.
type Config struct {
	Type       Kind   `yaml:"type"`
	RetryLimit uint64 `yaml:"retryLimit"`
	TimeLimit  uint64 `yaml:"timeLimit"` // seconds
}

func (c Config) limits() (uint64, time.Duration) {
	retryLimit, timeLimit := c.RetryLimit, time.Duration(c.TimeLimit)*time.Second
	if retryLimit == 0 {
		retryLimit = defaultRetryLimit
	}
	if timeLimit == 0 {
		timeLimit = defaultTimeLimit
	}
	return retryLimit, timeLimit
}

// Hooks are the callbacks and collaborators the server variants need.
type Hooks struct {
	OnNewPin         func(requestId []byte, pin string)
	Mailer           Mailer
	Subject          string
	Body             string
	EmailPolicy      EmailAssignmentPolicy
	OnEmailSent      func(requestId []byte, address string)
	OnEmailError     func(requestId []byte, address string, err error)
	TrustAnchor      *ecdsa.PublicKey
	PossessionPolicy PossessionPolicy
}

// Registry looks up the CA's challenges by id, in configuration order.
type Registry struct {
	modules map[string]ndncert.ServerChallenge
	ids     []string
}

func NewRegistry(modules ...ndncert.ServerChallenge) (*Registry, error) {
	r := &Registry{modules: make(map[string]ndncert.ServerChallenge)}
	for _, m := range modules {
		id := m.ChallengeId()
		if _, dup := r.modules[id]; dup {
			return nil, fmt.Errorf("%w: challenge %q configured twice", ndncert.ErrValidation, id)
		}
		if m.RetryLimit() == 0 {
			return nil, fmt.Errorf("%w: challenge %q allows no tries", ndncert.ErrValidation, id)
		}
		r.modules[id] = m
		r.ids = append(r.ids, id)
	}
	if len(r.ids) == 0 {
		return nil, fmt.Errorf("%w: no challenge configured", ndncert.ErrValidation)
	}
	return r, nil
}

// FromConfig builds the server variants named by configs.
func FromConfig(configs []Config, hooks Hooks) (*Registry, error) {
	modules := make([]ndncert.ServerChallenge, 0, len(configs))
	for _, c := range configs {
		retryLimit, timeLimit := c.limits()
		switch c.Type {
		case KindNop:
			modules = append(modules, &Nop{})
		case KindPin:
			modules = append(modules, &Pin{Retries: retryLimit, Timeout: timeLimit, OnNewPin: hooks.OnNewPin})
		case KindEmail:
			if hooks.Mailer == nil {
				return nil, fmt.Errorf("%w: email challenge needs a mailer", ndncert.ErrValidation)
			}
			modules = append(modules, &Email{
				Retries:      retryLimit,
				Timeout:      timeLimit,
				Mailer:       hooks.Mailer,
				Subject:      hooks.Subject,
				Body:         hooks.Body,
				Policy:       hooks.EmailPolicy,
				OnEmailSent:  hooks.OnEmailSent,
				OnEmailError: hooks.OnEmailError,
			})
		case KindPossession:
			possession, err := NewPossession(hooks.TrustAnchor, hooks.PossessionPolicy)
			if err != nil {
				return nil, err
			}
			possession.Retries, possession.Timeout = retryLimit, timeLimit
			modules = append(modules, possession)
		default:
			return nil, fmt.Errorf("unknown challenge type %q", c.Type)
		}
	}
	return NewRegistry(modules...)
}

func (r *Registry) Lookup(id string) (ndncert.ServerChallenge, bool) {
	m, ok := r.modules[id]
	return m, ok
}

func (r *Registry) Ids() []string {
	return slices.Clone(r.ids)
}

// Select returns the first of the requester's modules the CA offers.
func Select(offered []string, modules []ndncert.ClientChallenge) (ndncert.ClientChallenge, error) {
	for _, m := range modules {
		if slices.Contains(offered, m.ChallengeId()) {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: CA offers %v", ndncert.ErrUnsupportedChallenge, offered)
}

// CodePrompt asks the user for a code. challengeStatus is the CA's last status token.
type CodePrompt func(challengeStatus string) (string, error)

func param(params []ndncert.Parameter, key string) (string, bool) {
	v, ok := ndncert.GetParameter(params, key)
	return string(v), ok
}
