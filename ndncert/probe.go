package ndncert

import (
	"fmt"

	"github.com/UCLA-IRL/go-ndncert/security"
	enc "github.com/zjkmxy/go-ndn/pkg/encoding"
	"github.com/zjkmxy/go-ndn/pkg/ndn"
	"golang.org/x/exp/slices"
)

// checkProbeParameters requires the keys of params to be exactly the profile's probe keys.
func checkProbeParameters(profile *Profile, params []Parameter) error {
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		if !slices.Contains(profile.ProbeKeys, p.Key) {
			return fmt.Errorf("%w: unknown probe parameter %q", ErrValidation, p.Key)
		}
		if seen[p.Key] {
			return fmt.Errorf("%w: duplicate probe parameter %q", ErrValidation, p.Key)
		}
		seen[p.Key] = true
	}
	for _, key := range profile.ProbeKeys {
		if !seen[key] {
			return fmt.Errorf("%w: missing probe parameter %q", ErrValidation, key)
		}
	}
	return nil
}

func MakeProbeRequest(profile *Profile, params []Parameter) (*Request, error) {
	if err := checkProbeParameters(profile, params); err != nil {
		return nil, err
	}
	return newRequest(ProbeName(profile.CaPrefix), (&ProbeInterest{Parameters: params}).Encode(), nil), nil
}

// ProbeRequestFromInterest returns the probe parameters of an incoming PROBE Interest.
func ProbeRequestFromInterest(profile *Profile, interest ndn.Interest) ([]Parameter, error) {
	if interest.AppParam() == nil {
		return nil, fmt.Errorf("%w: probe without parameters", ErrBadInterestFormat)
	}
	req, err := ParseProbeInterest(interest.AppParam().Join())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadParameterFormat, err)
	}
	if err = checkProbeParameters(profile, req.Parameters); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParameters, err)
	}
	return req.Parameters, nil
}

// checkRedirect requires a certificate name followed by its implicit digest.
func checkRedirect(name enc.Name) error {
	if len(name) == 0 || name[len(name)-1].Typ != enc.TypeImplicitSha256DigestComponent || !security.IsCertName(name[:len(name)-1]) {
		return fmt.Errorf("%w: bad redirect %s", ErrValidation, name)
	}
	return nil
}

func (p *ProbeData) validate() error {
	if len(p.Entries)+len(p.Redirects) == 0 {
		return fmt.Errorf("%w: probe response has neither entries nor redirects", ErrValidation)
	}
	for _, redirect := range p.Redirects {
		if err := checkRedirect(redirect); err != nil {
			return err
		}
	}
	return nil
}

func MakeProbeResponse(interest ndn.Interest, signer ndn.Signer, entries []ProbeEntry, redirects []enc.Name) (enc.Wire, error) {
	res := &ProbeData{Entries: entries, Redirects: redirects}
	if err := res.validate(); err != nil {
		return nil, err
	}
	return makeResponse(interest.Name(), res.Encode(), signer)
}

func ProbeResponseFromData(profile *Profile, data ndn.Data, sigCovered enc.Wire) (*ProbeData, error) {
	content, err := verifyResponse(data, sigCovered, profile.PublicKey())
	if err != nil {
		return nil, err
	}
	res, err := ParseProbeData(content)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed probe response: %v", ErrValidation, err)
	}
	return res, res.validate()
}

// Match reports whether name is an entry prefix or lies under one within its MaxSuffixLength.
func (p *ProbeData) Match(name enc.Name) bool {
	for _, entry := range p.Entries {
		if !entry.Name.IsPrefix(name) {
			continue
		}
		if entry.MaxSuffixLength == nil || uint64(len(name)-len(entry.Name)) <= *entry.MaxSuffixLength {
			return true
		}
	}
	return false
}
