// Package security provides the ECDSA signers, certificates and validity periods used by go-ndncert.
package security

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"
	"time"

	enc "github.com/zjkmxy/go-ndn/pkg/encoding"
	"github.com/zjkmxy/go-ndn/pkg/ndn"
	sec "github.com/zjkmxy/go-ndn/pkg/security"
	"github.com/zjkmxy/go-ndn/pkg/utils"
)

var (
	ErrBadSignature      = errors.New("bad signature")
	ErrMissingKeyLocator = errors.New("missing key locator")
	ErrExpired           = errors.New("certificate not valid at this time")
	ErrBadCertificate    = errors.New("malformed certificate")
)

// NewEccSigner creates a Data signer that uses SHA256withECDSA.
func NewEccSigner(keyName enc.Name, key *ecdsa.PrivateKey) ndn.Signer {
	return sec.NewEccSigner(false, false, time.Duration(0), key, keyName)
}

// certSigner adds a fixed ValidityPeriod to the signature info, as certificates require.
type certSigner struct {
	ndn.Signer
	validity ValidityPeriod
}

func (s certSigner) SigInfo() (*ndn.SigConfig, error) {
	config, err := s.Signer.SigInfo()
	if err != nil {
		return nil, err
	}
	config.NotBefore = utils.IdPtr(s.validity.NotBefore)
	config.NotAfter = utils.IdPtr(s.validity.NotAfter)
	return config, nil
}

func newCertSigner(keyName enc.Name, key *ecdsa.PrivateKey, validity ValidityPeriod) ndn.Signer {
	return certSigner{Signer: NewEccSigner(keyName, key), validity: validity}
}

// eccIntSigner signs Interests with the nonce, timestamp and sequence number the SignedInterestPolicy
// checks. The timestamp comes from clock instead of the wall clock.
type eccIntSigner struct {
	mu     sync.Mutex
	signer ndn.Signer
	clock  func() time.Time
}

func (s *eccIntSigner) SigInfo() (*ndn.SigConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	config, err := s.signer.SigInfo()
	if err != nil {
		return nil, err
	}
	config.SigTime = utils.IdPtr(s.clock())
	return config, nil
}

func (s *eccIntSigner) EstimateSize() uint {
	return s.signer.EstimateSize()
}

func (s *eccIntSigner) ComputeSigValue(covered enc.Wire) ([]byte, error) {
	return s.signer.ComputeSigValue(covered)
}

// NewEccIntSigner creates an Interest signer that uses SHA256withECDSA. A nil clock uses time.Now.
func NewEccIntSigner(keyName enc.Name, key *ecdsa.PrivateKey, clock func() time.Time) ndn.Signer {
	if clock == nil {
		clock = time.Now
	}
	return &eccIntSigner{signer: sec.NewEccSigner(false, true, time.Duration(0), key, keyName), clock: clock}
}

func verify(kind string, name enc.Name, sigCovered enc.Wire, sig ndn.Signature, pub *ecdsa.PublicKey) error {
	if sig == nil || len(sig.KeyName()) == 0 {
		return fmt.Errorf("%w: %s", ErrMissingKeyLocator, name)
	}
	if pub == nil || !sec.EcdsaValidate(sigCovered, sig, pub) {
		return fmt.Errorf("%w: %s %s signed by %s", ErrBadSignature, kind, name, sig.KeyName())
	}
	return nil
}

// VerifyData checks that data carries a key locator and a valid signature by pub.
func VerifyData(data ndn.Data, sigCovered enc.Wire, pub *ecdsa.PublicKey) error {
	return verify("data", data.Name(), sigCovered, data.Signature(), pub)
}

// VerifyInterest checks that a signed Interest carries a key locator and a valid signature by pub.
func VerifyInterest(interest ndn.Interest, sigCovered enc.Wire, pub *ecdsa.PublicKey) error {
	return verify("interest", interest.Name(), sigCovered, interest.Signature(), pub)
}
