// Package store keeps the certificates a CA has issued so they can be served to requesters.
package store

import (
	"errors"
	"fmt"
	"sync"

	enc "github.com/zjkmxy/go-ndn/pkg/encoding"

	"github.com/UCLA-IRL/go-ndncert/security"
)

var ErrNotFound = errors.New("certificate not found")

// CertStore is the issued-certificate repository.
type CertStore interface {
	Insert(cert *security.Certificate) error
	// Get finds a certificate by name. A name ending in an implicit digest must match the full name.
	Get(name enc.Name) (*security.Certificate, error)
	Close() error
}

// splitDigest separates an implicit digest component from name.
func splitDigest(name enc.Name) (enc.Name, []byte) {
	if n := len(name); n > 0 && name[n-1].Typ == enc.TypeImplicitSha256DigestComponent {
		return name[:n-1], name[n-1].Val
	}
	return name, nil
}

func matchDigest(cert *security.Certificate, digest []byte, requested enc.Name) (*security.Certificate, error) {
	if digest != nil && !cert.FullName().Equal(requested) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, requested)
	}
	return cert, nil
}

type MemStore struct {
	mu    sync.RWMutex
	certs map[string]*security.Certificate
}

func NewMemStore() *MemStore {
	return &MemStore{certs: make(map[string]*security.Certificate)}
}

func (s *MemStore) Insert(cert *security.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.certs[cert.Name().String()] = cert
	return nil
}

func (s *MemStore) Get(name enc.Name) (*security.Certificate, error) {
	certName, digest := splitDigest(name)
	s.mu.RLock()
	cert, ok := s.certs[certName.String()]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return matchDigest(cert, digest, name)
}

func (s *MemStore) Close() error {
	return nil
}
