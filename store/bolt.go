package store

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	enc "github.com/zjkmxy/go-ndn/pkg/encoding"
	bolt "go.etcd.io/bbolt"

	"github.com/UCLA-IRL/go-ndncert/security"
)

const connectTimeout = 5 * time.Second

var certBucket = []byte("certificates")

type record struct {
	Name     string    `cbor:"1,keyasint"`
	Wire     []byte    `cbor:"2,keyasint"`
	IssuedAt time.Time `cbor:"3,keyasint"`
}

// BoltStore persists issued certificates in a single file bbolt database.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(dbpath string) (*BoltStore, error) {
	db, err := bolt.Open(dbpath, 0600, &bolt.Options{Timeout: connectTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed connecting to database %s: %w", dbpath, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(certBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed db initialization: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Insert(cert *security.Certificate) error {
	srzrec, err := cbor.Marshal(record{Name: cert.Name().String(), Wire: cert.Wire(), IssuedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed cbor.Marshal(record): %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(certBucket).Put([]byte(cert.Name().String()), srzrec)
	})
}

func (s *BoltStore) Get(name enc.Name) (*security.Certificate, error) {
	certName, digest := splitDigest(name)
	var rec record
	err := s.db.View(func(tx *bolt.Tx) error {
		srzrec := tx.Bucket(certBucket).Get([]byte(certName.String()))
		if srzrec == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return cbor.Unmarshal(srzrec, &rec)
	})
	if err != nil {
		return nil, err
	}
	cert, err := security.ParseCertificate(rec.Wire)
	if err != nil {
		return nil, fmt.Errorf("stored certificate %s: %w", rec.Name, err)
	}
	return matchDigest(cert, digest, name)
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
