package security

import (
	"fmt"
	"sync"
	"time"

	"github.com/zjkmxy/go-ndn/pkg/ndn"
)

const DefaultSignedInterestWindow = 60 * time.Second

// SignedInterestPolicy rejects signed Interests whose timestamp is outside the replay window or whose
// nonce was already seen for the same key.
type SignedInterestPolicy struct {
	Window time.Duration
	Clock  func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewSignedInterestPolicy(window time.Duration, clock func() time.Time) *SignedInterestPolicy {
	if window <= 0 {
		window = DefaultSignedInterestWindow
	}
	if clock == nil {
		clock = time.Now
	}
	return &SignedInterestPolicy{Window: window, Clock: clock, seen: make(map[string]time.Time)}
}

// Check admits the signature of an Interest and records its nonce.
func (p *SignedInterestPolicy) Check(sig ndn.Signature) error {
	if sig == nil || sig.SigType() == ndn.SignatureNone {
		return fmt.Errorf("%w: interest is not signed", ErrBadSignature)
	}
	sigTime := sig.SigTime()
	if sigTime == nil || len(sig.SigNonce()) == 0 {
		return fmt.Errorf("%w: signed interest lacks nonce or timestamp", ErrBadSignature)
	}
	now := p.Clock()
	skew := now.Sub(*sigTime)
	if skew > p.Window || skew < -p.Window {
		return fmt.Errorf("%w: signature time %s outside replay window", ErrBadSignature, sigTime.UTC().Format(time.RFC3339))
	}

	key := sig.KeyName().String() + "|" + string(sig.SigNonce())
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, at := range p.seen {
		if now.Sub(at) > 2*p.Window {
			delete(p.seen, k)
		}
	}
	if _, replayed := p.seen[key]; replayed {
		return fmt.Errorf("%w: replayed nonce from %s", ErrBadSignature, sig.KeyName())
	}
	p.seen[key] = now
	return nil
}
