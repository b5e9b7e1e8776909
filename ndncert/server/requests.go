package server

import (
	"sync"
	"time"

	"github.com/UCLA-IRL/go-ndncert/crypto"
	"github.com/UCLA-IRL/go-ndncert/ndncert"
	"github.com/UCLA-IRL/go-ndncert/security"
)

const maxRequestIdAttempts = 16

// requestState is the CA side of one enrollment. All fields are guarded by mu; a request handler
// holds it for the whole turn.
type requestState struct {
	mu sync.Mutex

	requestId      []byte
	status         ndncert.Status
	challengeId    string
	remainingTries uint64
	expiry         time.Time
	certRequest    *security.Certificate
	session        *crypto.SessionKey
	challenge      *ndncert.ChallengeContext
	removed        bool
}

// requestTable maps requestId to live request state. Expired entries are dropped lazily when a
// request touches them and periodically by sweep.
type requestTable struct {
	mu       sync.Mutex
	requests map[string]*requestState
}

func newRequestTable() *requestTable {
	return &requestTable{requests: make(map[string]*requestState)}
}

// reserve assigns state a requestId no live request uses and inserts it.
func (t *requestTable) reserve(state *requestState) error {
	for attempt := 0; attempt < maxRequestIdAttempts; attempt++ {
		requestId, err := crypto.MakeRequestId()
		if err != nil {
			return err
		}
		t.mu.Lock()
		if _, taken := t.requests[string(requestId)]; !taken {
			state.requestId = requestId
			t.requests[string(requestId)] = state
			t.mu.Unlock()
			return nil
		}
		t.mu.Unlock()
	}
	return crypto.ErrCrypto
}

func (t *requestTable) get(requestId []byte) *requestState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requests[string(requestId)]
}

// remove deletes state. The caller holds state.mu.
func (t *requestTable) remove(state *requestState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state.removed = true
	if t.requests[string(state.requestId)] == state {
		delete(t.requests, string(state.requestId))
	}
}

func (t *requestTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests)
}

// sweep drops every request whose expiry has passed and returns how many went.
func (t *requestTable) sweep(now time.Time) int {
	t.mu.Lock()
	candidates := make([]*requestState, 0, len(t.requests))
	for _, state := range t.requests {
		candidates = append(candidates, state)
	}
	t.mu.Unlock()

	removed := 0
	for _, state := range candidates {
		// a request in the middle of a turn is left for the next sweep
		if !state.mu.TryLock() {
			continue
		}
		if !state.removed && state.expiry.Before(now) {
			t.remove(state)
			removed++
		}
		state.mu.Unlock()
	}
	return removed
}
