// Package engine runs the go-ndn basic engine for go-ndncert and turns its callback based Express into
// a blocking call.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/apex/log"
	enc "github.com/zjkmxy/go-ndn/pkg/encoding"
	basic_engine "github.com/zjkmxy/go-ndn/pkg/engine/basic"
	"github.com/zjkmxy/go-ndn/pkg/ndn"
	sec "github.com/zjkmxy/go-ndn/pkg/security"
	"github.com/zjkmxy/go-ndn/pkg/utils"
)

const DefaultLifetime = basic_engine.DefaultInterestLife

var (
	// ErrNack is returned by Express when the forwarder has no route for the Interest.
	ErrNack = errors.New("interest nacked")
	// ErrTimeout is returned by Express when the Interest lifetime passes without an answer.
	ErrTimeout = errors.New("interest timed out")
)

func passAll(enc.Name, enc.Wire, ndn.Signature) bool {
	return true
}

// NewFace returns an unopened face to a forwarder. unix and tcp dial a stream socket, ws and wss a
// WebSocket endpoint at host:port.
func NewFace(network, address string) (basic_engine.Face, error) {
	switch network {
	case "unix":
		return basic_engine.NewStreamFace(network, address, true), nil
	case "tcp", "tcp4", "tcp6":
		return basic_engine.NewStreamFace(network, address, false), nil
	case "ws", "wss":
		return basic_engine.NewWebSocketFace(network, address, false), nil
	}
	return nil, fmt.Errorf("unsupported network %q", network)
}

// Start opens face and runs a basic engine on it. A nil timer uses the wall clock. Prefix registration
// commands are signed with DigestSha256, which NFD accepts from local faces.
func Start(face basic_engine.Face, timer ndn.Timer) (*basic_engine.Engine, error) {
	if timer == nil {
		timer = basic_engine.NewTimer()
	}
	ndnEngine := basic_engine.NewEngine(face, timer, sec.NewSha256IntSigner(timer), passAll)
	if ndnEngine == nil {
		return nil, errors.New("engine: face is required")
	}
	if err := ndnEngine.Start(); err != nil {
		return nil, err
	}
	return ndnEngine, nil
}

// Reply is the Data that satisfied an expressed Interest.
type Reply struct {
	Data       ndn.Data
	Raw        enc.Wire
	SigCovered enc.Wire
}

type result struct {
	reply *Reply
	err   error
}

// express sends the Interest and returns a channel that receives exactly one result.
func express(ndnEngine ndn.Engine, name enc.Name, config *ndn.InterestConfig, appParam enc.Wire, signer ndn.Signer) (<-chan result, error) {
	logger := log.WithField("module", "engine")
	cfg := *config
	if cfg.Nonce == nil {
		cfg.Nonce = utils.ConvertNonce(ndnEngine.Timer().Nonce())
	}
	if cfg.Lifetime == nil {
		cfg.Lifetime = utils.IdPtr(DefaultLifetime)
	}
	wire, _, finalName, err := ndnEngine.Spec().MakeInterest(name[:len(name):len(name)], &cfg, appParam, signer)
	if err != nil {
		return nil, err
	}
	results := make(chan result, 1)
	deliver := func(r result) {
		select {
		case results <- r:
		default:
		}
	}
	err = ndnEngine.Express(finalName, &cfg, wire,
		func(res ndn.InterestResult, data ndn.Data, rawData enc.Wire, sigCovered enc.Wire, nackReason uint64) {
			switch res {
			case ndn.InterestResultData:
				deliver(result{reply: &Reply{Data: data, Raw: rawData, SigCovered: sigCovered}})
			case ndn.InterestResultNack:
				logger.Debugf("Nack %d for %s", nackReason, finalName)
				deliver(result{err: fmt.Errorf("%w: %s, reason %d", ErrNack, finalName, nackReason)})
			case ndn.InterestResultTimeout:
				deliver(result{err: fmt.Errorf("%w: %s", ErrTimeout, finalName)})
			default:
				deliver(result{err: fmt.Errorf("interest %s ended with result %d", finalName, res)})
			}
		})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Express sends an Interest for name and waits for the Data, a Nack, the end of the Interest lifetime
// or ctx, whichever comes first. appParam and signer may be nil.
func Express(ctx context.Context, ndnEngine ndn.Engine, name enc.Name, config *ndn.InterestConfig, appParam enc.Wire, signer ndn.Signer) (*Reply, error) {
	results, err := express(ndnEngine, name, config, appParam, signer)
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-results:
		return r.reply, r.err
	}
}
