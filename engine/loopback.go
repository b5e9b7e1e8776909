package engine

import (
	"errors"
	"sync"

	"github.com/apex/log"
	enc "github.com/zjkmxy/go-ndn/pkg/encoding"
)

// LoopbackFace delivers every packet sent through it back to its own engine, in order, from a single
// goroutine. Producers and consumers attached to one engine reach each other without a forwarder.
type LoopbackFace struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []enc.Buffer
	running bool
	onPkt   func(r enc.ParseReader) error
	onError func(err error) error
}

func NewLoopbackFace() *LoopbackFace {
	f := &LoopbackFace{}
	f.cond = sync.NewCond(&f.mu)
	return f
}

func (f *LoopbackFace) SetCallback(onPkt func(r enc.ParseReader) error, onError func(err error) error) {
	f.onPkt = onPkt
	f.onError = onError
}

func (f *LoopbackFace) Open() error {
	if f.onPkt == nil || f.onError == nil {
		return errors.New("face callbacks are not set")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return errors.New("face is already running")
	}
	f.running = true
	f.queue = nil
	go f.run()
	return nil
}

func (f *LoopbackFace) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return errors.New("face is not running")
	}
	f.running = false
	f.cond.Broadcast()
	return nil
}

func (f *LoopbackFace) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *LoopbackFace) IsLocal() bool {
	return true
}

func (f *LoopbackFace) Send(pkt enc.Wire) error {
	buf := make(enc.Buffer, 0, pkt.Length())
	for _, b := range pkt {
		buf = append(buf, b...)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return errors.New("face is not running")
	}
	f.queue = append(f.queue, buf)
	f.cond.Signal()
	return nil
}

func (f *LoopbackFace) next() (enc.Buffer, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.running && len(f.queue) == 0 {
		f.cond.Wait()
	}
	if !f.running {
		return nil, false
	}
	pkt := f.queue[0]
	f.queue = f.queue[1:]
	return pkt, true
}

func (f *LoopbackFace) run() {
	for {
		pkt, ok := f.next()
		if !ok {
			return
		}
		if err := f.onPkt(enc.NewBufferReader(pkt)); err != nil {
			log.WithField("module", "engine").Errorf("Loopback packet handler failed: %v", err)
			if f.onError(err) != nil {
				_ = f.Close()
				return
			}
		}
	}
}
