package transport

import (
	"sync"
)

// pipeBuffer is the per-direction in-flight message budget.
const pipeBuffer = 256

// PipeHub pairs in-memory transports between peers in one process. It is
// the test substitute for WebRTC: deliveries are ordered and reliable, and
// there is no negotiation, so protocol tests are deterministic and free of
// network I/O.
//
// Both peers Dial with mirrored local/remote IDs; the second Dial links the
// pair and both ends open.
type PipeHub struct {
	mu      sync.Mutex
	waiting map[string]*Pipe
}

// NewPipeHub creates an empty hub.
func NewPipeHub() *PipeHub {
	return &PipeHub{waiting: make(map[string]*Pipe)}
}

// Dial creates this peer's end of a pipe to config.PeerID. The transport
// opens once the remote peer dials the mirrored pair.
func (h *PipeHub) Dial(config DialConfig) (Transport, error) {
	if config.PeerID == "" {
		return nil, ErrNoPeerID
	}

	p := &Pipe{
		localID:  config.LocalID,
		peerID:   config.PeerID,
		handlers: config.Handlers,
		hub:      h,
		state:    StateNegotiating,
		inbox:    make(chan []byte, pipeBuffer),
		closeCh:  make(chan struct{}),
	}

	key := pairKey(config.LocalID, config.PeerID)

	h.mu.Lock()
	other, ok := h.waiting[key]
	if ok && other.localID == config.PeerID && other.peerID == config.LocalID {
		delete(h.waiting, key)
		p.remote = other
		other.remote = p
		p.state = StateOpen
		other.state = StateOpen
		h.mu.Unlock()

		// Open both ends outside all locks. Each end starts delivering only
		// after its OnOpen has returned, so no message overtakes it; frames
		// sent in the meantime wait in the buffered inbox.
		go func() {
			if other.handlers.OnOpen != nil {
				other.handlers.OnOpen()
			}
			other.start()
		}()
		go func() {
			if p.handlers.OnOpen != nil {
				p.handlers.OnOpen()
			}
			p.start()
		}()
		return p, nil
	}

	h.waiting[key] = p
	h.mu.Unlock()
	return p, nil
}

func pairKey(a, b string) string {
	if a < b {
		return a + "|" + b
	}
	return b + "|" + a
}

// Pipe is one end of an in-memory transport pair.
type Pipe struct {
	localID  string
	peerID   string
	handlers Handlers
	hub      *PipeHub

	mu     sync.Mutex
	state  State
	remote *Pipe

	inbox   chan []byte
	closeCh chan struct{}
	wg      sync.WaitGroup

	closeOnce sync.Once
}

// PeerID returns the remote peer's identifier.
func (p *Pipe) PeerID() string {
	return p.peerID
}

// State returns the current lifecycle state.
func (p *Pipe) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Send delivers one datagram to the remote end, in order.
func (p *Pipe) Send(data []byte) error {
	p.mu.Lock()
	state := p.state
	remote := p.remote
	p.mu.Unlock()

	switch state {
	case StateClosed:
		return ErrClosed
	case StateNegotiating:
		return ErrNotOpen
	}

	copied := append([]byte(nil), data...)
	select {
	case remote.inbox <- copied:
		return nil
	case <-remote.closeCh:
		return ErrClosed
	}
}

// HandleSignal is a no-op: pipes need no negotiation.
func (p *Pipe) HandleSignal(frame []byte) error {
	return nil
}

// Close tears down both ends of the pair.
func (p *Pipe) Close() error {
	p.closeWith(nil)
	return nil
}

func (p *Pipe) start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case data := <-p.inbox:
				if p.handlers.OnMessage != nil {
					p.handlers.OnMessage(data)
				}
			case <-p.closeCh:
				return
			}
		}
	}()
}

func (p *Pipe) closeWith(err error) {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.state = StateClosed
		remote := p.remote
		p.mu.Unlock()

		// Unpark if the pair never formed.
		p.hub.mu.Lock()
		key := pairKey(p.localID, p.peerID)
		if p.hub.waiting[key] == p {
			delete(p.hub.waiting, key)
		}
		p.hub.mu.Unlock()

		close(p.closeCh)

		if p.handlers.OnClose != nil {
			p.handlers.OnClose(err)
		}
		if remote != nil {
			remote.closeWith(ErrClosed)
		}
	})
}

// Verify Pipe implements Transport.
var _ Transport = (*Pipe)(nil)
var _ Dialer = (*PipeHub)(nil)
