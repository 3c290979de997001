package session

import (
	"sync"
	"time"

	"github.com/backkem/roomsync/pkg/handshake"
	"github.com/backkem/roomsync/pkg/transport"
)

// peerConn tracks one remote peer: its transport, its authentication state
// machine, and the deadlines that bound both.
type peerConn struct {
	id      string
	session *Session

	// ready is closed once tr is assigned (or the dial failed); transport
	// callbacks can fire before Dial returns and must wait for it.
	ready     chan struct{}
	readyOnce sync.Once

	mu            sync.Mutex
	tr            transport.Transport
	hs            *handshake.Handshake
	authenticated bool
	announced     bool
	closed        bool

	negotiationTimer *time.Timer
	authTimer        *time.Timer
}

func newPeerConn(id string, s *Session) *peerConn {
	return &peerConn{
		id:      id,
		session: s,
		ready:   make(chan struct{}),
	}
}

// setTransport publishes the transport and arms the negotiation deadline.
func (p *peerConn) setTransport(tr transport.Transport, budget time.Duration) {
	p.mu.Lock()
	p.tr = tr
	p.negotiationTimer = time.AfterFunc(budget, func() {
		p.close(ErrNegotiationTimeout)
	})
	p.mu.Unlock()
	p.readyOnce.Do(func() { close(p.ready) })
}

// abandon marks a peer whose dial failed so waiters do not block forever.
func (p *peerConn) abandon() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.readyOnce.Do(func() { close(p.ready) })
}

func (p *peerConn) transport() transport.Transport {
	<-p.ready
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tr
}

func (p *peerConn) isAuthenticated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authenticated && !p.closed
}

// onOpen runs when the datagram channel opens: it creates the handshake,
// sends our challenge, and arms the authentication deadline.
func (p *peerConn) onOpen() {
	tr := p.transport()

	keys := p.session.roomKeys()
	if keys == nil {
		p.close(nil)
		return
	}

	hs, err := handshake.New(handshake.Config{
		AuthKey:         keys.Auth,
		Send:            tr.Send,
		OnAuthenticated: func() { p.session.onPeerAuthenticated(p) },
	})
	if err != nil {
		p.close(err)
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.hs = hs
	p.authTimer = time.AfterFunc(p.session.config.AuthResponseBudget, func() {
		if !hs.Done() {
			p.close(ErrAuthTimeout)
		}
	})
	p.mu.Unlock()

	if err := hs.Start(); err != nil {
		p.close(err)
	}
}

// onMessage routes one received datagram: to the handshake until it
// completes, to the document exchange afterwards. Any error tears down
// this transport only.
func (p *peerConn) onMessage(data []byte) {
	p.mu.Lock()
	hs := p.hs
	p.mu.Unlock()

	if hs == nil {
		// Data before the channel open callback ran is a violation.
		p.close(ErrProtocolViolation)
		return
	}

	if !hs.Done() {
		if err := hs.HandleFrame(data); err != nil {
			p.close(err)
		}
		return
	}

	p.session.handleDocFrame(p, data)
}

// markAuthenticated flips the peer into the replicating state and disarms
// the deadlines. Returns false if the peer closed concurrently.
func (p *peerConn) markAuthenticated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	p.authenticated = true
	p.announced = true
	if p.negotiationTimer != nil {
		p.negotiationTimer.Stop()
	}
	if p.authTimer != nil {
		p.authTimer.Stop()
	}
	return true
}

// sendUpdate forwards an update frame unless it originated at this peer.
// This per-subscriber origin filter is what breaks the update-echo loop.
func (p *peerConn) sendUpdate(frame []byte, origin string) {
	if origin == p.id {
		return
	}

	p.mu.Lock()
	ok := p.authenticated && !p.closed
	tr := p.tr
	p.mu.Unlock()

	if !ok || tr == nil {
		return
	}
	tr.Send(frame)
}

// send transmits a frame on an authenticated transport.
func (p *peerConn) send(frame []byte) error {
	p.mu.Lock()
	tr := p.tr
	p.mu.Unlock()

	if tr == nil {
		return transport.ErrNotOpen
	}
	return tr.Send(frame)
}

// handleSignal feeds a relayed negotiation frame to the transport.
func (p *peerConn) handleSignal(frame []byte) {
	tr := p.transport()
	if tr != nil {
		tr.HandleSignal(frame)
	}
}

// close tears down the transport; the transport's OnClose callback performs
// the session-side eviction. A transport that is already closed (close then
// runs from its own OnClose) is not closed a second time.
func (p *peerConn) close(err error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	tr := p.tr
	if p.negotiationTimer != nil {
		p.negotiationTimer.Stop()
	}
	if p.authTimer != nil {
		p.authTimer.Stop()
	}
	p.mu.Unlock()

	if p.session.log != nil && err != nil {
		p.session.log.Debugf("closing transport to %s: %v", p.id, err)
	}
	if tr != nil && tr.State() != transport.StateClosed {
		tr.Close()
	}
}
