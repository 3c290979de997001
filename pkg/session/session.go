package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pion/logging"

	"github.com/backkem/roomsync/pkg/crypto"
	"github.com/backkem/roomsync/pkg/rendezvous"
	"github.com/backkem/roomsync/pkg/signal"
	"github.com/backkem/roomsync/pkg/transport"
)

// Session is the per-room session manager. Create one with NewSession,
// drive it with Start and Stop, and observe it through the config
// callbacks.
type Session struct {
	config Config
	client *rendezvous.Client
	dialer transport.Dialer
	log    logging.LeveledLogger

	mu       sync.Mutex
	status   Status
	keys     *crypto.RoomKeys
	relay    *signal.Client
	peerID   string
	peers    map[string]*peerConn
	docUnsub func()

	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	reconnecting bool

	rateLimitStreak int
	announcePaused  bool
}

// NewSession creates a session for one room. The session is Idle until
// Start is called.
func NewSession(config Config) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	client, err := rendezvous.NewClient(rendezvous.ClientConfig{
		BaseURL:         config.RendezvousBaseURL,
		HTTPClient:      config.HTTPClient,
		RequestDeadline: config.RequestDeadline,
	})
	if err != nil {
		return nil, err
	}

	s := &Session{
		config: config,
		client: client,
		dialer: config.Dialer,
		status: StatusIdle,
		peers:  make(map[string]*peerConn),
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("session")
	}
	return s, nil
}

// Status returns the current session status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// PeerID returns the identifier the relay assigned to this session, or ""
// before the relay is connected.
func (s *Session) PeerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerID
}

// PeerCount returns the number of authenticated peer transports.
func (s *Session) PeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, p := range s.peers {
		if p.isAuthenticated() {
			n++
		}
	}
	return n
}

// Start begins syncing the room with the given password. It returns
// immediately; setup continues asynchronously and failures surface through
// OnStatus as an Error transition.
func (s *Session) Start(password []byte) error {
	if len(password) == 0 {
		return ErrEmptyPassword
	}

	s.mu.Lock()
	if s.status != StatusIdle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.status = StatusConnecting
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	s.notify(StatusConnecting, nil)

	pw := append([]byte(nil), password...)
	s.wg.Add(1)
	go s.run(pw)
	return nil
}

// run performs setup: key derivation, relay connection, the first
// announcement, and the background loops.
func (s *Session) run(password []byte) {
	defer s.wg.Done()

	// PBKDF2 is deliberately slow; it runs here, off the caller.
	keys := crypto.DeriveRoomKeys(password, s.config.RoomID, s.config.PBKDF2Iterations)
	for i := range password {
		password[i] = 0
	}

	s.mu.Lock()
	ctx := s.ctx
	s.keys = keys
	s.mu.Unlock()

	if ctx == nil || ctx.Err() != nil {
		return
	}

	if err := s.connectRelay(ctx); err != nil {
		s.fail(err)
		return
	}

	if err := s.announce(ctx); err != nil && !recoverable(err) {
		s.fail(err)
		return
	}

	s.mu.Lock()
	if s.status != StatusConnecting || s.ctx == nil || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.status = StatusSyncing
	s.docUnsub = s.config.Document.OnUpdate(func(update []byte, origin string) {
		s.broadcast(update, origin)
	})
	s.mu.Unlock()

	s.notify(StatusSyncing, nil)

	s.wg.Add(2)
	go s.announceLoop(ctx)
	go s.pollLoop(ctx)
}

// Stop cancels timers, closes the relay and all transports without any
// trailing frames, drops the derived keys, and returns the session to
// Idle. It is safe to call from any state.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.status == StatusIdle {
		s.mu.Unlock()
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	relay := s.relay
	s.relay = nil
	peers := make([]*peerConn, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.peers = make(map[string]*peerConn)
	unsub := s.docUnsub
	s.docUnsub = nil
	keys := s.keys
	s.keys = nil
	s.peerID = ""
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	for _, p := range peers {
		p.close(nil)
	}
	if relay != nil {
		relay.Close()
	}
	s.wg.Wait()

	if keys != nil {
		keys.Zeroize()
	}

	s.mu.Lock()
	s.status = StatusIdle
	s.rateLimitStreak = 0
	s.announcePaused = false
	s.reconnecting = false
	s.mu.Unlock()

	s.notify(StatusIdle, nil)
}

// fail moves the session to Error. Stop returns it to Idle.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.status == StatusIdle || s.status == StatusError {
		s.mu.Unlock()
		return
	}
	if s.ctx != nil && s.ctx.Err() != nil {
		// A Stop in progress caused this failure; it is not an error.
		s.mu.Unlock()
		return
	}
	s.status = StatusError
	relay := s.relay
	s.relay = nil
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	if relay != nil {
		relay.Close()
	}
	if s.log != nil {
		s.log.Errorf("session failed: %v", err)
	}
	s.notify(StatusError, err)
}

// roomKeys returns the derived keys, or nil after Stop.
func (s *Session) roomKeys() *crypto.RoomKeys {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys
}

// notify delivers a status notification outside all locks.
func (s *Session) notify(status Status, err error) {
	if s.config.OnStatus != nil {
		s.config.OnStatus(status, err)
	}
}

// connectRelay dials the room's signaling relay and adopts the assigned
// peer ID as this session's identity for presence announcements.
func (s *Session) connectRelay(ctx context.Context) error {
	relay, existing, err := signal.Dial(ctx, signal.ClientConfig{
		URL:           s.client.SignalURL(s.config.RoomID),
		OnPeerJoined:  func(peerID string) { s.addPeer(peerID) },
		OnPeerLeft:    s.onPeerLeft,
		OnFrame:       s.onSignalFrame,
		OnClose:       func(err error) { s.onRelayClosed(err) },
		LoggerFactory: s.config.LoggerFactory,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.ctx == nil || s.ctx.Err() != nil {
		s.mu.Unlock()
		relay.Close()
		return context.Canceled
	}
	s.relay = relay
	s.peerID = relay.You()
	s.mu.Unlock()

	if s.log != nil {
		s.log.Infof("relay connected, peer ID %s", relay.You())
	}

	for _, peerID := range existing {
		s.addPeer(peerID)
	}
	return nil
}

// addPeer creates the transport record for a newly discovered peer. It is
// a no-op for peers already represented, for our own ID, and for sessions
// not syncing. Both sides agree on the initiator by comparing peer IDs:
// the lower one offers.
func (s *Session) addPeer(remoteID string) *peerConn {
	s.mu.Lock()
	if s.status != StatusConnecting && s.status != StatusSyncing {
		s.mu.Unlock()
		return nil
	}
	if remoteID == "" || remoteID == s.peerID {
		s.mu.Unlock()
		return nil
	}
	if existing, ok := s.peers[remoteID]; ok {
		s.mu.Unlock()
		return existing
	}
	p := newPeerConn(remoteID, s)
	s.peers[remoteID] = p
	localID := s.peerID
	relay := s.relay
	s.mu.Unlock()

	if relay == nil {
		p.abandon()
		s.removePeer(p, nil)
		return nil
	}

	tr, err := s.dialer.Dial(transport.DialConfig{
		LocalID:   localID,
		PeerID:    remoteID,
		Initiator: localID < remoteID,
		Signaler:  relay,
		Handlers: transport.Handlers{
			OnOpen:    p.onOpen,
			OnMessage: p.onMessage,
			OnClose:   func(err error) { s.removePeer(p, err) },
		},
	})
	if err != nil {
		if s.log != nil {
			s.log.Warnf("dialing %s: %v", remoteID, err)
		}
		p.abandon()
		s.removePeer(p, err)
		return nil
	}

	p.setTransport(tr, s.config.NegotiationBudget)

	// The peer may have been evicted while the dial was in flight.
	p.mu.Lock()
	closedMeanwhile := p.closed
	p.mu.Unlock()
	if closedMeanwhile {
		tr.Close()
	}
	return p
}

// peer returns the record for a remote ID, or nil.
func (s *Session) peer(remoteID string) *peerConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peers[remoteID]
}

// removePeer evicts a transport record. Single-transport faults are local:
// the session keeps syncing with everyone else.
func (s *Session) removePeer(p *peerConn, err error) {
	s.mu.Lock()
	if s.peers[p.id] == p {
		delete(s.peers, p.id)
	}
	s.mu.Unlock()

	p.mu.Lock()
	announced := p.announced
	p.announced = false
	p.mu.Unlock()

	p.close(err)

	if announced && s.config.OnPeerDisconnected != nil {
		s.config.OnPeerDisconnected(p.id)
	}
}

// onPeerLeft evicts transports that were still negotiating when their peer
// left the relay; an established transport no longer needs signaling and
// continues.
func (s *Session) onPeerLeft(remoteID string) {
	p := s.peer(remoteID)
	if p == nil {
		return
	}
	if tr := p.transport(); tr != nil && tr.State() == transport.StateNegotiating {
		p.close(nil)
	}
}

// onSignalFrame routes a relayed frame to the peer's transport, creating
// the record first when the remote initiated before we discovered it.
func (s *Session) onSignalFrame(from string, frame []byte) {
	p := s.peer(from)
	if p == nil {
		p = s.addPeer(from)
	}
	if p != nil {
		p.handleSignal(frame)
	}
}

// onPeerAuthenticated runs when a handshake completes: the peer becomes
// eligible for document frames and receives our sync request.
func (s *Session) onPeerAuthenticated(p *peerConn) {
	if !p.markAuthenticated() {
		return
	}

	if s.log != nil {
		s.log.Infof("peer %s authenticated", p.id)
	}
	if s.config.OnPeerConnected != nil {
		s.config.OnPeerConnected(p.id)
	}

	frame, err := encodeSyncRequest()
	if err != nil {
		return
	}
	p.send(frame)
}

// handleDocFrame processes a document frame on an authenticated transport.
func (s *Session) handleDocFrame(p *peerConn, data []byte) {
	frame, err := decodeDocFrame(data)
	if err != nil {
		p.close(err)
		return
	}

	switch frame.Type {
	case frameTypeSyncRequest:
		state, err := s.config.Document.EncodeState()
		if err != nil {
			if s.log != nil {
				s.log.Errorf("encoding state: %v", err)
			}
			return
		}
		out, err := encodeSyncResponse(state)
		if err != nil {
			return
		}
		p.send(out)

	case frameTypeSyncResponse, frameTypeUpdate:
		update, err := frame.updateBytes()
		if err != nil {
			p.close(err)
			return
		}
		// Tag the application with the sender so the observer does not
		// echo the update back to it.
		if err := s.config.Document.ApplyUpdate(update, p.id); err != nil {
			p.close(ErrProtocolViolation)
		}

	default:
		p.close(ErrProtocolViolation)
	}
}

// broadcast fans a document update out to every authenticated peer except
// the one it originated from.
func (s *Session) broadcast(update []byte, origin string) {
	frame, err := encodeUpdate(update)
	if err != nil {
		return
	}

	s.mu.Lock()
	peers := make([]*peerConn, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		p.sendUpdate(frame, origin)
	}
}

// announce publishes this session's presence record once.
func (s *Session) announce(ctx context.Context) error {
	s.mu.Lock()
	peerID := s.peerID
	s.mu.Unlock()
	if peerID == "" {
		return nil
	}

	err := s.client.Announce(ctx, s.config.RoomID, rendezvous.AnnounceRequest{PeerID: peerID})

	s.mu.Lock()
	if errors.Is(err, rendezvous.ErrRateLimited) {
		s.rateLimitStreak++
		if s.rateLimitStreak >= s.config.RateLimitThreshold && !s.announcePaused {
			s.announcePaused = true
			status := s.status
			s.mu.Unlock()
			// Surfaced but non-fatal: pause announcements one interval.
			s.notify(status, rendezvous.ErrRateLimited)
			return err
		}
	} else if err == nil {
		s.rateLimitStreak = 0
		s.announcePaused = false
	}
	s.mu.Unlock()
	return err
}

// announceLoop refreshes presence on the configured interval.
func (s *Session) announceLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.AnnounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			paused := s.announcePaused
			s.announcePaused = false
			s.mu.Unlock()
			if paused {
				// Skip one interval after sustained rate limiting.
				continue
			}

			if err := s.announce(ctx); err != nil && s.log != nil {
				s.log.Warnf("announce: %v", err)
			}
		}
	}
}

// pollLoop lists presence on the configured interval as a belt-and-braces
// discovery mechanism alongside the relay's push events. Represented peers
// are ignored; the shared addPeer path deduplicates.
func (s *Session) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			records, err := s.client.ListPeers(ctx, s.config.RoomID)
			if err != nil {
				if s.log != nil {
					s.log.Warnf("polling peers: %v", err)
				}
				continue
			}

			s.mu.Lock()
			self := s.peerID
			s.mu.Unlock()

			for _, record := range records {
				if record.PeerID != self {
					s.addPeer(record.PeerID)
				}
			}
		}
	}
}

// onRelayClosed reconnects with jittered exponential backoff. Reconnection
// is a resume: authenticated transports continue untouched; only the
// signaling path and presence identity are renewed.
func (s *Session) onRelayClosed(closeErr error) {
	s.mu.Lock()
	if s.status != StatusSyncing || s.reconnecting || s.ctx == nil || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	s.relay = nil
	ctx := s.ctx
	s.mu.Unlock()

	if s.log != nil {
		s.log.Warnf("relay closed (%v), reconnecting", closeErr)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = s.config.ReconnectFloor
		policy.RandomizationFactor = 0.2
		policy.Multiplier = 1.5
		policy.MaxInterval = s.config.ReconnectCap
		policy.MaxElapsedTime = 0
		policy.Reset()

		for {
			delay := policy.NextBackOff()
			if delay < s.config.ReconnectFloor {
				delay = s.config.ReconnectFloor
			}
			if delay > s.config.ReconnectCap {
				delay = s.config.ReconnectCap
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			if err := s.connectRelay(ctx); err != nil {
				if s.log != nil {
					s.log.Warnf("relay reconnect: %v", err)
				}
				continue
			}

			s.mu.Lock()
			s.reconnecting = false
			s.mu.Unlock()

			// Re-announce under the renewed identity right away.
			s.announce(ctx)
			return
		}
	}()
}

// recoverable reports whether a rendezvous error should not fail setup.
func recoverable(err error) bool {
	return errors.Is(err, rendezvous.ErrRateLimited) ||
		errors.Is(err, rendezvous.ErrTransient)
}
