package transport

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

// dataChannelLabel names the single channel each peer pair shares.
// Data channels are ordered and reliable by default, which the replication
// layer depends on.
const dataChannelLabel = "roomsync"

// Signaling frame types exchanged through the relay during negotiation.
const (
	signalTypeOffer  = "offer"
	signalTypeAnswer = "answer"
	signalTypeICE    = "ice"
)

// signalMessage is the wire form of a negotiation frame. The relay passes
// these through opaquely; only the two endpoints interpret them.
type signalMessage struct {
	Type      string                   `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

// WebRTCDialerConfig configures a WebRTC dialer.
type WebRTCDialerConfig struct {
	// ICEServers is the list of STUN/TURN URLs used for connectivity.
	ICEServers []string

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// WebRTCDialer creates WebRTC transports.
type WebRTCDialer struct {
	api        *webrtc.API
	iceServers []string
	lf         logging.LoggerFactory
}

// NewWebRTCDialer creates a dialer sharing one WebRTC API instance across
// all transports it opens.
func NewWebRTCDialer(config WebRTCDialerConfig) *WebRTCDialer {
	se := webrtc.SettingEngine{}
	if config.LoggerFactory != nil {
		se.LoggerFactory = config.LoggerFactory
	}

	return &WebRTCDialer{
		api:        webrtc.NewAPI(webrtc.WithSettingEngine(se)),
		iceServers: config.ICEServers,
		lf:         config.LoggerFactory,
	}
}

// Dial starts negotiating a transport to the configured peer. The initiator
// creates the data channel and sends the offer; the responder waits for
// both.
func (d *WebRTCDialer) Dial(config DialConfig) (Transport, error) {
	if config.PeerID == "" {
		return nil, ErrNoPeerID
	}
	if config.Signaler == nil {
		return nil, ErrNoSignaler
	}

	rtcConfig := webrtc.Configuration{}
	if len(d.iceServers) > 0 {
		rtcConfig.ICEServers = []webrtc.ICEServer{{URLs: d.iceServers}}
	}

	pc, err := d.api.NewPeerConnection(rtcConfig)
	if err != nil {
		return nil, fmt.Errorf("transport: creating peer connection: %w", err)
	}

	t := &WebRTC{
		peerID:   config.PeerID,
		pc:       pc,
		signaler: config.Signaler,
		handlers: config.Handlers,
		state:    StateNegotiating,
	}
	if d.lf != nil {
		t.log = d.lf.NewLogger("transport")
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		t.sendSignal(signalMessage{Type: signalTypeICE, Candidate: &init})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed:
			t.closeWith(fmt.Errorf("transport: connection failed"))
		case webrtc.PeerConnectionStateClosed:
			t.closeWith(nil)
		}
	})

	if config.Initiator {
		dc, err := pc.CreateDataChannel(dataChannelLabel, nil)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("transport: creating data channel: %w", err)
		}
		t.wireChannel(dc)

		offer, err := pc.CreateOffer(nil)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("transport: creating offer: %w", err)
		}
		if err := pc.SetLocalDescription(offer); err != nil {
			pc.Close()
			return nil, fmt.Errorf("transport: setting local description: %w", err)
		}
		t.sendSignal(signalMessage{Type: signalTypeOffer, SDP: offer.SDP})
	} else {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			t.wireChannel(dc)
		})
	}

	return t, nil
}

// WebRTC is a Transport over a pion data channel.
type WebRTC struct {
	peerID   string
	pc       *webrtc.PeerConnection
	signaler Signaler
	handlers Handlers
	log      logging.LeveledLogger

	mu        sync.Mutex
	dc        *webrtc.DataChannel
	state     State
	remoteSet bool
	pending   []webrtc.ICECandidateInit

	closeOnce sync.Once
}

// PeerID returns the remote peer's identifier.
func (t *WebRTC) PeerID() string {
	return t.peerID
}

// State returns the current lifecycle state.
func (t *WebRTC) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Send transmits one datagram over the data channel.
func (t *WebRTC) Send(data []byte) error {
	t.mu.Lock()
	state := t.state
	dc := t.dc
	t.mu.Unlock()

	switch state {
	case StateClosed:
		return ErrClosed
	case StateNegotiating:
		return ErrNotOpen
	}
	return dc.Send(data)
}

// HandleSignal feeds one relayed negotiation frame into the connection.
func (t *WebRTC) HandleSignal(frame []byte) error {
	var msg signalMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return ErrSignalMalformed
	}

	switch msg.Type {
	case signalTypeOffer:
		if err := t.setRemote(webrtc.SessionDescription{
			Type: webrtc.SDPTypeOffer,
			SDP:  msg.SDP,
		}); err != nil {
			return err
		}

		answer, err := t.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("transport: creating answer: %w", err)
		}
		if err := t.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("transport: setting local description: %w", err)
		}
		t.sendSignal(signalMessage{Type: signalTypeAnswer, SDP: answer.SDP})
		return nil

	case signalTypeAnswer:
		return t.setRemote(webrtc.SessionDescription{
			Type: webrtc.SDPTypeAnswer,
			SDP:  msg.SDP,
		})

	case signalTypeICE:
		if msg.Candidate == nil {
			return ErrSignalMalformed
		}

		t.mu.Lock()
		if !t.remoteSet {
			// Trickled candidates can outrun the description; hold them.
			t.pending = append(t.pending, *msg.Candidate)
			t.mu.Unlock()
			return nil
		}
		t.mu.Unlock()

		if err := t.pc.AddICECandidate(*msg.Candidate); err != nil {
			return fmt.Errorf("transport: adding ICE candidate: %w", err)
		}
		return nil

	default:
		return ErrSignalMalformed
	}
}

// Close tears the transport down.
func (t *WebRTC) Close() error {
	t.closeWith(nil)
	return nil
}

func (t *WebRTC) setRemote(desc webrtc.SessionDescription) error {
	if err := t.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("transport: setting remote description: %w", err)
	}

	t.mu.Lock()
	t.remoteSet = true
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()

	for _, candidate := range pending {
		if err := t.pc.AddICECandidate(candidate); err != nil {
			return fmt.Errorf("transport: adding ICE candidate: %w", err)
		}
	}
	return nil
}

func (t *WebRTC) wireChannel(dc *webrtc.DataChannel) {
	t.mu.Lock()
	t.dc = dc
	t.mu.Unlock()

	dc.OnOpen(func() {
		t.mu.Lock()
		if t.state == StateClosed {
			t.mu.Unlock()
			return
		}
		t.state = StateOpen
		t.mu.Unlock()

		if t.log != nil {
			t.log.Debugf("channel to %s open", t.peerID)
		}
		if t.handlers.OnOpen != nil {
			t.handlers.OnOpen()
		}
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if t.handlers.OnMessage != nil {
			t.handlers.OnMessage(msg.Data)
		}
	})

	dc.OnClose(func() {
		t.closeWith(nil)
	})
}

func (t *WebRTC) sendSignal(msg signalMessage) {
	fields := map[string]interface{}{"type": msg.Type}
	if msg.SDP != "" {
		fields["sdp"] = msg.SDP
	}
	if msg.Candidate != nil {
		fields["candidate"] = msg.Candidate
	}

	if err := t.signaler.Send(t.peerID, fields); err != nil && t.log != nil {
		t.log.Warnf("sending %s to %s: %v", msg.Type, t.peerID, err)
	}
}

func (t *WebRTC) closeWith(err error) {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.state = StateClosed
		t.mu.Unlock()

		t.pc.Close()
		if t.handlers.OnClose != nil {
			t.handlers.OnClose(err)
		}
	})
}

// Verify WebRTC implements Transport.
var _ Transport = (*WebRTC)(nil)
var _ Dialer = (*WebRTCDialer)(nil)
