package handshake

import (
	"sync"

	"github.com/backkem/roomsync/pkg/crypto"
)

// Handshake is the per-transport authentication state machine. Exactly one
// challenge is in flight in each direction.
//
// Usage, on both sides, once the datagram channel opens:
//
//	hs, _ := handshake.New(handshake.Config{
//		AuthKey:         keys.Auth,
//		Send:            transport.Send,
//		OnAuthenticated: startSync,
//	})
//	hs.Start()
//	// feed every received frame:
//	if err := hs.HandleFrame(data); err != nil {
//		// terminal: close the transport
//	}
//
// The channel opener is expected to Start first; when both sides start
// simultaneously the two directions proceed independently and still
// converge.
type Handshake struct {
	authKey []byte
	send    func(data []byte) error
	onDone  func()

	mu sync.Mutex

	started      bool
	outChallenge []byte

	// verifiedRemote is set when the remote's response to our challenge
	// verifies locally. This is the security root: no document data is
	// trusted from or sent to a peer without it.
	verifiedRemote bool

	// remoteAccepted is set on receipt of auth-success, meaning the remote
	// verified our response and will accept our data.
	remoteAccepted bool

	// answeredChallenge is set once we have responded to the remote's
	// challenge. A second inbound challenge is a protocol violation.
	answeredChallenge bool

	completed bool
}

// Config configures a Handshake.
type Config struct {
	// AuthKey is the room's HMAC key. Required.
	AuthKey []byte

	// Send transmits a frame to the remote peer. Required.
	Send func(data []byte) error

	// OnAuthenticated fires exactly once when both directions are
	// authenticated. Optional.
	OnAuthenticated func()
}

// New creates a handshake over an open transport.
func New(config Config) (*Handshake, error) {
	if len(config.AuthKey) == 0 {
		return nil, ErrNoAuthKey
	}
	if config.Send == nil {
		return nil, ErrNoSender
	}

	return &Handshake{
		authKey: config.AuthKey,
		send:    config.Send,
		onDone:  config.OnAuthenticated,
	}, nil
}

// Start issues our challenge. It must be called exactly once.
func (h *Handshake) Start() error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return ErrAlreadyStarted
	}
	h.started = true

	challenge, err := crypto.NewChallenge()
	if err != nil {
		h.mu.Unlock()
		return err
	}
	h.outChallenge = challenge
	h.mu.Unlock()

	frame, err := EncodeChallenge(challenge)
	if err != nil {
		return ErrProtocolViolation
	}
	return h.send(frame)
}

// Done reports whether both directions are authenticated.
func (h *Handshake) Done() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.completed
}

// VerifiedRemote reports whether the remote has proven knowledge of the
// room key to us.
func (h *Handshake) VerifiedRemote() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.verifiedRemote
}

// HandleFrame processes one frame received during authentication. Any
// returned error is terminal: the caller must close the transport.
func (h *Handshake) HandleFrame(data []byte) error {
	frame, err := DecodeFrame(data)
	if err != nil {
		return err
	}

	switch frame.Type {
	case TypeChallenge:
		return h.handleChallenge(frame)
	case TypeResponse:
		return h.handleResponse(frame)
	case TypeSuccess:
		return h.handleSuccess()
	default:
		// Anything else before authentication completes, including
		// document frames, is a protocol violation.
		return ErrProtocolViolation
	}
}

func (h *Handshake) handleChallenge(frame *Frame) error {
	challenge, err := decodeChallengeBytes(frame.Challenge)
	if err != nil {
		return err
	}

	h.mu.Lock()
	if h.answeredChallenge {
		h.mu.Unlock()
		return ErrProtocolViolation
	}
	h.answeredChallenge = true
	h.mu.Unlock()

	response := crypto.SignChallenge(challenge, h.authKey)
	out, err := EncodeResponse(challenge, response)
	if err != nil {
		return ErrProtocolViolation
	}
	return h.send(out)
}

func (h *Handshake) handleResponse(frame *Frame) error {
	challenge, err := decodeChallengeBytes(frame.Challenge)
	if err != nil {
		return err
	}
	response, err := decodeResponseBytes(frame.Response)
	if err != nil {
		return err
	}

	h.mu.Lock()
	outstanding := h.outChallenge
	alreadyVerified := h.verifiedRemote
	h.mu.Unlock()

	if outstanding == nil || alreadyVerified {
		return ErrProtocolViolation
	}

	// A response must answer exactly the challenge we issued; accepting any
	// other "valid" signature would admit unsolicited replays.
	if !bytesEqual(challenge, outstanding) {
		return ErrProtocolViolation
	}

	if !crypto.VerifyChallenge(outstanding, response, h.authKey) {
		return ErrAuthFailed
	}

	h.mu.Lock()
	h.verifiedRemote = true
	h.mu.Unlock()

	out, err := EncodeSuccess()
	if err != nil {
		return ErrProtocolViolation
	}
	if err := h.send(out); err != nil {
		return err
	}

	h.maybeComplete()
	return nil
}

func (h *Handshake) handleSuccess() error {
	h.mu.Lock()
	if h.remoteAccepted {
		h.mu.Unlock()
		return ErrProtocolViolation
	}
	h.remoteAccepted = true
	h.mu.Unlock()

	h.maybeComplete()
	return nil
}

// maybeComplete fires OnAuthenticated once both bits are set. Completion
// requires the locally verified direction; auth-success alone never
// suffices.
func (h *Handshake) maybeComplete() {
	h.mu.Lock()
	if h.completed || !h.verifiedRemote || !h.remoteAccepted {
		h.mu.Unlock()
		return
	}
	h.completed = true
	done := h.onDone
	h.mu.Unlock()

	if done != nil {
		done()
	}
}

// bytesEqual compares challenge bytes. Challenges are public values, so
// plain comparison is fine; responses go through crypto.VerifyChallenge.
func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
