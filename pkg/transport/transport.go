// Package transport provides the peer-to-peer datagram channel between two
// room members: an ordered, reliable message stream established with WebRTC,
// plus an in-memory pipe implementation for deterministic tests.
//
// A transport carries first the authentication handshake and then document
// frames; it never interprets either.
package transport

// Transport is an ordered reliable datagram channel to one remote peer.
type Transport interface {
	// PeerID returns the remote peer's identifier.
	PeerID() string

	// State returns the current lifecycle state.
	State() State

	// Send transmits one datagram. It fails with ErrNotOpen until the
	// channel has opened and with ErrClosed afterwards.
	Send(data []byte) error

	// HandleSignal feeds a signaling frame relayed from the remote peer
	// into the negotiation. Implementations that need no signaling ignore
	// it.
	HandleSignal(frame []byte) error

	// Close tears the transport down. The OnClose handler fires exactly
	// once, whether closure was local, remote or an error.
	Close() error
}

// Handlers are the callbacks a transport invokes. All of them are optional.
// They may run on different goroutines: OnClose can run while an OnMessage
// call is still in progress.
type Handlers struct {
	// OnOpen fires once when the datagram channel becomes usable.
	OnOpen func()

	// OnMessage fires for every received datagram.
	OnMessage func(data []byte)

	// OnClose fires exactly once when the transport ends. err is nil for
	// an orderly local close.
	OnClose func(err error)
}

// Signaler delivers signaling frames to a remote peer, typically through
// the rendezvous relay.
type Signaler interface {
	Send(to string, fields map[string]interface{}) error
}

// DialConfig describes one transport to establish.
type DialConfig struct {
	// LocalID is this peer's identifier.
	LocalID string

	// PeerID is the remote peer's identifier. Required.
	PeerID string

	// Initiator selects which side opens the channel. Exactly one side of
	// a pair must be the initiator; peers agree by comparing identifiers.
	Initiator bool

	// Signaler relays negotiation frames to the remote peer. Required for
	// WebRTC transports.
	Signaler Signaler

	// Handlers receive transport events.
	Handlers Handlers
}

// Dialer creates transports. The session manager is written against this
// interface so tests can substitute in-memory pipes for WebRTC.
type Dialer interface {
	Dial(config DialConfig) (Transport, error)
}
