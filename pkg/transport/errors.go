package transport

import "errors"

// Transport errors.
var (
	// ErrNoPeerID is returned when dialing without a remote peer ID.
	ErrNoPeerID = errors.New("transport: peer ID required")

	// ErrNoSignaler is returned when a WebRTC transport is dialed without
	// a signaler.
	ErrNoSignaler = errors.New("transport: signaler required")

	// ErrNotOpen is returned when sending before the channel has opened.
	ErrNotOpen = errors.New("transport: channel not open")

	// ErrClosed is returned when using a closed transport.
	ErrClosed = errors.New("transport: closed")

	// ErrSignalMalformed is returned for an unusable signaling frame.
	ErrSignalMalformed = errors.New("transport: malformed signaling frame")
)
