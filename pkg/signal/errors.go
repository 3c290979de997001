package signal

import "errors"

// Signal client errors.
var (
	// ErrNoURL is returned when Dial is called without a relay URL.
	ErrNoURL = errors.New("signal: relay URL required")

	// ErrBadHandshake is returned when the relay's first frame is not a
	// well-formed peers frame.
	ErrBadHandshake = errors.New("signal: bad relay handshake")

	// ErrClosed is returned when sending on a closed client.
	ErrClosed = errors.New("signal: client closed")
)
