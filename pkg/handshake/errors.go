package handshake

import "errors"

// Handshake errors. Every error is terminal for the transport it occurred
// on; the caller closes the transport and never retries on it.
var (
	// ErrAuthFailed is returned when the remote's response does not verify
	// under the room key. Deliberately carries no further detail: a wrong
	// password and a corrupted response are indistinguishable.
	ErrAuthFailed = errors.New("handshake: authentication failed")

	// ErrProtocolViolation is returned for an unexpected, malformed or
	// out-of-order frame, including a response to a challenge that was
	// never issued.
	ErrProtocolViolation = errors.New("handshake: protocol violation")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("handshake: already started")

	// ErrNoAuthKey is returned when constructing a handshake without a key.
	ErrNoAuthKey = errors.New("handshake: auth key required")

	// ErrNoSender is returned when constructing a handshake without a send
	// function.
	ErrNoSender = errors.New("handshake: send function required")
)
