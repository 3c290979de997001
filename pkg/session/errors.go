package session

import "errors"

// Session errors.
var (
	// ErrAlreadyStarted is returned when Start is called on a session that
	// is not Idle.
	ErrAlreadyStarted = errors.New("session: already started")

	// ErrEmptyPassword is returned when Start is called with an empty
	// password.
	ErrEmptyPassword = errors.New("session: password required")

	// ErrNoDocument is returned when the config lacks a document.
	ErrNoDocument = errors.New("session: document required")

	// ErrNoRoomID is returned when the config lacks a valid room ID.
	ErrNoRoomID = errors.New("session: valid room ID required")

	// ErrNoRendezvous is returned when the config lacks a rendezvous base
	// URL.
	ErrNoRendezvous = errors.New("session: rendezvous base URL required")

	// ErrProtocolViolation is returned when a peer sends an unexpected
	// frame on an authenticated transport. Fatal to that transport only.
	ErrProtocolViolation = errors.New("session: protocol violation")

	// ErrNegotiationTimeout closes a transport that did not authenticate
	// within the negotiation budget.
	ErrNegotiationTimeout = errors.New("session: negotiation timed out")

	// ErrAuthTimeout closes a transport whose authentication exchange
	// stalled after the channel opened.
	ErrAuthTimeout = errors.New("session: authentication timed out")
)
