package kv

import "errors"

// Store errors.
var (
	// ErrNotFound is returned when a key does not exist or has expired.
	ErrNotFound = errors.New("kv: key not found")

	// ErrInvalidTTL is returned when Set is called with a non-positive TTL.
	ErrInvalidTTL = errors.New("kv: invalid TTL")

	// ErrClosed is returned when the store has been closed.
	ErrClosed = errors.New("kv: store closed")
)
