// Package kv provides the expiring key-value store backing the rendezvous
// server. Invites, presence records and nothing else live here; every entry
// carries a TTL and the store holds no durable state.
//
// Two implementations are provided: Memory for tests and single-process
// deployments, and Redis for server fleets.
package kv

import (
	"context"
	"time"
)

// Store is an expiring key-value store.
//
// Implementations may delete expired entries lazily, but an expired entry
// must never be visible through Get, GetDel or List.
type Store interface {
	// Set stores value under key with the given TTL, overwriting any
	// existing entry. A TTL of zero or less is invalid.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// GetDel atomically reads and deletes the entry under key. At most one
	// concurrent caller observes the value; all others get ErrNotFound.
	GetDel(ctx context.Context, key string) ([]byte, error)

	// Delete removes the entry under key. Deleting a missing key is not an
	// error.
	Delete(ctx context.Context, key string) error

	// List returns all live entries whose key starts with prefix.
	List(ctx context.Context, prefix string) (map[string][]byte, error)

	// Close releases any resources held by the store.
	Close() error
}
