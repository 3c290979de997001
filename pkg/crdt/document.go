// Package crdt defines the document contract the replication layer is
// written against, plus an in-memory merge-map implementation.
//
// The replication core never inspects state or update bytes; it only moves
// them between peers. The single algebraic requirement is that merging is
// commutative, associative and idempotent, so peers converge regardless of
// delivery order.
package crdt

// Document is a replicated document as seen by the session layer.
//
// Updates and state snapshots are opaque byte strings. A full state snapshot
// is itself a valid update, so initial synchronization and incremental
// replication use the same ApplyUpdate path.
//
// Origin tagging is what breaks the update-echo loop: an update received
// from peer P is applied with origin P, observers see that origin, and the
// per-peer send path filters out updates that originated at its own peer.
// Local writes carry the empty origin.
type Document interface {
	// EncodeState returns the full current state as update bytes.
	EncodeState() ([]byte, error)

	// ApplyUpdate merges update bytes into the document. The origin names
	// the peer the update arrived from, or is empty for local writes.
	// Implementations must serialize merges internally.
	ApplyUpdate(update []byte, origin string) error

	// OnUpdate registers an observer called for every effective update with
	// the update bytes and their origin. Updates that do not change state
	// are not observed. The returned function unsubscribes.
	OnUpdate(fn func(update []byte, origin string)) (unsubscribe func())
}
