package crdt

import (
	"encoding/json"
	"fmt"
	"sync"
)

// MergeMap is a last-writer-wins map Document. Each key holds a value
// stamped with a Lamport clock and the writing actor; merging keeps the
// entry with the higher (Clock, Actor, Value) tuple, which makes the merge
// commutative, associative and idempotent.
//
// State snapshots and updates share one wire form: a JSON object mapping
// keys to entries. A snapshot is simply the update containing every key.
type MergeMap struct {
	mu        sync.Mutex
	entries   map[string]mapEntry
	actor     string
	clock     uint64
	observers map[int]func(update []byte, origin string)
	nextObsID int
}

type mapEntry struct {
	Value string `json:"value"`
	Clock uint64 `json:"clock"`
	Actor string `json:"actor"`
}

// supersedes reports whether e wins over old under the LWW order.
func (e mapEntry) supersedes(old mapEntry) bool {
	if e.Clock != old.Clock {
		return e.Clock > old.Clock
	}
	if e.Actor != old.Actor {
		return e.Actor > old.Actor
	}
	return e.Value > old.Value
}

// NewMergeMap creates an empty MergeMap writing as the given actor.
// Actors must be distinct per peer; a fresh peer identifier works well.
func NewMergeMap(actor string) *MergeMap {
	return &MergeMap{
		entries:   make(map[string]mapEntry),
		actor:     actor,
		observers: make(map[int]func(update []byte, origin string)),
	}
}

// Set writes a key locally and notifies observers with an empty origin.
func (m *MergeMap) Set(key, value string) error {
	m.mu.Lock()
	m.clock++
	e := mapEntry{Value: value, Clock: m.clock, Actor: m.actor}
	m.entries[key] = e

	update, err := json.Marshal(map[string]mapEntry{key: e})
	observers := m.snapshotObservers()
	m.mu.Unlock()

	if err != nil {
		return fmt.Errorf("crdt: encoding update: %w", err)
	}

	for _, fn := range observers {
		fn(update, "")
	}
	return nil
}

// Get returns the value under key and whether it exists.
func (m *MergeMap) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	return e.Value, ok
}

// Len returns the number of keys.
func (m *MergeMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Snapshot returns the current key-value contents.
func (m *MergeMap) Snapshot() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make(map[string]string, len(m.entries))
	for k, e := range m.entries {
		result[k] = e.Value
	}
	return result
}

// EncodeState returns the full state as update bytes.
func (m *MergeMap) EncodeState() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := json.Marshal(m.entries)
	if err != nil {
		return nil, fmt.Errorf("crdt: encoding state: %w", err)
	}
	return state, nil
}

// ApplyUpdate merges update bytes. Only entries that actually change state
// are re-emitted to observers, so update cycles between peers die out.
func (m *MergeMap) ApplyUpdate(update []byte, origin string) error {
	var incoming map[string]mapEntry
	if err := json.Unmarshal(update, &incoming); err != nil {
		return fmt.Errorf("crdt: decoding update: %w", err)
	}

	m.mu.Lock()
	applied := make(map[string]mapEntry)
	for key, e := range incoming {
		old, ok := m.entries[key]
		if ok && !e.supersedes(old) {
			continue
		}
		m.entries[key] = e
		applied[key] = e
		if e.Clock > m.clock {
			m.clock = e.Clock
		}
	}

	if len(applied) == 0 {
		m.mu.Unlock()
		return nil
	}

	effective, err := json.Marshal(applied)
	observers := m.snapshotObservers()
	m.mu.Unlock()

	if err != nil {
		return fmt.Errorf("crdt: encoding update: %w", err)
	}

	for _, fn := range observers {
		fn(effective, origin)
	}
	return nil
}

// OnUpdate registers an observer. The returned function unsubscribes.
func (m *MergeMap) OnUpdate(fn func(update []byte, origin string)) func() {
	m.mu.Lock()
	id := m.nextObsID
	m.nextObsID++
	m.observers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.observers, id)
		m.mu.Unlock()
	}
}

// snapshotObservers copies the observer list so callbacks run outside the
// lock. Callers must hold mu.
func (m *MergeMap) snapshotObservers() []func(update []byte, origin string) {
	observers := make([]func(update []byte, origin string), 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}
	return observers
}

// Verify MergeMap implements Document.
var _ Document = (*MergeMap)(nil)
