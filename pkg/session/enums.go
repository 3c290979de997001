// Package session implements the per-room session manager running on each
// peer: rendezvous interaction, transport lifecycle, mutual authentication,
// and document replication with authenticated remotes.
//
// One Session instance manages one actively synced room. Multiple rooms run
// independent sessions.
package session

// Status is the top-level session state. Transitions:
//
//	Idle ── Start ──► Connecting ──► Syncing
//	Connecting ── setup failure ──► Error
//	Syncing ── Stop ──► Idle        Syncing ── fatal fault ──► Error
//	any ── Stop ──► Idle
type Status int

const (
	// StatusIdle means the session holds no resources.
	StatusIdle Status = iota

	// StatusConnecting means keys are being derived and the rendezvous
	// relay is being established.
	StatusConnecting

	// StatusSyncing means the session is announced and replicating with
	// authenticated peers.
	StatusSyncing

	// StatusError means setup or a fatal fault ended the session; Stop
	// returns it to Idle.
	StatusError
)

// String returns a human-readable name for the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "Idle"
	case StatusConnecting:
		return "Connecting"
	case StatusSyncing:
		return "Syncing"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}
