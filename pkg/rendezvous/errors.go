package rendezvous

import "errors"

// Rendezvous errors. The server maps these onto HTTP statuses; the client
// maps statuses back onto them, so both sides of the wire share one
// taxonomy.
var (
	// ErrInvalidRoomID is returned for a room identifier that is not a
	// canonical lowercase UUID.
	ErrInvalidRoomID = errors.New("rendezvous: invalid room ID")

	// ErrInvalidShareCode is returned for a malformed share code.
	ErrInvalidShareCode = errors.New("rendezvous: invalid share code")

	// ErrInvalidArgument is returned for any other malformed request.
	ErrInvalidArgument = errors.New("rendezvous: invalid argument")

	// ErrNotFound is returned for an unknown or expired share code, or an
	// unknown route.
	ErrNotFound = errors.New("rendezvous: not found")

	// ErrRateLimited is returned when the per-IP request budget is
	// exhausted. Callers back off and retry.
	ErrRateLimited = errors.New("rendezvous: rate limited")

	// ErrTransient is returned for storage or network hiccups. Callers may
	// retry.
	ErrTransient = errors.New("rendezvous: transient failure")

	// ErrCodeSpaceBusy names the case where a fresh share code could not be
	// generated without colliding after several attempts. The server answers
	// that case with status 500 and this message, which the client reports
	// as ErrTransient; no function returns this value.
	ErrCodeSpaceBusy = errors.New("rendezvous: share code space busy")

	// ErrStoreRequired is returned by NewServer when no store is configured.
	ErrStoreRequired = errors.New("rendezvous: store required")
)
