package session

import (
	"net/http"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/roomsync/pkg/crdt"
	"github.com/backkem/roomsync/pkg/crypto"
	"github.com/backkem/roomsync/pkg/rendezvous"
	"github.com/backkem/roomsync/pkg/transport"
)

// Defaults for the recognized session options.
const (
	DefaultAnnounceInterval   = 60 * time.Second
	DefaultPollInterval       = 30 * time.Second
	DefaultNegotiationBudget  = 30 * time.Second
	DefaultAuthResponseBudget = 5 * time.Second
	DefaultReconnectFloor     = 5 * time.Second
	DefaultReconnectCap       = 60 * time.Second
	DefaultRateLimitThreshold = 5
)

// Config holds all configuration for a Session.
type Config struct {
	// RendezvousBaseURL is the rendezvous server's base URL. Required.
	RendezvousBaseURL string

	// RoomID is the room to sync, as a canonical lowercase UUID. Required.
	RoomID string

	// Document is the replicated document. Required.
	Document crdt.Document

	// ICEServers is the list of STUN/TURN URLs for transport negotiation.
	ICEServers []string

	// PBKDF2Iterations overrides the key derivation cost.
	// Default: crypto.DefaultIterations.
	PBKDF2Iterations int

	// AnnounceInterval is how often presence is refreshed. Default: 60 s.
	AnnounceInterval time.Duration

	// PollInterval is how often the presence list is polled alongside the
	// relay's push events. Default: 30 s.
	PollInterval time.Duration

	// RequestDeadline bounds each rendezvous HTTP request. Default: 10 s.
	RequestDeadline time.Duration

	// NegotiationBudget bounds a transport from creation to authenticated.
	// Default: 30 s.
	NegotiationBudget time.Duration

	// AuthResponseBudget bounds the authentication exchange after the
	// channel opens. Default: 5 s.
	AuthResponseBudget time.Duration

	// ReconnectFloor and ReconnectCap bound the jittered exponential
	// backoff used when the relay connection drops. Defaults: 5 s / 60 s.
	ReconnectFloor time.Duration
	ReconnectCap   time.Duration

	// RateLimitThreshold is how many consecutive rate-limited rendezvous
	// responses are tolerated before the condition is surfaced and
	// announcements pause for one interval. Default: 5.
	RateLimitThreshold int

	// OnStatus is called on every status transition, and additionally to
	// surface non-fatal conditions with the current status. Optional.
	OnStatus func(status Status, err error)

	// OnPeerConnected is called when a peer transport authenticates.
	OnPeerConnected func(peerID string)

	// OnPeerDisconnected is called when a peer transport ends for any
	// reason after having been announced via OnPeerConnected.
	OnPeerDisconnected func(peerID string)

	// Dialer overrides the transport dialer. Default: a WebRTC dialer
	// using ICEServers. Tests substitute in-memory pipes.
	Dialer transport.Dialer

	// HTTPClient is an optional pre-configured HTTP client for rendezvous
	// requests.
	HTTPClient *http.Client

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.RendezvousBaseURL == "" {
		return ErrNoRendezvous
	}
	if _, err := rendezvous.ValidateRoomID(c.RoomID); err != nil {
		return ErrNoRoomID
	}
	if c.Document == nil {
		return ErrNoDocument
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.PBKDF2Iterations <= 0 {
		c.PBKDF2Iterations = crypto.DefaultIterations
	}
	if c.AnnounceInterval <= 0 {
		c.AnnounceInterval = DefaultAnnounceInterval
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.RequestDeadline <= 0 {
		c.RequestDeadline = rendezvous.DefaultRequestDeadline
	}
	if c.NegotiationBudget <= 0 {
		c.NegotiationBudget = DefaultNegotiationBudget
	}
	if c.AuthResponseBudget <= 0 {
		c.AuthResponseBudget = DefaultAuthResponseBudget
	}
	if c.ReconnectFloor <= 0 {
		c.ReconnectFloor = DefaultReconnectFloor
	}
	if c.ReconnectCap <= 0 {
		c.ReconnectCap = DefaultReconnectCap
	}
	if c.RateLimitThreshold <= 0 {
		c.RateLimitThreshold = DefaultRateLimitThreshold
	}
	if c.Dialer == nil {
		c.Dialer = transport.NewWebRTCDialer(transport.WebRTCDialerConfig{
			ICEServers:    c.ICEServers,
			LoggerFactory: c.LoggerFactory,
		})
	}
}
