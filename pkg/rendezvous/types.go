// Package rendezvous implements the untrusted bulletin-board server that
// helps peers of a room find one another, plus the peer-side HTTP client.
//
// The server learns room identifiers and ephemeral connection metadata and
// nothing else: no passwords, no document content. All state lives in an
// expiring key-value store; nothing survives its TTL.
package rendezvous

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Key prefixes in the backing store.
const (
	inviteKeyPrefix = "invite/"
	roomKeyPrefix   = "room/"
)

// shareCodePattern matches a share code with or without the separator,
// case-insensitive.
var shareCodePattern = regexp.MustCompile(`^[A-Za-z0-9]{4}-?[A-Za-z0-9]{4}$`)

// ValidateRoomID checks that s is a canonical 36-character lowercase UUID
// and returns it, or ErrInvalidRoomID.
func ValidateRoomID(s string) (string, error) {
	id, err := uuid.Parse(s)
	if err != nil || s != id.String() {
		return "", ErrInvalidRoomID
	}
	return s, nil
}

// NormalizeShareCode validates a share code and returns its canonical form:
// uppercase with the dash between positions four and five.
func NormalizeShareCode(s string) (string, error) {
	if !shareCodePattern.MatchString(s) {
		return "", ErrInvalidShareCode
	}
	code := strings.ToUpper(strings.ReplaceAll(s, "-", ""))
	return code[:4] + "-" + code[4:], nil
}

func inviteKey(code string) string {
	return inviteKeyPrefix + code
}

func peerKey(roomID, peerID string) string {
	return roomKeyPrefix + roomID + "/peer/" + peerID
}

func peerKeyPrefix(roomID string) string {
	return roomKeyPrefix + roomID + "/peer/"
}

// InviteRecord is the stored value under invite/<code>.
type InviteRecord struct {
	RoomID      string `json:"room_id"`
	CreatedAtMS int64  `json:"created_at_ms"`
	CreatedByIP string `json:"created_by_ip"`
}

// PresenceRecord is the stored value under room/<roomId>/peer/<peerId>.
type PresenceRecord struct {
	PeerID        string   `json:"peer_id"`
	LastSeenMS    int64    `json:"last_seen_ms"`
	SDPOffer      string   `json:"sdp_offer,omitempty"`
	ICECandidates []string `json:"ice_candidates,omitempty"`
}

// HTTP request and response bodies.

// InviteRequest is the body of POST /invite.
type InviteRequest struct {
	RoomID string `json:"roomId"`
}

// InviteResponse is the success body of POST /invite.
type InviteResponse struct {
	Code      string `json:"code"`
	ExpiresIn int    `json:"expiresIn"`
}

// JoinResponse is the success body of POST /join/<code>.
type JoinResponse struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

// AnnounceRequest is the body of POST /room/<uuid>/announce.
type AnnounceRequest struct {
	PeerID        string   `json:"peerId"`
	SDPOffer      string   `json:"sdpOffer,omitempty"`
	ICECandidates []string `json:"iceCandidates,omitempty"`
}

// AnnounceResponse is the success body of POST /room/<uuid>/announce.
type AnnounceResponse struct {
	Success   bool `json:"success"`
	ExpiresIn int  `json:"expiresIn"`
}

// PeerInfo is one presence entry in GET /room/<uuid>/peers.
type PeerInfo struct {
	PeerID        string   `json:"peerId"`
	SDPOffer      string   `json:"sdpOffer,omitempty"`
	ICECandidates []string `json:"iceCandidates,omitempty"`
	LastSeen      int64    `json:"lastSeen"`
}

// PeersResponse is the success body of GET /room/<uuid>/peers.
type PeersResponse struct {
	RoomID string     `json:"roomId"`
	Peers  []PeerInfo `json:"peers"`
	Count  int        `json:"count"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// errorResponse is the body of every error status.
type errorResponse struct {
	Error string `json:"error"`
}

// Relay frame types originated by the server. Every other frame is relayed
// verbatim, augmented with a "from" field.
const (
	FrameTypePeers      = "peers"
	FrameTypePeerJoined = "peer-joined"
	FrameTypePeerLeft   = "peer-left"
)

// PeersFrame tells a freshly registered client who it is and who else is
// connected to the relay.
type PeersFrame struct {
	Type  string   `json:"type"`
	Peers []string `json:"peers"`
	You   string   `json:"you"`
}

// PeerEventFrame announces a relay join or leave to existing clients.
type PeerEventFrame struct {
	Type   string `json:"type"`
	PeerID string `json:"peerId"`
}
