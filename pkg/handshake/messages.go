// Package handshake implements the zero-knowledge mutual authentication run
// over every peer transport before any document data flows.
//
// Each side issues one random challenge and proves knowledge of the shared
// room key by returning the HMAC of the challenge it received. A transport
// is authenticated only once the local side has verified the remote's
// response to its own challenge; the remote's auth-success acknowledgement
// is required for completion but is never the security root.
package handshake

import (
	"encoding/base64"
	"encoding/json"

	"github.com/backkem/roomsync/pkg/crypto"
)

// Frame types carried on the transport during authentication.
const (
	TypeChallenge = "auth-challenge"
	TypeResponse  = "auth-response"
	TypeSuccess   = "auth-success"
)

// Frame is the wire form of every authentication message. Challenge and
// response bytes travel base64-encoded.
type Frame struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge,omitempty"`
	Response  string `json:"response,omitempty"`
}

// EncodeChallenge builds an auth-challenge frame.
func EncodeChallenge(challenge []byte) ([]byte, error) {
	return json.Marshal(Frame{
		Type:      TypeChallenge,
		Challenge: base64.StdEncoding.EncodeToString(challenge),
	})
}

// EncodeResponse builds an auth-response frame echoing the challenge it
// answers.
func EncodeResponse(challenge, response []byte) ([]byte, error) {
	return json.Marshal(Frame{
		Type:      TypeResponse,
		Challenge: base64.StdEncoding.EncodeToString(challenge),
		Response:  base64.StdEncoding.EncodeToString(response),
	})
}

// EncodeSuccess builds an auth-success frame.
func EncodeSuccess() ([]byte, error) {
	return json.Marshal(Frame{Type: TypeSuccess})
}

// DecodeFrame parses an authentication frame.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, ErrProtocolViolation
	}
	return &f, nil
}

// decodeChallengeBytes decodes a base64 challenge field and checks its
// length.
func decodeChallengeBytes(s string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(raw) != crypto.ChallengeSize {
		return nil, ErrProtocolViolation
	}
	return raw, nil
}

// decodeResponseBytes decodes a base64 response field.
func decodeResponseBytes(s string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(raw) == 0 {
		return nil, ErrProtocolViolation
	}
	return raw, nil
}
