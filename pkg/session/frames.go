package session

import (
	"encoding/base64"
	"encoding/json"
)

// Document frame types carried on an authenticated transport. The type
// names are part of the wire protocol shared with other implementations.
const (
	frameTypeSyncRequest  = "yjs-sync-request"
	frameTypeSyncResponse = "yjs-sync-response"
	frameTypeUpdate       = "yjs-update"
)

// docFrame is the wire form of every document frame. Update bytes travel
// base64-encoded and are otherwise opaque.
type docFrame struct {
	Type   string `json:"type"`
	Update string `json:"update,omitempty"`
}

func encodeSyncRequest() ([]byte, error) {
	return json.Marshal(docFrame{Type: frameTypeSyncRequest})
}

func encodeSyncResponse(state []byte) ([]byte, error) {
	return json.Marshal(docFrame{
		Type:   frameTypeSyncResponse,
		Update: base64.StdEncoding.EncodeToString(state),
	})
}

func encodeUpdate(update []byte) ([]byte, error) {
	return json.Marshal(docFrame{
		Type:   frameTypeUpdate,
		Update: base64.StdEncoding.EncodeToString(update),
	})
}

func decodeDocFrame(data []byte) (*docFrame, error) {
	var f docFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, ErrProtocolViolation
	}
	return &f, nil
}

func (f *docFrame) updateBytes() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(f.Update)
	if err != nil {
		return nil, ErrProtocolViolation
	}
	return raw, nil
}
