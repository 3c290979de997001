package rendezvous

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// DefaultRequestDeadline bounds every rendezvous HTTP request.
const DefaultRequestDeadline = 10 * time.Second

// Client is the peer-side API for the rendezvous server's HTTP surface.
type Client struct {
	baseURL    string
	httpClient *http.Client
	deadline   time.Duration
}

// ClientConfig configures a rendezvous client.
type ClientConfig struct {
	// BaseURL is the rendezvous server's base URL, e.g.
	// "https://rendezvous.example.org". Required.
	BaseURL string

	// HTTPClient is an optional pre-configured HTTP client.
	HTTPClient *http.Client

	// RequestDeadline bounds each request. Default: 10 s.
	RequestDeadline time.Duration
}

// NewClient creates a rendezvous client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, ErrInvalidArgument
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, ErrInvalidArgument
	}

	c := &Client{
		baseURL:    config.BaseURL,
		httpClient: config.HTTPClient,
		deadline:   config.RequestDeadline,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.deadline <= 0 {
		c.deadline = DefaultRequestDeadline
	}
	return c, nil
}

// CreateInvite asks the server for a fresh single-use share code bound to
// roomID.
func (c *Client) CreateInvite(ctx context.Context, roomID string) (string, error) {
	var resp InviteResponse
	err := c.do(ctx, http.MethodPost, "/invite", InviteRequest{RoomID: roomID}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Code, nil
}

// RedeemInvite exchanges a share code for its room ID. The code is consumed:
// a second redemption fails with ErrNotFound.
func (c *Client) RedeemInvite(ctx context.Context, code string) (string, error) {
	normalized, err := NormalizeShareCode(code)
	if err != nil {
		return "", err
	}

	var resp JoinResponse
	err = c.do(ctx, http.MethodPost, "/join/"+url.PathEscape(normalized), nil, &resp)
	if err != nil {
		return "", err
	}
	return resp.RoomID, nil
}

// Announce publishes or refreshes this peer's presence record.
func (c *Client) Announce(ctx context.Context, roomID string, req AnnounceRequest) error {
	var resp AnnounceResponse
	return c.do(ctx, http.MethodPost, "/room/"+url.PathEscape(roomID)+"/announce", req, &resp)
}

// ListPeers returns the live presence records of a room.
func (c *Client) ListPeers(ctx context.Context, roomID string) ([]PeerInfo, error) {
	var resp PeersResponse
	err := c.do(ctx, http.MethodGet, "/room/"+url.PathEscape(roomID)+"/peers", nil, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Peers, nil
}

// SignalURL returns the WebSocket URL of the room's signaling relay.
func (c *Client) SignalURL(roomID string) string {
	u := c.baseURL + "/room/" + url.PathEscape(roomID) + "/signal"
	if len(u) > 4 && u[:4] == "http" {
		u = "ws" + u[4:]
	}
	return u
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.deadline)
	defer cancel()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encoding request: %v", ErrInvalidArgument, err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode); err != nil {
		return err
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decoding response: %v", ErrTransient, err)
		}
	}
	return nil
}

// statusError maps an HTTP status onto the shared error taxonomy.
func statusError(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusBadRequest:
		return ErrInvalidArgument
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return fmt.Errorf("%w: server returned %d", ErrTransient, status)
	}
}
