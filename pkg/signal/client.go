// Package signal implements the peer side of the rendezvous signaling
// relay: a WebSocket client that learns its assigned peer ID, observes
// join/leave events, and exchanges addressed frames with other peers.
package signal

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"
)

// handshakeTimeout bounds the dial plus the wait for the initial peers
// frame.
const handshakeTimeout = 10 * time.Second

// writeTimeout bounds a single outbound frame write.
const writeTimeout = 10 * time.Second

// Client is one connection to a room's signaling relay.
//
// Incoming frames are dispatched from a single read loop, so callbacks are
// never invoked concurrently with each other. Send is safe for concurrent
// use.
type Client struct {
	conn *websocket.Conn
	you  string

	onPeerJoined func(peerID string)
	onPeerLeft   func(peerID string)
	onFrame      func(from string, frame []byte)
	onClose      func(err error)

	log logging.LeveledLogger

	writeMu sync.Mutex
	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
}

// ClientConfig configures a relay connection.
type ClientConfig struct {
	// URL is the ws:// or wss:// signal endpoint of the room. Required.
	URL string

	// OnPeerJoined is called when another peer connects to the relay.
	OnPeerJoined func(peerID string)

	// OnPeerLeft is called when another peer disconnects.
	OnPeerLeft func(peerID string)

	// OnFrame is called for every relayed frame addressed to this client,
	// with the originating peer ID and the raw frame bytes.
	OnFrame func(from string, frame []byte)

	// OnClose is called once when the connection ends, with the terminal
	// read error.
	OnClose func(err error)

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// serverFrame is the superset of all server-originated frame shapes.
type serverFrame struct {
	Type   string   `json:"type"`
	Peers  []string `json:"peers"`
	You    string   `json:"you"`
	PeerID string   `json:"peerId"`
	From   string   `json:"from"`
}

// Dial connects to the relay and blocks until the server has assigned a
// peer ID. The returned client's read loop is already running; the initial
// peer list is returned alongside the client.
func Dial(ctx context.Context, config ClientConfig) (*Client, []string, error) {
	if config.URL == "" {
		return nil, nil, ErrNoURL
	}

	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, config.URL, nil)
	if err != nil {
		return nil, nil, err
	}

	// The first frame is always the peers frame carrying our identity.
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	conn.SetReadDeadline(time.Time{})

	var hello serverFrame
	if err := json.Unmarshal(data, &hello); err != nil || hello.Type != "peers" || hello.You == "" {
		conn.Close()
		return nil, nil, ErrBadHandshake
	}

	c := &Client{
		conn:         conn,
		you:          hello.You,
		onPeerJoined: config.OnPeerJoined,
		onPeerLeft:   config.OnPeerLeft,
		onFrame:      config.OnFrame,
		onClose:      config.OnClose,
	}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("signal")
	}

	c.wg.Add(1)
	go c.readLoop()

	return c, hello.Peers, nil
}

// You returns the peer ID the relay assigned to this client.
func (c *Client) You() string {
	return c.you
}

// Send relays a frame to the peer with the given ID. The fields map is
// augmented with the mandatory "to" field; all fields pass through the
// relay opaquely.
func (c *Client) Send(to string, fields map[string]interface{}) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	frame := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		frame[k] = v
	}
	frame["to"] = to

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(frame)
}

// Close tears down the connection. OnClose is still invoked, with the read
// loop's terminal error.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.conn.Close()
	c.wg.Wait()
	return err
}

func (c *Client) readLoop() {
	defer c.wg.Done()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.onClose != nil {
				c.onClose(err)
			}
			return
		}

		var frame serverFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			if c.log != nil {
				c.log.Warnf("dropping malformed frame: %v", err)
			}
			continue
		}

		switch frame.Type {
		case "peer-joined":
			if c.onPeerJoined != nil && frame.PeerID != "" {
				c.onPeerJoined(frame.PeerID)
			}
		case "peer-left":
			if c.onPeerLeft != nil && frame.PeerID != "" {
				c.onPeerLeft(frame.PeerID)
			}
		default:
			// Every relayed frame carries the origin added by the server.
			if c.onFrame != nil && frame.From != "" {
				c.onFrame(frame.From, data)
			}
		}
	}
}
