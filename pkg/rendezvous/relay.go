package rendezvous

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/logging"
)

// sendBuffer is the per-client outbound frame buffer. Frames beyond it are
// dropped for that client rather than allowed to block the room.
const sendBuffer = 64

// writeTimeout bounds a single WebSocket write.
const writeTimeout = 10 * time.Second

// hub is the signaling relay. It allocates a fresh server-side peer ID per
// connection, announces joins and leaves, and forwards frames addressed with
// a "to" field to exactly that peer. It never originates any other frame
// and never inspects relayed payloads.
type hub struct {
	upgrader      websocket.Upgrader
	maxConnsPerIP int
	metrics       *metrics
	log           logging.LeveledLogger

	mu         sync.Mutex
	rooms      map[string]*relayRoom
	connsPerIP map[string]int
	closed     bool
}

type hubConfig struct {
	maxConnsPerIP int
	metrics       *metrics
	loggerFactory logging.LoggerFactory
}

// relayRoom serializes all frame routing for one room.
type relayRoom struct {
	mu      sync.Mutex
	clients map[string]*relayClient
}

type relayClient struct {
	peerID string
	ip     string
	conn   *websocket.Conn
	send   chan []byte

	closeOnce sync.Once
}

func newHub(config hubConfig) *hub {
	h := &hub{
		upgrader: websocket.Upgrader{
			// The HTTP surface is CORS-permissive; the relay matches it.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		maxConnsPerIP: config.maxConnsPerIP,
		metrics:       config.metrics,
		rooms:         make(map[string]*relayRoom),
		connsPerIP:    make(map[string]int),
	}
	if config.loggerFactory != nil {
		h.log = config.loggerFactory.NewLogger("relay")
	}
	return h
}

// serve upgrades the request and runs the connection until it closes.
func (h *hub) serve(w http.ResponseWriter, req *http.Request, roomID, ip string) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	if h.connsPerIP[ip] >= h.maxConnsPerIP {
		h.mu.Unlock()
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}
	h.connsPerIP[ip]++
	h.mu.Unlock()

	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		h.releaseIP(ip)
		return
	}

	client := &relayClient{
		peerID: uuid.NewString(),
		ip:     ip,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
	}

	h.register(roomID, client)
	h.metrics.relayConnections.Inc()
	if h.log != nil {
		h.log.Debugf("peer %s joined relay for room %s", client.peerID, roomID)
	}

	go client.writePump()
	h.readLoop(roomID, client)

	h.unregister(roomID, client)
	h.metrics.relayConnections.Dec()
	h.releaseIP(ip)
	if h.log != nil {
		h.log.Debugf("peer %s left relay for room %s", client.peerID, roomID)
	}
}

// register adds the client to its room, tells it who is present, and
// announces the join to everyone else.
func (h *hub) register(roomID string, client *relayClient) {
	h.mu.Lock()
	room := h.rooms[roomID]
	if room == nil {
		room = &relayRoom{clients: make(map[string]*relayClient)}
		h.rooms[roomID] = room
	}
	h.mu.Unlock()

	room.mu.Lock()
	existing := make([]string, 0, len(room.clients))
	others := make([]*relayClient, 0, len(room.clients))
	for id, c := range room.clients {
		existing = append(existing, id)
		others = append(others, c)
	}
	room.clients[client.peerID] = client
	room.mu.Unlock()

	client.trySend(mustMarshal(PeersFrame{
		Type:  FrameTypePeers,
		Peers: existing,
		You:   client.peerID,
	}))

	joined := mustMarshal(PeerEventFrame{Type: FrameTypePeerJoined, PeerID: client.peerID})
	for _, c := range others {
		c.trySend(joined)
	}
}

// unregister removes the client and announces the leave.
func (h *hub) unregister(roomID string, client *relayClient) {
	h.mu.Lock()
	room := h.rooms[roomID]
	h.mu.Unlock()
	if room == nil {
		return
	}

	room.mu.Lock()
	if _, ok := room.clients[client.peerID]; !ok {
		room.mu.Unlock()
		return
	}
	delete(room.clients, client.peerID)
	remaining := make([]*relayClient, 0, len(room.clients))
	for _, c := range room.clients {
		remaining = append(remaining, c)
	}
	empty := len(room.clients) == 0
	room.mu.Unlock()

	client.close()

	if empty {
		h.mu.Lock()
		// Re-check: a client may have joined between the unlocks.
		room.mu.Lock()
		if len(room.clients) == 0 {
			delete(h.rooms, roomID)
		}
		room.mu.Unlock()
		h.mu.Unlock()
		return
	}

	left := mustMarshal(PeerEventFrame{Type: FrameTypePeerLeft, PeerID: client.peerID})
	for _, c := range remaining {
		c.trySend(left)
	}
}

// readLoop relays inbound frames until the connection closes. Malformed
// frames and frames without a routable "to" are dropped silently.
func (h *hub) readLoop(roomID string, client *relayClient) {
	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame map[string]interface{}
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		to, _ := frame["to"].(string)
		if to == "" {
			continue
		}
		frame["from"] = client.peerID

		out, err := json.Marshal(frame)
		if err != nil {
			continue
		}

		h.mu.Lock()
		room := h.rooms[roomID]
		h.mu.Unlock()
		if room == nil {
			return
		}

		room.mu.Lock()
		target := room.clients[to]
		room.mu.Unlock()
		if target == nil {
			continue
		}

		target.trySend(out)
		h.metrics.relayFrames.Inc()
	}
}

// closeAll tears down every connection. Used on server shutdown.
func (h *hub) closeAll() {
	h.mu.Lock()
	h.closed = true
	rooms := make([]*relayRoom, 0, len(h.rooms))
	for _, room := range h.rooms {
		rooms = append(rooms, room)
	}
	h.mu.Unlock()

	for _, room := range rooms {
		room.mu.Lock()
		for _, c := range room.clients {
			c.close()
		}
		room.mu.Unlock()
	}
}

func (h *hub) releaseIP(ip string) {
	h.mu.Lock()
	if h.connsPerIP[ip] > 0 {
		h.connsPerIP[ip]--
	}
	if h.connsPerIP[ip] == 0 {
		delete(h.connsPerIP, ip)
	}
	h.mu.Unlock()
}

// trySend queues a frame, dropping it if the client's buffer is full.
func (c *relayClient) trySend(data []byte) {
	defer func() {
		// The send channel may close concurrently with a late frame.
		recover()
	}()

	select {
	case c.send <- data:
	default:
	}
}

func (c *relayClient) writePump() {
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			c.conn.Close()
			// Drain remaining frames so senders never block.
			for range c.send {
			}
			return
		}
	}
	c.conn.Close()
}

func (c *relayClient) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
