package rendezvous

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pion/logging"
	"github.com/rs/cors"

	"github.com/backkem/roomsync/pkg/crypto"
	"github.com/backkem/roomsync/pkg/kv"
	"github.com/backkem/roomsync/pkg/ratelimit"
)

// Defaults for the recognized server options.
const (
	DefaultShareCodeTTL      = 300 * time.Second
	DefaultPeerTTL           = 120 * time.Second
	DefaultMaxRequestsPerMin = 100
	DefaultMaxRelayPerIP     = 16
)

// shareCodeAttempts bounds regeneration when a fresh code collides with an
// unexpired one.
const shareCodeAttempts = 10

// ServerConfig configures the rendezvous server.
type ServerConfig struct {
	// Store is the expiring key-value store backing invites and presence.
	// Required.
	Store kv.Store

	// ShareCodeTTL is how long an unredeemed share code lives.
	// Default: 300 s.
	ShareCodeTTL time.Duration

	// PeerTTL is how long a presence record lives after its last refresh.
	// Default: 120 s.
	PeerTTL time.Duration

	// MaxRequestsPerMinute is the per-IP budget over a rolling 60 s window.
	// Default: 100.
	MaxRequestsPerMinute int

	// MaxRelayConnsPerIP limits simultaneous signaling connections per IP.
	// Default: 16.
	MaxRelayConnsPerIP int

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory

	// Now is the clock; tests override it to drive TTL behavior.
	// Default: time.Now.
	Now func() time.Time
}

// Validate checks the configuration for errors.
func (c *ServerConfig) Validate() error {
	if c.Store == nil {
		return ErrStoreRequired
	}
	return nil
}

func (c *ServerConfig) applyDefaults() {
	if c.ShareCodeTTL <= 0 {
		c.ShareCodeTTL = DefaultShareCodeTTL
	}
	if c.PeerTTL <= 0 {
		c.PeerTTL = DefaultPeerTTL
	}
	if c.MaxRequestsPerMinute <= 0 {
		c.MaxRequestsPerMinute = DefaultMaxRequestsPerMin
	}
	if c.MaxRelayConnsPerIP <= 0 {
		c.MaxRelayConnsPerIP = DefaultMaxRelayPerIP
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Server is the rendezvous server: the invitation, presence and signaling
// surface peers use to find one another.
type Server struct {
	config  ServerConfig
	store   kv.Store
	limiter *ratelimit.Limiter
	hub     *hub
	metrics *metrics
	log     logging.LeveledLogger
	now     func() time.Time
}

// NewServer creates a rendezvous server with the given configuration.
func NewServer(config ServerConfig) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	s := &Server{
		config: config,
		store:  config.Store,
		limiter: ratelimit.NewLimiterWithClock(
			config.MaxRequestsPerMinute, 60*time.Second, config.Now),
		metrics: newMetrics(),
		now:     config.Now,
	}

	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("rendezvous")
	}

	s.hub = newHub(hubConfig{
		maxConnsPerIP: config.MaxRelayConnsPerIP,
		metrics:       s.metrics,
		loggerFactory: config.LoggerFactory,
	})

	return s, nil
}

// Handler returns the complete HTTP handler: routing, permissive CORS and
// per-IP rate limiting.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.handler()).Methods(http.MethodGet)
	r.HandleFunc("/invite", s.handleCreateInvite).Methods(http.MethodPost)
	r.HandleFunc("/join/{code}", s.handleJoin).Methods(http.MethodPost)
	r.HandleFunc("/room/{roomId}/announce", s.handleAnnounce).Methods(http.MethodPost)
	r.HandleFunc("/room/{roomId}/peers", s.handleListPeers).Methods(http.MethodGet)
	r.HandleFunc("/room/{roomId}/signal", s.handleSignal).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s.writeError(w, req, http.StatusNotFound, "not found")
	})

	return cors.AllowAll().Handler(s.rateLimit(r))
}

// Shutdown closes all relay connections.
func (s *Server) Shutdown() {
	s.hub.closeAll()
}

// rateLimit gates every HTTP request by client IP. The health and metrics
// probes are exempt, and the signaling relay is admission-controlled by
// connection count instead of request count.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		path := req.URL.Path
		exempt := path == "/health" || path == "/metrics" ||
			strings.HasSuffix(path, "/signal")

		if !exempt && !s.limiter.Allow(clientIP(req)) {
			s.metrics.rateLimited.Inc()
			s.writeError(w, req, http.StatusTooManyRequests, "rate limited")
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, req *http.Request) {
	s.writeJSON(w, req, http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleCreateInvite(w http.ResponseWriter, req *http.Request) {
	var body InviteRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		s.writeError(w, req, http.StatusBadRequest, "invalid request body")
		return
	}

	roomID, err := ValidateRoomID(body.RoomID)
	if err != nil {
		s.writeError(w, req, http.StatusBadRequest, "invalid room ID")
		return
	}

	record, err := json.Marshal(InviteRecord{
		RoomID:      roomID,
		CreatedAtMS: s.now().UnixMilli(),
		CreatedByIP: clientIP(req),
	})
	if err != nil {
		s.writeError(w, req, http.StatusInternalServerError, "internal error")
		return
	}

	// Regenerate on collision so a live code is never silently replaced.
	for attempt := 0; attempt < shareCodeAttempts; attempt++ {
		code, err := crypto.NewShareCode()
		if err != nil {
			s.writeError(w, req, http.StatusInternalServerError, "internal error")
			return
		}

		_, err = s.store.Get(req.Context(), inviteKey(code))
		if err == nil {
			continue
		}
		if !errors.Is(err, kv.ErrNotFound) {
			s.writeError(w, req, http.StatusInternalServerError, "storage unavailable")
			return
		}

		if err := s.store.Set(req.Context(), inviteKey(code), record, s.config.ShareCodeTTL); err != nil {
			s.writeError(w, req, http.StatusInternalServerError, "storage unavailable")
			return
		}

		s.metrics.invitesCreated.Inc()
		if s.log != nil {
			s.log.Debugf("issued invite for room %s", roomID)
		}
		s.writeJSON(w, req, http.StatusOK, InviteResponse{
			Code:      code,
			ExpiresIn: int(s.config.ShareCodeTTL.Seconds()),
		})
		return
	}

	s.writeError(w, req, http.StatusInternalServerError, "share code space busy")
}

func (s *Server) handleJoin(w http.ResponseWriter, req *http.Request) {
	// A malformed code is indistinguishable from a never-issued one.
	code, err := NormalizeShareCode(mux.Vars(req)["code"])
	if err != nil {
		s.writeError(w, req, http.StatusNotFound, "unknown or expired code")
		return
	}

	// GetDel is the atomic read-and-delete: of two concurrent redemptions,
	// exactly one observes the record.
	value, err := s.store.GetDel(req.Context(), inviteKey(code))
	if errors.Is(err, kv.ErrNotFound) {
		s.writeError(w, req, http.StatusNotFound, "unknown or expired code")
		return
	}
	if err != nil {
		s.writeError(w, req, http.StatusInternalServerError, "storage unavailable")
		return
	}

	var record InviteRecord
	if err := json.Unmarshal(value, &record); err != nil {
		s.writeError(w, req, http.StatusInternalServerError, "internal error")
		return
	}

	s.metrics.invitesRedeemed.Inc()
	if s.log != nil {
		s.log.Debugf("invite redeemed for room %s", record.RoomID)
	}
	s.writeJSON(w, req, http.StatusOK, JoinResponse{
		RoomID:  record.RoomID,
		Message: "joined room",
	})
}

func (s *Server) handleAnnounce(w http.ResponseWriter, req *http.Request) {
	roomID, err := ValidateRoomID(mux.Vars(req)["roomId"])
	if err != nil {
		s.writeError(w, req, http.StatusBadRequest, "invalid room ID")
		return
	}

	var body AnnounceRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		s.writeError(w, req, http.StatusBadRequest, "invalid request body")
		return
	}

	peerID, err := ValidateRoomID(body.PeerID)
	if err != nil {
		s.writeError(w, req, http.StatusBadRequest, "invalid peer ID")
		return
	}

	record, err := json.Marshal(PresenceRecord{
		PeerID:        peerID,
		LastSeenMS:    s.now().UnixMilli(),
		SDPOffer:      body.SDPOffer,
		ICECandidates: body.ICECandidates,
	})
	if err != nil {
		s.writeError(w, req, http.StatusInternalServerError, "internal error")
		return
	}

	if err := s.store.Set(req.Context(), peerKey(roomID, peerID), record, s.config.PeerTTL); err != nil {
		s.writeError(w, req, http.StatusInternalServerError, "storage unavailable")
		return
	}

	s.writeJSON(w, req, http.StatusOK, AnnounceResponse{
		Success:   true,
		ExpiresIn: int(s.config.PeerTTL.Seconds()),
	})
}

func (s *Server) handleListPeers(w http.ResponseWriter, req *http.Request) {
	roomID, err := ValidateRoomID(mux.Vars(req)["roomId"])
	if err != nil {
		s.writeError(w, req, http.StatusBadRequest, "invalid room ID")
		return
	}

	entries, err := s.store.List(req.Context(), peerKeyPrefix(roomID))
	if err != nil {
		s.writeError(w, req, http.StatusInternalServerError, "storage unavailable")
		return
	}

	// Filter on last_seen_ms even though the store also expires entries:
	// the store may delete lazily, but readers must never see stale
	// presence.
	cutoff := s.now().Add(-s.config.PeerTTL).UnixMilli()
	peers := make([]PeerInfo, 0, len(entries))
	for _, value := range entries {
		var record PresenceRecord
		if err := json.Unmarshal(value, &record); err != nil {
			continue
		}
		if record.LastSeenMS < cutoff {
			continue
		}
		peers = append(peers, PeerInfo{
			PeerID:        record.PeerID,
			SDPOffer:      record.SDPOffer,
			ICECandidates: record.ICECandidates,
			LastSeen:      record.LastSeenMS,
		})
	}

	sort.Slice(peers, func(i, j int) bool { return peers[i].PeerID < peers[j].PeerID })

	s.writeJSON(w, req, http.StatusOK, PeersResponse{
		RoomID: roomID,
		Peers:  peers,
		Count:  len(peers),
	})
}

func (s *Server) handleSignal(w http.ResponseWriter, req *http.Request) {
	roomID, err := ValidateRoomID(mux.Vars(req)["roomId"])
	if err != nil {
		s.writeError(w, req, http.StatusBadRequest, "invalid room ID")
		return
	}

	if !websocket.IsWebSocketUpgrade(req) {
		s.writeError(w, req, http.StatusUpgradeRequired, "websocket upgrade required")
		return
	}

	s.hub.serve(w, req, roomID, clientIP(req))
}

func (s *Server) writeJSON(w http.ResponseWriter, req *http.Request, status int, body interface{}) {
	s.metrics.requests.WithLabelValues(routeLabel(req), strconv.Itoa(status)).Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, req *http.Request, status int, msg string) {
	if s.log != nil && status >= 500 {
		s.log.Warnf("%s %s -> %d %s", req.Method, req.URL.Path, status, msg)
	}
	s.writeJSON(w, req, status, errorResponse{Error: msg})
}

// routeLabel returns the route template for metrics, avoiding per-room
// label cardinality.
func routeLabel(req *http.Request) string {
	if route := mux.CurrentRoute(req); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// clientIP extracts the requester's IP, honoring X-Forwarded-For when a
// proxy sits in front of the server.
func clientIP(req *http.Request) string {
	if fwd := req.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}

	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
