package rendezvous

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/backkem/roomsync/pkg/kv"
)

const testRoomID = "550e8400-e29b-41d4-a716-446655440000"
const testPeerID = "650e8400-e29b-41d4-a716-446655440000"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(clock *fakeClock) kv.Store {
	return kv.NewMemoryWithClock(clock.Now)
}

func newHTTPTestServer(t *testing.T, server *Server) *httptest.Server {
	t.Helper()

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		server.Shutdown()
		ts.Close()
	})
	return ts
}

// newTestServer returns a server over an in-memory store sharing the given
// clock, and its httptest wrapper.
func newTestServer(t *testing.T, clock *fakeClock) (*Server, *httptest.Server) {
	t.Helper()

	server, err := NewServer(ServerConfig{
		Store: newTestStore(clock),
		Now:   clock.Now,
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return server, newHTTPTestServer(t, server)
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	resp, err := http.Post(url, "application/json", reader)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func TestServer_Health(t *testing.T) {
	_, ts := newTestServer(t, newFakeClock())

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var body HealthResponse
	decodeBody(t, resp, &body)
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}

func TestServer_InviteAndJoin(t *testing.T) {
	_, ts := newTestServer(t, newFakeClock())

	// Host creates an invite.
	resp := postJSON(t, ts.URL+"/invite", InviteRequest{RoomID: testRoomID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /invite status = %d, want 200", resp.StatusCode)
	}
	var invite InviteResponse
	decodeBody(t, resp, &invite)

	if invite.ExpiresIn != 300 {
		t.Errorf("expiresIn = %d, want 300", invite.ExpiresIn)
	}
	if _, err := NormalizeShareCode(invite.Code); err != nil {
		t.Errorf("issued code %q is not well-formed: %v", invite.Code, err)
	}

	// Joiner redeems it, case-insensitively.
	resp = postJSON(t, ts.URL+"/join/"+strings.ToLower(invite.Code), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /join status = %d, want 200", resp.StatusCode)
	}
	var join JoinResponse
	decodeBody(t, resp, &join)
	if join.RoomID != testRoomID {
		t.Errorf("roomId = %q, want %q", join.RoomID, testRoomID)
	}

	// The code is single-use.
	resp = postJSON(t, ts.URL+"/join/"+invite.Code, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second join status = %d, want 404", resp.StatusCode)
	}
}

func TestServer_InviteInvalidRoomID(t *testing.T) {
	_, ts := newTestServer(t, newFakeClock())

	tests := []struct {
		name   string
		roomID string
	}{
		{"empty", ""},
		{"not a uuid", "hello"},
		{"uppercase", strings.ToUpper(testRoomID)},
		{"braced", "{" + testRoomID + "}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/invite", InviteRequest{RoomID: tt.roomID})
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestServer_JoinExpiredCode(t *testing.T) {
	clock := newFakeClock()
	_, ts := newTestServer(t, clock)

	resp := postJSON(t, ts.URL+"/invite", InviteRequest{RoomID: testRoomID})
	var invite InviteResponse
	decodeBody(t, resp, &invite)

	// 301 seconds later the invite is gone.
	clock.Advance(301 * time.Second)

	resp = postJSON(t, ts.URL+"/join/"+invite.Code, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("join after expiry status = %d, want 404", resp.StatusCode)
	}
}

func TestServer_JoinMalformedCode(t *testing.T) {
	_, ts := newTestServer(t, newFakeClock())

	// Malformed codes are indistinguishable from never-issued ones.
	resp := postJSON(t, ts.URL+"/join/short", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestServer_ConcurrentRedemption(t *testing.T) {
	_, ts := newTestServer(t, newFakeClock())

	resp := postJSON(t, ts.URL+"/invite", InviteRequest{RoomID: testRoomID})
	var invite InviteResponse
	decodeBody(t, resp, &invite)

	const racers = 8
	var wg sync.WaitGroup
	statuses := make(chan int, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Post(ts.URL+"/join/"+invite.Code, "application/json", nil)
			if err != nil {
				return
			}
			resp.Body.Close()
			statuses <- resp.StatusCode
		}()
	}
	wg.Wait()
	close(statuses)

	ok, notFound := 0, 0
	for status := range statuses {
		switch status {
		case http.StatusOK:
			ok++
		case http.StatusNotFound:
			notFound++
		}
	}

	if ok != 1 {
		t.Errorf("successful redemptions = %d, want exactly 1", ok)
	}
	if notFound != racers-1 {
		t.Errorf("404 redemptions = %d, want %d", notFound, racers-1)
	}
}

func TestServer_AnnounceAndListPeers(t *testing.T) {
	clock := newFakeClock()
	_, ts := newTestServer(t, clock)

	resp := postJSON(t, ts.URL+"/room/"+testRoomID+"/announce", AnnounceRequest{
		PeerID:        testPeerID,
		SDPOffer:      "v=0",
		ICECandidates: []string{"candidate:1"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("announce status = %d, want 200", resp.StatusCode)
	}
	var ann AnnounceResponse
	decodeBody(t, resp, &ann)
	if !ann.Success || ann.ExpiresIn != 120 {
		t.Errorf("announce response = %+v, want success with expiresIn 120", ann)
	}

	resp, err := http.Get(ts.URL + "/room/" + testRoomID + "/peers")
	if err != nil {
		t.Fatalf("GET peers: %v", err)
	}
	var peers PeersResponse
	decodeBody(t, resp, &peers)

	if peers.Count != 1 || len(peers.Peers) != 1 {
		t.Fatalf("peers count = %d, want 1", peers.Count)
	}
	got := peers.Peers[0]
	if got.PeerID != testPeerID || got.SDPOffer != "v=0" || len(got.ICECandidates) != 1 {
		t.Errorf("peer = %+v, want announced record", got)
	}
}

func TestServer_PresenceExpiry(t *testing.T) {
	clock := newFakeClock()
	_, ts := newTestServer(t, clock)

	resp := postJSON(t, ts.URL+"/room/"+testRoomID+"/announce", AnnounceRequest{PeerID: testPeerID})
	resp.Body.Close()

	// Still visible just inside the TTL.
	clock.Advance(119 * time.Second)
	resp, _ = http.Get(ts.URL + "/room/" + testRoomID + "/peers")
	var peers PeersResponse
	decodeBody(t, resp, &peers)
	if peers.Count != 1 {
		t.Errorf("count before expiry = %d, want 1", peers.Count)
	}

	// Gone after.
	clock.Advance(2 * time.Second)
	resp, _ = http.Get(ts.URL + "/room/" + testRoomID + "/peers")
	decodeBody(t, resp, &peers)
	if peers.Count != 0 {
		t.Errorf("count after expiry = %d, want 0", peers.Count)
	}
}

func TestServer_AnnounceRefreshIdempotent(t *testing.T) {
	clock := newFakeClock()
	_, ts := newTestServer(t, clock)

	for i := 0; i < 3; i++ {
		resp := postJSON(t, ts.URL+"/room/"+testRoomID+"/announce", AnnounceRequest{PeerID: testPeerID})
		resp.Body.Close()
		clock.Advance(60 * time.Second)
	}

	// 180 s after the first announce the peer is still visible because each
	// refresh restarted the TTL.
	resp, _ := http.Get(ts.URL + "/room/" + testRoomID + "/peers")
	var peers PeersResponse
	decodeBody(t, resp, &peers)
	if peers.Count != 1 {
		t.Errorf("count = %d, want 1", peers.Count)
	}
}

func TestServer_RateLimit(t *testing.T) {
	clock := newFakeClock()
	_, ts := newTestServer(t, clock)

	// 100 requests within the window all succeed.
	for i := 0; i < 100; i++ {
		resp := postJSON(t, ts.URL+"/invite", InviteRequest{RoomID: testRoomID})
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, resp.StatusCode)
		}
	}

	// The 101st is rejected and has no side effect.
	resp := postJSON(t, ts.URL+"/invite", InviteRequest{RoomID: testRoomID})
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("101st request status = %d, want 429", resp.StatusCode)
	}

	// Health stays reachable while limited.
	hresp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	hresp.Body.Close()
	if hresp.StatusCode != http.StatusOK {
		t.Errorf("health status while limited = %d, want 200", hresp.StatusCode)
	}

	// Budget recovers once the window slides.
	clock.Advance(61 * time.Second)
	resp = postJSON(t, ts.URL+"/invite", InviteRequest{RoomID: testRoomID})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("request after window status = %d, want 200", resp.StatusCode)
	}
}

func TestServer_UnknownRoute(t *testing.T) {
	_, ts := newTestServer(t, newFakeClock())

	resp, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatalf("GET /nope: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestServer_SignalRequiresUpgrade(t *testing.T) {
	_, ts := newTestServer(t, newFakeClock())

	resp, err := http.Get(ts.URL + "/room/" + testRoomID + "/signal")
	if err != nil {
		t.Fatalf("GET signal: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Errorf("status = %d, want 426", resp.StatusCode)
	}
}

func TestServer_CORSHeaders(t *testing.T) {
	_, ts := newTestServer(t, newFakeClock())

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	req.Header.Set("Origin", "https://app.example.org")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestServer_FreshCodesDistinct(t *testing.T) {
	_, ts := newTestServer(t, newFakeClock())

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		resp := postJSON(t, ts.URL+"/invite", InviteRequest{
			RoomID: fmt.Sprintf("550e8400-e29b-41d4-a716-4466554400%02d", i),
		})
		var invite InviteResponse
		decodeBody(t, resp, &invite)
		if seen[invite.Code] {
			t.Fatalf("duplicate live code %q", invite.Code)
		}
		seen[invite.Code] = true
	}
}
