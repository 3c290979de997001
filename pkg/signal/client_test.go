package signal

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/backkem/roomsync/pkg/kv"
	"github.com/backkem/roomsync/pkg/rendezvous"
)

const testRoomID = "550e8400-e29b-41d4-a716-446655440000"

func newRelayServer(t *testing.T) *httptest.Server {
	t.Helper()

	server, err := rendezvous.NewServer(rendezvous.ServerConfig{
		Store: kv.NewMemory(),
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		server.Shutdown()
		ts.Close()
	})
	return ts
}

func signalURL(ts *httptest.Server) string {
	return "ws" + ts.URL[len("http"):] + "/room/" + testRoomID + "/signal"
}

func TestDial_AssignsIdentity(t *testing.T) {
	ts := newRelayServer(t)

	client, peers, err := Dial(context.Background(), ClientConfig{URL: signalURL(ts)})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()

	if client.You() == "" {
		t.Error("You() is empty")
	}
	if len(peers) != 0 {
		t.Errorf("initial peers = %v, want none", peers)
	}
}

func TestClient_PeerEventsAndFrames(t *testing.T) {
	ts := newRelayServer(t)
	ctx := context.Background()

	joined := make(chan string, 1)
	left := make(chan string, 1)
	frames := make(chan string, 1)

	a, _, err := Dial(ctx, ClientConfig{
		URL:          signalURL(ts),
		OnPeerJoined: func(peerID string) { joined <- peerID },
		OnPeerLeft:   func(peerID string) { left <- peerID },
		OnFrame: func(from string, frame []byte) {
			var decoded struct {
				Note string `json:"note"`
			}
			json.Unmarshal(frame, &decoded)
			frames <- from + ":" + decoded.Note
		},
	})
	if err != nil {
		t.Fatalf("Dial(a) error = %v", err)
	}
	defer a.Close()

	b, peersB, err := Dial(ctx, ClientConfig{URL: signalURL(ts)})
	if err != nil {
		t.Fatalf("Dial(b) error = %v", err)
	}

	if len(peersB) != 1 || peersB[0] != a.You() {
		t.Errorf("b's initial peers = %v, want [%s]", peersB, a.You())
	}

	select {
	case got := <-joined:
		if got != b.You() {
			t.Errorf("joined peer = %s, want %s", got, b.You())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for peer-joined")
	}

	// B sends A an addressed frame; A sees it with B as origin.
	if err := b.Send(a.You(), map[string]interface{}{"type": "hello", "note": "hi"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	select {
	case got := <-frames:
		want := b.You() + ":hi"
		if got != want {
			t.Errorf("frame = %q, want %q", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for frame")
	}

	b.Close()
	select {
	case got := <-left:
		if got != b.You() {
			t.Errorf("left peer = %s, want %s", got, b.You())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for peer-left")
	}
}

func TestClient_OnClose(t *testing.T) {
	ts := newRelayServer(t)

	closed := make(chan error, 1)
	client, _, err := Dial(context.Background(), ClientConfig{
		URL:     signalURL(ts),
		OnClose: func(err error) { closed <- err },
	})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	client.Close()

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for OnClose")
	}

	if err := client.Send("someone", map[string]interface{}{"type": "x"}); err != ErrClosed {
		t.Errorf("Send() after close error = %v, want ErrClosed", err)
	}
}

func TestDial_RequiresURL(t *testing.T) {
	if _, _, err := Dial(context.Background(), ClientConfig{}); err != ErrNoURL {
		t.Errorf("Dial() error = %v, want ErrNoURL", err)
	}
}
