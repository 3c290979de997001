package rendezvous

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestClient_InviteRoundTrip(t *testing.T) {
	_, ts := newTestServer(t, newFakeClock())
	ctx := context.Background()

	client, err := NewClient(ClientConfig{BaseURL: ts.URL})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	code, err := client.CreateInvite(ctx, testRoomID)
	if err != nil {
		t.Fatalf("CreateInvite() error = %v", err)
	}

	roomID, err := client.RedeemInvite(ctx, strings.ToLower(code))
	if err != nil {
		t.Fatalf("RedeemInvite() error = %v", err)
	}
	if roomID != testRoomID {
		t.Errorf("RedeemInvite() = %q, want %q", roomID, testRoomID)
	}

	if _, err := client.RedeemInvite(ctx, code); !errors.Is(err, ErrNotFound) {
		t.Errorf("second RedeemInvite() error = %v, want ErrNotFound", err)
	}
}

func TestClient_ErrorMapping(t *testing.T) {
	_, ts := newTestServer(t, newFakeClock())
	ctx := context.Background()

	client, err := NewClient(ClientConfig{BaseURL: ts.URL})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	t.Run("invalid room ID", func(t *testing.T) {
		if _, err := client.CreateInvite(ctx, "not-a-uuid"); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("CreateInvite() error = %v, want ErrInvalidArgument", err)
		}
	})

	t.Run("malformed code rejected locally", func(t *testing.T) {
		if _, err := client.RedeemInvite(ctx, "nope"); !errors.Is(err, ErrInvalidShareCode) {
			t.Errorf("RedeemInvite() error = %v, want ErrInvalidShareCode", err)
		}
	})

	t.Run("unknown code", func(t *testing.T) {
		if _, err := client.RedeemInvite(ctx, "ABCD-EFGH"); !errors.Is(err, ErrNotFound) {
			t.Errorf("RedeemInvite() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("unreachable server", func(t *testing.T) {
		down, err := NewClient(ClientConfig{
			BaseURL:         "http://127.0.0.1:1",
			RequestDeadline: time.Second,
		})
		if err != nil {
			t.Fatalf("NewClient() error = %v", err)
		}
		if _, err := down.CreateInvite(ctx, testRoomID); !errors.Is(err, ErrTransient) {
			t.Errorf("CreateInvite() error = %v, want ErrTransient", err)
		}
	})
}

func TestClient_AnnounceListPeers(t *testing.T) {
	_, ts := newTestServer(t, newFakeClock())
	ctx := context.Background()

	client, err := NewClient(ClientConfig{BaseURL: ts.URL})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	err = client.Announce(ctx, testRoomID, AnnounceRequest{
		PeerID:   testPeerID,
		SDPOffer: "v=0",
	})
	if err != nil {
		t.Fatalf("Announce() error = %v", err)
	}

	peers, err := client.ListPeers(ctx, testRoomID)
	if err != nil {
		t.Fatalf("ListPeers() error = %v", err)
	}
	if len(peers) != 1 || peers[0].PeerID != testPeerID {
		t.Errorf("ListPeers() = %+v, want the announced peer", peers)
	}
}

func TestClient_SignalURL(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		want    string
	}{
		{"http", "http://host:8080", "ws://host:8080/room/" + testRoomID + "/signal"},
		{"https", "https://host", "wss://host/room/" + testRoomID + "/signal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(ClientConfig{BaseURL: tt.baseURL})
			if err != nil {
				t.Fatalf("NewClient() error = %v", err)
			}
			if got := client.SignalURL(testRoomID); got != tt.want {
				t.Errorf("SignalURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	if _, err := NewClient(ClientConfig{}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("NewClient() error = %v, want ErrInvalidArgument", err)
	}
}
