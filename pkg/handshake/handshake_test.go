package handshake

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/backkem/roomsync/pkg/crypto"
)

const testRoomID = "550e8400-e29b-41d4-a716-446655440000"

func testKey(t *testing.T, password string) []byte {
	t.Helper()
	return crypto.DeriveKey([]byte(password), []byte(testRoomID), crypto.PurposeAuth, 1000)
}

// wire connects two handshakes through in-memory frame queues so tests can
// pump frames deterministically.
type wire struct {
	aToB [][]byte
	bToA [][]byte
}

func newPair(t *testing.T, keyA, keyB []byte) (*Handshake, *Handshake, *wire, *int, *int) {
	t.Helper()

	w := &wire{}
	doneA, doneB := 0, 0

	a, err := New(Config{
		AuthKey:         keyA,
		Send:            func(data []byte) error { w.aToB = append(w.aToB, data); return nil },
		OnAuthenticated: func() { doneA++ },
	})
	if err != nil {
		t.Fatalf("New(a) error = %v", err)
	}
	b, err := New(Config{
		AuthKey:         keyB,
		Send:            func(data []byte) error { w.bToA = append(w.bToA, data); return nil },
		OnAuthenticated: func() { doneB++ },
	})
	if err != nil {
		t.Fatalf("New(b) error = %v", err)
	}

	return a, b, w, &doneA, &doneB
}

// pump delivers queued frames in both directions until quiescent, failing
// on the first terminal error.
func pump(t *testing.T, a, b *Handshake, w *wire) error {
	t.Helper()

	for len(w.aToB) > 0 || len(w.bToA) > 0 {
		for len(w.aToB) > 0 {
			frame := w.aToB[0]
			w.aToB = w.aToB[1:]
			if err := b.HandleFrame(frame); err != nil {
				return err
			}
		}
		for len(w.bToA) > 0 {
			frame := w.bToA[0]
			w.bToA = w.bToA[1:]
			if err := a.HandleFrame(frame); err != nil {
				return err
			}
		}
	}
	return nil
}

func TestHandshake_MutualSuccess(t *testing.T) {
	key := testKey(t, "correct horse")
	a, b, w, doneA, doneB := newPair(t, key, key)

	if err := a.Start(); err != nil {
		t.Fatalf("a.Start() error = %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("b.Start() error = %v", err)
	}

	if err := pump(t, a, b, w); err != nil {
		t.Fatalf("pump error = %v", err)
	}

	if !a.Done() || !b.Done() {
		t.Errorf("Done() = %v/%v, want true/true", a.Done(), b.Done())
	}
	if *doneA != 1 || *doneB != 1 {
		t.Errorf("OnAuthenticated fired %d/%d times, want 1/1", *doneA, *doneB)
	}
}

func TestHandshake_SequentialStart(t *testing.T) {
	// Only the channel opener starts; the other side still authenticates
	// by answering and issuing its own challenge lazily via Start later.
	key := testKey(t, "pw")
	a, b, w, _, _ := newPair(t, key, key)

	if err := a.Start(); err != nil {
		t.Fatalf("a.Start() error = %v", err)
	}
	if err := pump(t, a, b, w); err != nil {
		t.Fatalf("pump error = %v", err)
	}

	if err := b.Start(); err != nil {
		t.Fatalf("b.Start() error = %v", err)
	}
	if err := pump(t, a, b, w); err != nil {
		t.Fatalf("pump error = %v", err)
	}

	if !a.Done() || !b.Done() {
		t.Errorf("Done() = %v/%v, want true/true", a.Done(), b.Done())
	}
}

func TestHandshake_WrongPassword(t *testing.T) {
	a, b, w, doneA, doneB := newPair(t,
		testKey(t, "correct horse"),
		testKey(t, "battery staple"))

	a.Start()
	b.Start()

	err := pump(t, a, b, w)
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("pump error = %v, want ErrAuthFailed", err)
	}

	if a.Done() || b.Done() {
		t.Error("handshake completed despite key mismatch")
	}
	if *doneA != 0 || *doneB != 0 {
		t.Error("OnAuthenticated fired despite key mismatch")
	}
}

func TestHandshake_StartTwice(t *testing.T) {
	key := testKey(t, "pw")
	a, _, _, _, _ := newPair(t, key, key)

	if err := a.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := a.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestHandshake_UnsolicitedResponse(t *testing.T) {
	// A "valid" signature over a challenge we never issued must close the
	// transport: accepting it would allow replaying recorded responses.
	key := testKey(t, "pw")
	a, _, _, _, _ := newPair(t, key, key)
	a.Start()

	foreign, _ := crypto.NewChallenge()
	frame, _ := EncodeResponse(foreign, crypto.SignChallenge(foreign, key))

	if err := a.HandleFrame(frame); !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("HandleFrame() error = %v, want ErrProtocolViolation", err)
	}
}

func TestHandshake_ResponseWithoutChallenge(t *testing.T) {
	key := testKey(t, "pw")
	a, _, _, _, _ := newPair(t, key, key)
	// No Start: we never issued a challenge, so any response is unsolicited.

	foreign, _ := crypto.NewChallenge()
	frame, _ := EncodeResponse(foreign, crypto.SignChallenge(foreign, key))

	if err := a.HandleFrame(frame); !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("HandleFrame() error = %v, want ErrProtocolViolation", err)
	}
}

func TestHandshake_DocumentFrameBeforeAuth(t *testing.T) {
	key := testKey(t, "pw")
	a, _, _, _, _ := newPair(t, key, key)
	a.Start()

	frame, _ := json.Marshal(map[string]string{"type": "yjs-update", "update": "AAAA"})
	if err := a.HandleFrame(frame); !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("HandleFrame(yjs-update) error = %v, want ErrProtocolViolation", err)
	}
}

func TestHandshake_MalformedFrames(t *testing.T) {
	key := testKey(t, "pw")

	tests := []struct {
		name  string
		frame []byte
	}{
		{"not json", []byte("nope")},
		{"short challenge", mustFrame(Frame{Type: TypeChallenge, Challenge: base64.StdEncoding.EncodeToString([]byte("short"))})},
		{"bad base64 challenge", []byte(`{"type":"auth-challenge","challenge":"!!!"}`)},
		{"empty response", mustFrame(Frame{Type: TypeResponse, Challenge: base64.StdEncoding.EncodeToString(make([]byte, 32))})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _, _, _, _ := newPair(t, key, key)
			a.Start()
			if err := a.HandleFrame(tt.frame); !errors.Is(err, ErrProtocolViolation) {
				t.Errorf("HandleFrame() error = %v, want ErrProtocolViolation", err)
			}
		})
	}
}

func TestHandshake_DuplicateChallenge(t *testing.T) {
	key := testKey(t, "pw")
	a, _, _, _, _ := newPair(t, key, key)
	a.Start()

	challenge, _ := crypto.NewChallenge()
	frame, _ := EncodeChallenge(challenge)

	if err := a.HandleFrame(frame); err != nil {
		t.Fatalf("first challenge error = %v", err)
	}
	if err := a.HandleFrame(frame); !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("second challenge error = %v, want ErrProtocolViolation", err)
	}
}

func TestHandshake_SuccessAloneInsufficient(t *testing.T) {
	// auth-success is advisory: without a locally verified response the
	// handshake must not complete.
	key := testKey(t, "pw")
	a, _, _, doneA, _ := newPair(t, key, key)
	a.Start()

	frame, _ := EncodeSuccess()
	if err := a.HandleFrame(frame); err != nil {
		t.Fatalf("HandleFrame(success) error = %v", err)
	}

	if a.Done() {
		t.Error("Done() = true from auth-success alone")
	}
	if *doneA != 0 {
		t.Error("OnAuthenticated fired from auth-success alone")
	}
}

func TestNew_Validation(t *testing.T) {
	send := func([]byte) error { return nil }

	if _, err := New(Config{Send: send}); !errors.Is(err, ErrNoAuthKey) {
		t.Errorf("New without key error = %v, want ErrNoAuthKey", err)
	}
	if _, err := New(Config{AuthKey: []byte("k")}); !errors.Is(err, ErrNoSender) {
		t.Errorf("New without sender error = %v, want ErrNoSender", err)
	}
}

func mustFrame(f Frame) []byte {
	data, err := json.Marshal(f)
	if err != nil {
		panic(err)
	}
	return data
}
