package crypto

import (
	"bytes"
	"testing"
)

const testRoomID = "550e8400-e29b-41d4-a716-446655440000"

// Low iteration count keeps PBKDF2-heavy tests fast. Correctness is
// independent of the count.
const testIterations = 1000

func TestDeriveKey_DomainSeparation(t *testing.T) {
	password := []byte("correct horse")

	auth := DeriveKey(password, []byte(testRoomID), PurposeAuth, testIterations)
	enc := DeriveKey(password, []byte(testRoomID), PurposeEncrypt, testIterations)

	if len(auth) != KeyLen {
		t.Errorf("auth key length = %d, want %d", len(auth), KeyLen)
	}
	if len(enc) != KeyLen {
		t.Errorf("encryption key length = %d, want %d", len(enc), KeyLen)
	}
	if bytes.Equal(auth, enc) {
		t.Error("auth and encryption keys must differ")
	}
}

func TestDeriveKey_Deterministic(t *testing.T) {
	a := DeriveKey([]byte("pw"), []byte(testRoomID), PurposeAuth, testIterations)
	b := DeriveKey([]byte("pw"), []byte(testRoomID), PurposeAuth, testIterations)

	if !bytes.Equal(a, b) {
		t.Error("same inputs must derive the same key")
	}
}

func TestDeriveKey_DistinctInputs(t *testing.T) {
	base := DeriveKey([]byte("pw"), []byte(testRoomID), PurposeAuth, testIterations)

	tests := []struct {
		name     string
		password string
		salt     string
	}{
		{"different password", "pw2", testRoomID},
		{"different room", "pw", "650e8400-e29b-41d4-a716-446655440000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveKey([]byte(tt.password), []byte(tt.salt), PurposeAuth, testIterations)
			if bytes.Equal(got, base) {
				t.Error("derived key unexpectedly equal to base key")
			}
		})
	}
}

func TestDeriveRoomKeys(t *testing.T) {
	keys := DeriveRoomKeys([]byte("pw"), testRoomID, testIterations)

	wantAuth := DeriveKey([]byte("pw"), []byte(testRoomID), PurposeAuth, testIterations)
	if !bytes.Equal(keys.Auth, wantAuth) {
		t.Error("Auth key does not match DeriveKey output")
	}

	wantEnc := DeriveKey([]byte("pw"), []byte(testRoomID), PurposeEncrypt, testIterations)
	if !bytes.Equal(keys.Encryption, wantEnc) {
		t.Error("Encryption key does not match DeriveKey output")
	}
}

func TestRoomKeys_Zeroize(t *testing.T) {
	keys := DeriveRoomKeys([]byte("pw"), testRoomID, testIterations)
	keys.Zeroize()

	zero := make([]byte, KeyLen)
	if !bytes.Equal(keys.Auth, zero) {
		t.Error("Auth key not zeroized")
	}
	if !bytes.Equal(keys.Encryption, zero) {
		t.Error("Encryption key not zeroized")
	}
}
