package crypto

import (
	"strings"
	"testing"
)

func TestHashVerifyPassword(t *testing.T) {
	stored, err := HashPassword([]byte("correct horse"))
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	if !strings.Contains(stored, ":") {
		t.Errorf("verifier %q missing salt separator", stored)
	}

	if !VerifyPassword([]byte("correct horse"), stored) {
		t.Error("correct password did not verify")
	}
	if VerifyPassword([]byte("battery staple"), stored) {
		t.Error("wrong password verified")
	}
}

func TestHashPassword_SaltedPerCall(t *testing.T) {
	a, err := HashPassword([]byte("pw"))
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	b, err := HashPassword([]byte("pw"))
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	if a == b {
		t.Error("two verifiers for the same password must differ")
	}

	// Both must still verify.
	if !VerifyPassword([]byte("pw"), a) || !VerifyPassword([]byte("pw"), b) {
		t.Error("verifier round trip failed")
	}
}

func TestVerifyPassword_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		stored string
	}{
		{"empty", ""},
		{"no separator", "YWJj"},
		{"bad salt base64", "!!!:YWJj"},
		{"bad hash base64", "YWJj:!!!"},
		{"short hash", "YWJj:YWJj"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if VerifyPassword([]byte("pw"), tt.stored) {
				t.Error("VerifyPassword() = true for malformed verifier")
			}
		})
	}
}
