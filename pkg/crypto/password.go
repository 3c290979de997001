package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// passwordSaltSize is the salt length for stored password verifiers.
const passwordSaltSize = 16

// HashPassword produces a salted verifier for checking a locally typed
// password without retaining the password itself. The format is
// base64(salt) ":" base64(PBKDF2-HMAC-SHA256(pw, salt, 100000, 32)).
//
// The verifier is local-only: it is never sent anywhere and never used as an
// encryption or MAC key.
func HashPassword(password []byte) (string, error) {
	salt := make([]byte, passwordSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", ErrCryptoFailure
	}

	dk := pbkdf2.Key(password, salt, DefaultIterations, KeyLen, sha256.New)
	return base64.StdEncoding.EncodeToString(salt) + ":" +
		base64.StdEncoding.EncodeToString(dk), nil
}

// VerifyPassword reports whether password matches a verifier produced by
// HashPassword. Malformed verifiers verify false. The hash comparison is
// constant time.
func VerifyPassword(password []byte, stored string) bool {
	saltPart, hashPart, ok := strings.Cut(stored, ":")
	if !ok {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(saltPart)
	if err != nil {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(hashPart)
	if err != nil || len(want) != KeyLen {
		return false
	}

	got := pbkdf2.Key(password, salt, DefaultIterations, KeyLen, sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}
