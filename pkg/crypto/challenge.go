package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"io"
)

// ChallengeSize is the length in bytes of an authentication challenge.
const ChallengeSize = 32

// NewChallenge returns a fresh random 32-byte challenge.
func NewChallenge() ([]byte, error) {
	c := make([]byte, ChallengeSize)
	if _, err := io.ReadFull(rand.Reader, c); err != nil {
		return nil, ErrCryptoFailure
	}
	return c, nil
}

// SignChallenge computes the HMAC-SHA256 of a challenge under the auth key.
func SignChallenge(challenge, authKey []byte) []byte {
	h := hmac.New(sha256.New, authKey)
	h.Write(challenge)
	return h.Sum(nil)
}

// VerifyChallenge reports whether response is the HMAC-SHA256 of challenge
// under authKey. The comparison is constant time. A malformed challenge or
// response simply verifies false; callers cannot distinguish why.
func VerifyChallenge(challenge, response, authKey []byte) bool {
	expected := SignChallenge(challenge, authKey)
	return hmac.Equal(expected, response)
}
