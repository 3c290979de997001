// Package crypto implements the primitives for room security: password-based
// key derivation, HMAC challenge-response, authenticated encryption, salted
// password verifiers, and share-code generation.
//
// All functions operate on byte strings and perform no I/O. Anything that can
// fail does so as ErrCryptoFailure without further detail.
package crypto

import (
	"crypto/sha256"

	"golang.org/x/crypto/pbkdf2"
)

// DefaultIterations is the PBKDF2-HMAC-SHA256 iteration count used for both
// key derivation and password verifiers.
const DefaultIterations = 100000

// KeyLen is the length in bytes of every derived key (256 bits).
const KeyLen = 32

// KeyPurpose selects the domain-separated key derived from a room password.
type KeyPurpose string

const (
	// PurposeAuth derives the key used for HMAC challenge-response.
	PurposeAuth KeyPurpose = "auth"

	// PurposeEncrypt derives the key used for AES-256-GCM.
	PurposeEncrypt KeyPurpose = "encrypt"
)

// DeriveKey derives a 256-bit key from a password using PBKDF2-HMAC-SHA256.
// The purpose is appended to the salt as "<salt>:<purpose>" so the same
// password yields independent keys per purpose. For room keys, callers pass
// the room ID in its canonical lowercase hex form as the salt.
func DeriveKey(password, salt []byte, purpose KeyPurpose, iterations int) []byte {
	if iterations <= 0 {
		iterations = DefaultIterations
	}

	salted := make([]byte, 0, len(salt)+1+len(purpose))
	salted = append(salted, salt...)
	salted = append(salted, ':')
	salted = append(salted, purpose...)

	return pbkdf2.Key(password, salted, iterations, KeyLen, sha256.New)
}

// RoomKeys holds the two domain-separated keys of a room.
type RoomKeys struct {
	// Auth is the HMAC-SHA256 key for challenge-response.
	Auth []byte

	// Encryption is the AES-256-GCM key.
	Encryption []byte
}

// DeriveRoomKeys derives both room keys from a password and the room's
// canonical UUID string.
func DeriveRoomKeys(password []byte, roomID string, iterations int) *RoomKeys {
	salt := []byte(roomID)
	return &RoomKeys{
		Auth:       DeriveKey(password, salt, PurposeAuth, iterations),
		Encryption: DeriveKey(password, salt, PurposeEncrypt, iterations),
	}
}

// Zeroize overwrites both keys. The struct must not be used afterwards.
func (k *RoomKeys) Zeroize() {
	for i := range k.Auth {
		k.Auth[i] = 0
	}
	for i := range k.Encryption {
		k.Encryption[i] = 0
	}
}
