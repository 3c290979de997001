package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"
)

// NonceSize is the AES-GCM nonce length in bytes.
const NonceSize = 12

// Encrypt seals plaintext with AES-256-GCM under a fresh random nonce and
// returns nonce || ciphertext || tag. The key must be KeyLen bytes.
//
// Nonces are always freshly random; reusing a nonce under the same key would
// void all confidentiality and authenticity guarantees.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, ErrCryptoFailure
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a nonce || ciphertext || tag blob produced by Encrypt.
// Any malformed input or tag mismatch returns ErrCryptoFailure.
func Decrypt(blob, key []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(blob) < NonceSize+aead.Overhead() {
		return nil, ErrCryptoFailure
	}

	plaintext, err := aead.Open(nil, blob[:NonceSize], blob[NonceSize:], nil)
	if err != nil {
		return nil, ErrCryptoFailure
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLen {
		return nil, ErrCryptoFailure
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrCryptoFailure
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ErrCryptoFailure
	}
	return aead, nil
}
