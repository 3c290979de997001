package crypto

import "errors"

// ErrCryptoFailure is returned for every failed cryptographic operation:
// malformed input, wrong key length, AEAD tag mismatch. Callers are
// deliberately not told which of these occurred, so a failed verification
// cannot be used as an oracle.
var ErrCryptoFailure = errors.New("crypto: operation failed")
