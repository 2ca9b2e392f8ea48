package crypto

import "errors"

// Crypto errors.
var (
	ErrUnknownAlgorithm = errors.New("crypto: unknown cipher algorithm")
	ErrUnknownMode      = errors.New("crypto: unknown cipher mode")
	ErrUnknownDigest    = errors.New("crypto: unknown digest")
	ErrInvalidKeySize   = errors.New("crypto: invalid key size")
	ErrInvalidIV        = errors.New("crypto: invalid IV size")
	ErrNotBlockAligned  = errors.New("crypto: ciphertext is not a multiple of the block size")
)
