// Package crypto provides the symmetric primitives used by the gateway:
// block ciphers in ECB and CBC mode with zero padding, message digests, key
// derivation and random key generation.
package crypto

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"strings"
)

// Digest selects the hash applied to a message before it is encrypted into
// a MAC.
type Digest int

const (
	// DigestSHA256 is the default digest.
	DigestSHA256 Digest = iota
	// DigestSHA1 is kept for legacy terminals.
	DigestSHA1
	// DigestSHA512 produces a 64-byte digest.
	DigestSHA512
)

// String returns the configuration name of the digest.
func (d Digest) String() string {
	switch d {
	case DigestSHA256:
		return "sha256"
	case DigestSHA1:
		return "sha1"
	case DigestSHA512:
		return "sha512"
	default:
		return "unknown"
	}
}

// IsValid returns true if the digest is a defined value.
func (d Digest) IsValid() bool {
	return d >= DigestSHA256 && d <= DigestSHA512
}

// ParseDigest parses a digest configuration name.
func ParseDigest(s string) (Digest, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "-", "")) {
	case "", "sha256":
		return DigestSHA256, nil
	case "sha1":
		return DigestSHA1, nil
	case "sha512":
		return DigestSHA512, nil
	}
	return DigestSHA256, fmt.Errorf("%w: %q", ErrUnknownDigest, s)
}

// New returns a hash.Hash for the digest.
func (d Digest) New() hash.Hash {
	switch d {
	case DigestSHA1:
		return sha1.New()
	case DigestSHA512:
		return sha512.New()
	default:
		return sha256.New()
	}
}

// Size returns the digest length in bytes.
func (d Digest) Size() int {
	return d.New().Size()
}

// Sum hashes message.
func (d Digest) Sum(message []byte) []byte {
	h := d.New()
	h.Write(message)
	return h.Sum(nil)
}

// Equal compares two MACs in constant time.
func Equal(a, b []byte) bool {
	return hmac.Equal(a, b)
}
