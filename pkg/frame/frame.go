// Package frame implements the outer length prefixes that delimit messages
// on a byte stream.
package frame

import (
	"errors"
	"fmt"
	"strings"

	"github.com/backkem/isogate/pkg/bcd"
)

// Frame errors.
var (
	// ErrInvalidPrefix is returned when a length prefix cannot be decoded.
	ErrInvalidPrefix = errors.New("frame: invalid length prefix")

	// ErrTooLarge is returned when a payload does not fit the prefix style.
	ErrTooLarge = errors.New("frame: message too large for prefix")

	// ErrUnknownPrefix is returned for an unrecognised prefix style.
	ErrUnknownPrefix = errors.New("frame: unknown prefix style")
)

// Prefix identifies how the total message length is written ahead of a
// message.
type Prefix int

const (
	// PrefixNone writes no length; one read yields one message.
	PrefixNone Prefix = iota
	// PrefixBinary writes a 2-byte big-endian unsigned count.
	PrefixBinary
	// PrefixBCD writes a 2-byte BCD count (0-9999).
	PrefixBCD
	// PrefixASCII4 writes 4 ASCII decimal digits.
	PrefixASCII4
)

// String returns the configuration name of the prefix style.
func (p Prefix) String() string {
	switch p {
	case PrefixNone:
		return "none"
	case PrefixBinary:
		return "binary"
	case PrefixBCD:
		return "bcd"
	case PrefixASCII4:
		return "ascii4"
	default:
		return "unknown"
	}
}

// IsValid returns true if the prefix style is a defined value.
func (p Prefix) IsValid() bool {
	return p >= PrefixNone && p <= PrefixASCII4
}

// Size returns the number of bytes the prefix occupies.
func (p Prefix) Size() int {
	switch p {
	case PrefixBinary, PrefixBCD:
		return 2
	case PrefixASCII4:
		return 4
	default:
		return 0
	}
}

// ParsePrefix parses a prefix style from its configuration name.
func ParsePrefix(s string) (Prefix, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return PrefixNone, nil
	case "binary", "bin":
		return PrefixBinary, nil
	case "bcd":
		return PrefixBCD, nil
	case "ascii4", "ascii", "string4":
		return PrefixASCII4, nil
	}
	return PrefixNone, fmt.Errorf("%w: %q", ErrUnknownPrefix, s)
}

// EncodeLength returns the prefix bytes for a payload of n bytes.
func (p Prefix) EncodeLength(n int) ([]byte, error) {
	switch p {
	case PrefixNone:
		return nil, nil
	case PrefixBinary:
		if n > 0xFFFF {
			return nil, ErrTooLarge
		}
		return []byte{byte(n >> 8), byte(n)}, nil
	case PrefixBCD:
		if n > 9999 {
			return nil, ErrTooLarge
		}
		return bcd.EncodeLength(n, 4, false)
	case PrefixASCII4:
		if n > 9999 {
			return nil, ErrTooLarge
		}
		return bcd.EncodeLength(n, 4, true)
	}
	return nil, ErrUnknownPrefix
}

// DecodeLength decodes a prefix previously written by EncodeLength.
func (p Prefix) DecodeLength(b []byte) (int, error) {
	if len(b) < p.Size() {
		return 0, ErrInvalidPrefix
	}
	switch p {
	case PrefixNone:
		return 0, nil
	case PrefixBinary:
		return int(b[0])<<8 | int(b[1]), nil
	case PrefixBCD:
		n, _, err := bcd.DecodeLength(b, 4, false)
		if err != nil {
			return 0, ErrInvalidPrefix
		}
		return n, nil
	case PrefixASCII4:
		n, _, err := bcd.DecodeLength(b, 4, true)
		if err != nil {
			return 0, ErrInvalidPrefix
		}
		return n, nil
	}
	return 0, ErrUnknownPrefix
}

// Encode returns payload preceded by its length prefix.
func (p Prefix) Encode(payload []byte) ([]byte, error) {
	head, err := p.EncodeLength(len(payload))
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(head)+len(payload))
	out = append(out, head...)
	return append(out, payload...), nil
}
