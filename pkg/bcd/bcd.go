// Package bcd converts between human-readable strings, binary-coded decimal
// bytes and raw character bytes.
//
// Two digits are packed per byte, most significant digit in the high nibble.
// Nibbles 0xA-0xF are carried as the hex characters 'A'-'F' so that track 2
// separators ('D') and pad nibbles ('F') survive a round trip.
package bcd

import (
	"errors"
	"strings"
)

// Errors returned by the codec.
var (
	// ErrInvalidDigit is returned when a string contains a character that
	// cannot be packed into a nibble.
	ErrInvalidDigit = errors.New("bcd: invalid digit")

	// ErrTooLong is returned when a string does not fit the requested
	// number of bytes.
	ErrTooLong = errors.New("bcd: value longer than target")

	// ErrLengthOverflow is returned when a length count does not fit the
	// requested number of digits.
	ErrLengthOverflow = errors.New("bcd: length exceeds prefix capacity")

	// ErrInvalidLength is returned when a length prefix cannot be decoded.
	ErrInvalidLength = errors.New("bcd: invalid length prefix")
)

const nibbleChars = "0123456789ABCDEF"

// Pad selects where the filler nibble goes for odd-length strings.
type Pad int

const (
	// PadLeft puts a zero nibble in front of the first digit.
	PadLeft Pad = iota
	// PadRight puts a filler nibble after the last digit.
	PadRight
)

// String returns the pad name.
func (p Pad) String() string {
	switch p {
	case PadLeft:
		return "left"
	case PadRight:
		return "right"
	default:
		return "unknown"
	}
}

// ToString renders every nibble of b as a character.
// The result always has an even length of 2*len(b).
func ToString(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b) * 2)
	for _, v := range b {
		sb.WriteByte(nibbleChars[v>>4])
		sb.WriteByte(nibbleChars[v&0x0F])
	}
	return sb.String()
}

// Digits renders b and trims it to n digits, dropping the pad nibble on the
// side given by pad. n larger than 2*len(b) returns the full rendering.
func Digits(b []byte, n int, pad Pad) string {
	s := ToString(b)
	if n >= len(s) || n < 0 {
		return s
	}
	if pad == PadLeft {
		return s[len(s)-n:]
	}
	return s[:n]
}

// FromString packs s into exactly byteLen bytes. Shorter input is padded with
// leading zero nibbles. A byteLen of zero or less packs into the minimum
// number of bytes.
func FromString(s string, byteLen int) ([]byte, error) {
	return Pack(s, byteLen, PadLeft)
}

// Pack packs s into byteLen bytes, placing filler nibbles according to pad.
// PadRight fills with 'F' nibbles as is customary for account numbers and
// track data; PadLeft fills with zeros.
//
// Digits and the hex letters A-F map to their nibble value. The track 2
// separator '=' packs to nibble D, so it comes back as 'D' from Digits and
// ToString; callers that need '=' must substitute it themselves.
func Pack(s string, byteLen int, pad Pad) ([]byte, error) {
	need := (len(s) + 1) / 2
	if byteLen <= 0 {
		byteLen = need
	}
	if need > byteLen {
		return nil, ErrTooLong
	}

	total := byteLen * 2
	padded := make([]byte, 0, total)
	fill := total - len(s)
	if pad == PadLeft {
		for i := 0; i < fill; i++ {
			padded = append(padded, '0')
		}
		padded = append(padded, s...)
	} else {
		padded = append(padded, s...)
		for i := 0; i < fill; i++ {
			padded = append(padded, 'F')
		}
	}

	out := make([]byte, byteLen)
	for i := 0; i < byteLen; i++ {
		hi, ok := nibble(padded[2*i])
		if !ok {
			return nil, ErrInvalidDigit
		}
		lo, ok := nibble(padded[2*i+1])
		if !ok {
			return nil, ErrInvalidDigit
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

// Valid reports whether Pack accepts every character of s.
func Valid(s string) bool {
	for i := 0; i < len(s); i++ {
		if _, ok := nibble(s[i]); !ok {
			return false
		}
	}
	return true
}

// ByteLen returns the number of bytes needed to pack n digits.
func ByteLen(n int) int {
	return (n + 1) / 2
}

func nibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c == '=':
		// Track 2 field separator.
		return 0x0D, true
	}
	return 0, false
}
