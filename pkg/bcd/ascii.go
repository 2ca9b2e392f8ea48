package bcd

import "strings"

// ASCIIToString maps bytes to characters one to one. NUL bytes are treated as
// absent and rendered as '.'.
func ASCIIToString(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, v := range b {
		if v == 0 {
			sb.WriteByte('.')
			continue
		}
		sb.WriteByte(v)
	}
	return sb.String()
}

// StringToASCII returns the bytes of s, right-padded with spaces to n bytes
// when n exceeds len(s). An n of zero or less returns s unchanged.
func StringToASCII(s string, n int) []byte {
	if n <= len(s) {
		return []byte(s)
	}
	out := make([]byte, n)
	copy(out, s)
	for i := len(s); i < n; i++ {
		out[i] = ' '
	}
	return out
}

// EncodeLength encodes a variable-field length count using digits decimal
// digits. In BCD mode the count occupies ByteLen(digits) bytes; in ASCII mode
// it occupies digits characters.
//
// Two digits allow 0-99 and three digits 0-999.
func EncodeLength(n, digits int, ascii bool) ([]byte, error) {
	limit := 1
	for i := 0; i < digits; i++ {
		limit *= 10
	}
	if n < 0 || n >= limit {
		return nil, ErrLengthOverflow
	}

	s := make([]byte, digits)
	v := n
	for i := digits - 1; i >= 0; i-- {
		s[i] = byte('0' + v%10)
		v /= 10
	}
	if ascii {
		return s, nil
	}
	return FromString(string(s), ByteLen(digits))
}

// DecodeLength decodes a length count written by EncodeLength. It returns
// the count and the number of bytes consumed.
func DecodeLength(b []byte, digits int, ascii bool) (int, int, error) {
	size := digits
	if !ascii {
		size = ByteLen(digits)
	}
	if len(b) < size {
		return 0, 0, ErrInvalidLength
	}

	var s string
	if ascii {
		s = string(b[:size])
	} else {
		s = ToString(b[:size])
	}

	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, 0, ErrInvalidLength
		}
		n = n*10 + int(c-'0')
	}
	return n, size, nil
}
