package iso8583

import (
	"encoding/hex"
	"strings"

	"github.com/backkem/isogate/pkg/bcd"
)

// secondaryBitmapSpec describes field 1, which carries the secondary bitmap.
var secondaryBitmapSpec = FieldSpec{
	Number:    1,
	Length:    LengthFixed,
	Type:      TypeBinary,
	MaxLength: 8,
}

// Field holds the value of one field inside a Message.
//
// length counts digits for BCD fields, characters for alphanumeric fields
// and bytes for binary fields; data holds the encoded bytes without any
// length prefix.
type Field struct {
	spec     FieldSpec
	template *Template
	present  bool
	length   int
	data     []byte
}

// Spec returns the field's template spec.
func (f *Field) Spec() FieldSpec { return f.spec }

// Present reports whether the field carries a value.
func (f *Field) Present() bool { return f.present }

// Len returns the logical length of the value.
func (f *Field) Len() int { return f.length }

// Bytes returns a copy of the encoded value.
func (f *Field) Bytes() []byte {
	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out
}

// String returns the decoded value: characters for alphanumeric fields,
// digits for BCD fields and upper-case hex for binary fields.
func (f *Field) String() string {
	if !f.present {
		return ""
	}
	switch f.spec.Type {
	case TypeBCD:
		return bcd.Digits(f.data, f.length, f.template.oddPad(f.length))
	case TypeBinary:
		return strings.ToUpper(hex.EncodeToString(f.data))
	default:
		return string(f.data)
	}
}

// Display returns the value rendered for logs, applying the field's display
// option.
func (f *Field) Display() string {
	if !f.present {
		return ""
	}
	switch f.spec.Display {
	case DisplayHideAll:
		return "*"
	case DisplayMaskTrack2:
		return maskTrack2(f.String())
	}
	if f.spec.Type == TypeAlphanumeric {
		return bcd.ASCIIToString(f.data)
	}
	return f.String()
}

// maskTrack2 replaces characters 12 to 20 with '*'.
func maskTrack2(s string) string {
	if len(s) <= 12 {
		return s
	}
	end := len(s)
	if end > 21 {
		end = 21
	}
	return s[:12] + strings.Repeat("*", end-12) + s[end:]
}

func (f *Field) reset() {
	f.present = false
	f.length = 0
	f.data = nil
}

func (f *Field) checkLength(n int) error {
	if n > f.spec.MaxLength {
		return ErrFieldLengthExceeded
	}
	if limit := f.spec.Length.Limit(); limit >= 0 && n > limit {
		return ErrFieldLengthExceeded
	}
	return nil
}

// setString encodes s according to the field type.
func (f *Field) setString(s string) error {
	switch f.spec.Type {
	case TypeBinary:
		b, err := hex.DecodeString(s)
		if err != nil {
			return ErrInvalidValue
		}
		return f.setBytes(b)

	case TypeBCD:
		if f.spec.Length == LengthFixed {
			if len(s) > f.spec.MaxLength {
				return ErrFieldLengthExceeded
			}
			s = strings.Repeat("0", f.spec.MaxLength-len(s)) + s
		} else if err := f.checkLength(len(s)); err != nil {
			return err
		}
		n := len(s)
		data, err := bcd.Pack(s, bcd.ByteLen(n), f.template.oddPad(n))
		if err != nil {
			return ErrInvalidValue
		}
		f.present, f.length, f.data = true, n, data
		return nil

	case TypeNumeric:
		if !bcd.Valid(s) {
			return ErrInvalidValue
		}
		if f.spec.Length == LengthFixed {
			if len(s) > f.spec.MaxLength {
				return ErrFieldLengthExceeded
			}
			s = strings.Repeat("0", f.spec.MaxLength-len(s)) + s
		} else if err := f.checkLength(len(s)); err != nil {
			return err
		}
		f.present, f.length, f.data = true, len(s), []byte(s)
		return nil

	default:
		if f.spec.Length == LengthFixed {
			if len(s) > f.spec.MaxLength {
				return ErrFieldLengthExceeded
			}
			f.present, f.length, f.data = true, f.spec.MaxLength, bcd.StringToASCII(s, f.spec.MaxLength)
			return nil
		}
		if err := f.checkLength(len(s)); err != nil {
			return err
		}
		f.present, f.length, f.data = true, len(s), []byte(s)
		return nil
	}
}

// setBytes stores raw input: bytes for binary fields, packed digits for BCD
// fields and characters for alphanumeric fields.
func (f *Field) setBytes(b []byte) error {
	switch f.spec.Type {
	case TypeBinary:
		if f.spec.Length == LengthFixed {
			if len(b) > f.spec.MaxLength {
				return ErrFieldLengthExceeded
			}
			data := make([]byte, f.spec.MaxLength)
			copy(data, b)
			f.present, f.length, f.data = true, f.spec.MaxLength, data
			return nil
		}
		if err := f.checkLength(len(b)); err != nil {
			return err
		}
		data := make([]byte, len(b))
		copy(data, b)
		f.present, f.length, f.data = true, len(b), data
		return nil

	case TypeBCD:
		n := len(b) * 2
		if f.spec.Length == LengthFixed {
			if len(b) != bcd.ByteLen(f.spec.MaxLength) {
				return ErrFieldLengthExceeded
			}
			n = f.spec.MaxLength
		} else if err := f.checkLength(n); err != nil {
			return err
		}
		data := make([]byte, len(b))
		copy(data, b)
		f.present, f.length, f.data = true, n, data
		return nil

	default:
		return f.setString(string(b))
	}
}

// appendWire appends the length prefix, if any, and the encoded value.
func (f *Field) appendWire(dst []byte) ([]byte, error) {
	if f.spec.Length != LengthFixed {
		head, err := bcd.EncodeLength(f.length, f.spec.Length.PrefixDigits(), f.template.lengthASCII)
		if err != nil {
			return nil, ErrFieldLengthExceeded
		}
		dst = append(dst, head...)
	}
	return append(dst, f.data...), nil
}

// decode reads the field from the front of b and returns the bytes consumed.
func (f *Field) decode(b []byte) (int, error) {
	n := f.spec.MaxLength
	consumed := 0
	if f.spec.Length != LengthFixed {
		digits := f.spec.Length.PrefixDigits()
		head := digits
		if !f.template.lengthASCII {
			head = bcd.ByteLen(digits)
		}
		if len(b) < head {
			return 0, ErrInsufficientData
		}
		l, c, err := bcd.DecodeLength(b, digits, f.template.lengthASCII)
		if err != nil {
			return 0, ErrInvalidValue
		}
		if err := f.checkLength(l); err != nil {
			return 0, err
		}
		n, consumed = l, c
	}

	size := n
	if f.spec.Type == TypeBCD {
		size = bcd.ByteLen(n)
	}
	if len(b)-consumed < size {
		return 0, ErrInsufficientData
	}

	data := make([]byte, size)
	copy(data, b[consumed:consumed+size])
	f.present, f.length, f.data = true, n, data
	return consumed + size, nil
}
