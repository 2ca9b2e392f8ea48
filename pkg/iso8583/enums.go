// Package iso8583 implements the bitmap-indexed ISO 8583 financial message
// format: field templates, per-field values, primary/secondary bitmaps, the
// 5-byte transport header and whole-message packing and unpacking.
//
// A Template is an immutable table describing all 128 fields. Messages are
// created per transaction from a shared Template:
//
//	msg := iso8583.NewMessage(iso8583.StandardTemplate())
//	msg.SetMTI("0200")
//	msg.SetString(3, "000000")
//	msg.SetString(4, "000000000100")
//	wire, err := msg.Pack(frame.PrefixNone)
package iso8583

import (
	"fmt"
	"strings"
)

// MaxField is the highest addressable field number.
const MaxField = 128

// LengthType is the length discipline of a field.
type LengthType int

const (
	// LengthFixed fields always occupy MaxLength units.
	LengthFixed LengthType = iota
	// LengthVar2 fields carry a 2-digit length prefix (0-99).
	LengthVar2
	// LengthVar3 fields carry a 3-digit length prefix (0-999).
	LengthVar3
)

// String returns the template name of the length discipline.
func (l LengthType) String() string {
	switch l {
	case LengthFixed:
		return "fixed"
	case LengthVar2:
		return "var2"
	case LengthVar3:
		return "var3"
	default:
		return "unknown"
	}
}

// IsValid returns true if the length discipline is a defined value.
func (l LengthType) IsValid() bool {
	return l >= LengthFixed && l <= LengthVar3
}

// PrefixDigits returns the number of decimal digits in the length prefix.
func (l LengthType) PrefixDigits() int {
	switch l {
	case LengthVar2:
		return 2
	case LengthVar3:
		return 3
	default:
		return 0
	}
}

// Limit returns the largest logical length the prefix can express.
func (l LengthType) Limit() int {
	switch l {
	case LengthVar2:
		return 99
	case LengthVar3:
		return 999
	default:
		return -1
	}
}

// FieldType is the encoding of a field's data.
type FieldType int

const (
	// TypeAlphanumeric fields carry one character per byte.
	TypeAlphanumeric FieldType = iota
	// TypeBCD fields pack two decimal digits per byte.
	TypeBCD
	// TypeBinary fields carry raw bytes; their string form is hex.
	TypeBinary
	// TypeNumeric fields carry BCD digits as characters. Fixed fields are
	// left-filled with zeros.
	TypeNumeric
)

// String returns the template name of the field type.
func (f FieldType) String() string {
	switch f {
	case TypeAlphanumeric:
		return "alphanumeric"
	case TypeBCD:
		return "bcd"
	case TypeBinary:
		return "binary"
	case TypeNumeric:
		return "numeric"
	default:
		return "unknown"
	}
}

// IsValid returns true if the field type is a defined value.
func (f FieldType) IsValid() bool {
	return f >= TypeAlphanumeric && f <= TypeNumeric
}

// Display controls how a field is rendered for logs and dumps.
type Display int

const (
	// DisplayNone renders the value as is.
	DisplayNone Display = iota
	// DisplayHideAll renders "*".
	DisplayHideAll
	// DisplayMaskTrack2 masks the middle digits of card numbers and track 2.
	DisplayMaskTrack2
)

// String returns the template name of the display option.
func (d Display) String() string {
	switch d {
	case DisplayNone:
		return "none"
	case DisplayHideAll:
		return "hide"
	case DisplayMaskTrack2:
		return "mask-track2"
	default:
		return "unknown"
	}
}

// ParseLengthType parses a length discipline name.
func ParseLengthType(s string) (LengthType, error) {
	switch strings.ToLower(s) {
	case "fixed", "":
		return LengthFixed, nil
	case "var2", "llvar":
		return LengthVar2, nil
	case "var3", "lllvar":
		return LengthVar3, nil
	}
	return LengthFixed, fmt.Errorf("iso8583: unknown length type %q", s)
}

// ParseFieldType parses a field type name.
func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToLower(s) {
	case "alphanumeric", "an", "ans", "":
		return TypeAlphanumeric, nil
	case "bcd", "n":
		return TypeBCD, nil
	case "binary", "b":
		return TypeBinary, nil
	case "numeric":
		return TypeNumeric, nil
	}
	return TypeAlphanumeric, fmt.Errorf("iso8583: unknown field type %q", s)
}

// ParseDisplay parses a display option name.
func ParseDisplay(s string) (Display, error) {
	switch strings.ToLower(s) {
	case "none", "":
		return DisplayNone, nil
	case "hide", "hide-all":
		return DisplayHideAll, nil
	case "mask-track2", "mask":
		return DisplayMaskTrack2, nil
	}
	return DisplayNone, fmt.Errorf("iso8583: unknown display option %q", s)
}
