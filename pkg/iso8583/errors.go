package iso8583

import (
	"errors"
	"fmt"
)

// Codec errors.
var (
	// ErrFieldLengthExceeded is returned when a value is longer than its
	// field's maximum length or its length prefix can express.
	ErrFieldLengthExceeded = errors.New("iso8583: field length exceeded")

	// ErrInvalidField is returned for field numbers outside 1-128.
	ErrInvalidField = errors.New("iso8583: invalid field number")

	// ErrFieldNotDefined is returned when the template has no spec for a field.
	ErrFieldNotDefined = errors.New("iso8583: field not defined in template")

	// ErrReservedField is returned when a caller tries to set field 1, which
	// is derived from the presence of fields 65-128.
	ErrReservedField = errors.New("iso8583: field 1 is computed from the bitmap")

	// ErrFieldNotPresent is returned when reading an absent field.
	ErrFieldNotPresent = errors.New("iso8583: field not present")

	// ErrInvalidValue is returned when a value cannot be encoded with the
	// field's type.
	ErrInvalidValue = errors.New("iso8583: invalid value for field type")

	// ErrInvalidMTI is returned for message type indicators that are not
	// four decimal digits.
	ErrInvalidMTI = errors.New("iso8583: invalid MTI")

	// ErrInvalidBitmap is returned when a bitmap cannot be decoded.
	ErrInvalidBitmap = errors.New("iso8583: invalid bitmap")

	// ErrInsufficientData is returned when the input ends inside an element.
	ErrInsufficientData = errors.New("iso8583: insufficient data")

	// ErrTrailingData is returned when bytes remain after the last field.
	ErrTrailingData = errors.New("iso8583: trailing data after last field")

	// ErrInvalidTemplate is returned by NewTemplate for inconsistent specs.
	ErrInvalidTemplate = errors.New("iso8583: invalid template")

	// ErrInvalidTPDU is returned when a transport header is not 5 bytes.
	ErrInvalidTPDU = errors.New("iso8583: invalid TPDU")

	// ErrInvalidCarrier is returned when an obscuring strategy's carrier
	// field cannot hold an encrypted blob.
	ErrInvalidCarrier = errors.New("iso8583: invalid carrier field")
)

// FieldError reports a failure while processing a specific field.
type FieldError struct {
	Field int
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("iso8583: field %d: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

func fieldErr(n int, err error) error {
	return &FieldError{Field: n, Err: err}
}
