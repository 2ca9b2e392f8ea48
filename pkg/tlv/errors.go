package tlv

import "errors"

var (
	// ErrUnexpectedEOF is returned when the input ends inside an element.
	ErrUnexpectedEOF = errors.New("tlv: unexpected end of input")

	// ErrEmptyValue is returned for elements with a zero-length value.
	ErrEmptyValue = errors.New("tlv: empty value")

	// ErrValueTooLarge is returned for values longer than MaxValueSize.
	ErrValueTooLarge = errors.New("tlv: value too large")

	// ErrOutOfOrder is returned when tags are not strictly ascending.
	ErrOutOfOrder = errors.New("tlv: tags out of order or duplicated")

	// ErrTagNotFound is returned by typed getters for absent tags.
	ErrTagNotFound = errors.New("tlv: tag not found")

	// ErrTypeMismatch is returned when a value has the wrong size for a
	// typed getter.
	ErrTypeMismatch = errors.New("tlv: value has unexpected size")
)
