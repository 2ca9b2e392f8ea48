package keys

import "errors"

// Key manager errors.
var (
	// ErrUnknownClient is returned for operations on a client id with no
	// key record.
	ErrUnknownClient = errors.New("keys: unknown client")

	// ErrDeclined is returned for operations on a disabled client.
	ErrDeclined = errors.New("keys: client disabled")

	// ErrInvalidClientID is returned for empty client ids.
	ErrInvalidClientID = errors.New("keys: invalid client id")

	// ErrInvalidKey is returned when an unwrapped key is shorter than the
	// configured key length.
	ErrInvalidKey = errors.New("keys: invalid key material")

	// ErrWrongSignature is returned when a request's CSK proof does not
	// match the client's signature key.
	ErrWrongSignature = errors.New("keys: wrong signature")

	// ErrWrongMAC is returned when a payload does not match its MAC.
	ErrWrongMAC = errors.New("keys: wrong MAC")

	// ErrOutOfRange is returned when offset and count do not fit the buffer.
	ErrOutOfRange = errors.New("keys: offset and count out of range")
)
