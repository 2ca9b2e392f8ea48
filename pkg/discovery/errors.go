package discovery

import "errors"

// Errors returned by the advertiser and resolver.
var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("discovery: closed")

	// ErrAlreadyStarted is returned by Start while advertising.
	ErrAlreadyStarted = errors.New("discovery: already started")

	// ErrNotStarted is returned by Stop before Start.
	ErrNotStarted = errors.New("discovery: not started")

	// ErrInvalidRole is returned when the TXT role is neither server nor client.
	ErrInvalidRole = errors.New("discovery: invalid role")

	// ErrInvalidNII is returned when an advertised NII is outside 0-9999.
	ErrInvalidNII = errors.New("discovery: invalid NII (must be 0-9999)")

	// ErrInvalidInstanceName is returned when the instance name is too long.
	ErrInvalidInstanceName = errors.New("discovery: invalid instance name (max 63 bytes)")

	// ErrInvalidTXTRecord is returned for a malformed TXT entry.
	ErrInvalidTXTRecord = errors.New("discovery: invalid TXT record format")
)

// ErrNotFound is returned when no gateway matches a lookup.
var ErrNotFound = errors.New("discovery: gateway not found")
