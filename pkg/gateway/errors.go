package gateway

import "errors"

// Gateway errors.
var (
	// ErrNoCodec is returned when the relay template has no codec.
	ErrNoCodec = errors.New("gateway: codec required")

	// ErrNoDestination is returned when neither a pool manager nor a
	// destination is configured.
	ErrNoDestination = errors.New("gateway: destination or pools required")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("gateway: already started")

	// ErrNotStarted is returned when stopping a gateway that never started.
	ErrNotStarted = errors.New("gateway: not started")

	// ErrAlreadyStopped is returned when Stop is called twice.
	ErrAlreadyStopped = errors.New("gateway: already stopped")

	// ErrUnknownConnection is returned for an id not in the registry.
	ErrUnknownConnection = errors.New("gateway: unknown connection")

	// ErrUnknownCommand is returned for an admin command the gateway does
	// not implement.
	ErrUnknownCommand = errors.New("gateway: unknown admin command")

	// ErrMissingArgument is returned when an admin command lacks its
	// client id.
	ErrMissingArgument = errors.New("gateway: missing admin argument")
)
