package relay

import (
	"errors"

	"github.com/backkem/isogate/pkg/frame"
	"github.com/backkem/isogate/pkg/session"
	"github.com/backkem/isogate/pkg/transport"
)

// Relay errors.
var (
	// ErrNoCodec is returned when a relay is configured without a codec.
	ErrNoCodec = errors.New("relay: codec required")

	// ErrNoUpstream is returned when a relay is configured without an upstream.
	ErrNoUpstream = errors.New("relay: upstream required")

	// ErrNoSource is returned when a relay is created without a source stream.
	ErrNoSource = errors.New("relay: source stream required")

	// ErrNoTemplate is returned when a feature that decodes messages is
	// configured without a template.
	ErrNoTemplate = errors.New("relay: template required")

	// ErrInvalidRole is returned for an unknown role.
	ErrInvalidRole = errors.New("relay: invalid role")

	// ErrNoClientID is returned when the client role has no client id.
	ErrNoClientID = errors.New("relay: client id required")

	// ErrNoDialer is returned when an upstream is configured without a dialer.
	ErrNoDialer = errors.New("relay: dialer required")

	// ErrPoolClosed is returned when using a closed pool.
	ErrPoolClosed = errors.New("relay: pool closed")

	// ErrPoolFull is returned when every correlation slot is in use.
	ErrPoolFull = errors.New("relay: all pool slots in use")

	// ErrDuplicatePool is returned when two pools serve the same NII.
	ErrDuplicatePool = errors.New("relay: duplicate pool for network identifier")
)

// sourceError classifies a failure on the source stream.
func sourceError(err error) error {
	var se *session.Error
	switch {
	case errors.As(err, &se):
		return err
	case errors.Is(err, transport.ErrTimeout):
		return session.Wrap(session.KindTimeout, err, "source")
	case errors.Is(err, transport.ErrDisconnected), errors.Is(err, transport.ErrClosed):
		return session.Wrap(session.KindDisconnectedFromSource, err, "source")
	case errors.Is(err, frame.ErrInvalidPrefix), errors.Is(err, frame.ErrTooLarge):
		return session.Wrap(session.KindMessageLengthError, err, "source")
	}
	return session.Wrap(session.KindSocketError, err, "source")
}

// destinationError classifies a failure on the destination leg.
func destinationError(err error) error {
	var se *session.Error
	switch {
	case errors.As(err, &se):
		return err
	case errors.Is(err, transport.ErrTimeout):
		return session.Wrap(session.KindTimeout, err, "destination")
	case errors.Is(err, transport.ErrDisconnected), errors.Is(err, transport.ErrClosed):
		return session.Wrap(session.KindDisconnectedFromDestination, err, "destination")
	case errors.Is(err, transport.ErrTLS):
		return session.Wrap(session.KindSslError, err, "destination")
	case errors.Is(err, frame.ErrInvalidPrefix), errors.Is(err, frame.ErrTooLarge):
		return session.Wrap(session.KindMessageLengthError, err, "destination")
	}
	return session.Wrap(session.KindSocketError, err, "destination")
}
