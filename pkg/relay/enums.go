// Package relay pairs a source connection with a destination and runs the
// request/response pipeline between them.
//
// In the server role the source speaks the envelope protocol and the
// destination raw ISO 8583; in the client role it is the other way round.
// Destinations are reached through an Upstream: a dedicated stream dialled
// on first use, or a Pool that multiplexes many relays over one permanent
// connection.
package relay

import (
	"fmt"
	"strings"
)

// Role selects which side of the envelope protocol a relay plays.
type Role int

const (
	// RoleServer terminates envelopes and forwards raw messages.
	RoleServer Role = iota
	// RoleClient wraps raw messages into envelopes and logs on first.
	RoleClient
)

// String returns the configuration name of the role.
func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	default:
		return "unknown"
	}
}

// IsValid returns true if the role is a defined value.
func (r Role) IsValid() bool {
	return r == RoleServer || r == RoleClient
}

// ParseRole parses "server" or "client".
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "server":
		return RoleServer, nil
	case "client":
		return RoleClient, nil
	}
	return RoleServer, fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

// Direction tells a Hook which leg a message travels.
type Direction int

const (
	// DirectionRequest is a message on its way to the destination.
	DirectionRequest Direction = iota
	// DirectionResponse is a message on its way back to the source.
	DirectionResponse
)

// String returns "request" or "response".
func (d Direction) String() string {
	if d == DirectionResponse {
		return "response"
	}
	return "request"
}

// Status is the progress of the current transaction on a relay.
type Status int

const (
	// StatusNone means no transaction is in progress.
	StatusNone Status = iota
	// StatusReceivedRequest means a frame arrived from the source.
	StatusReceivedRequest
	// StatusHeaderUnpacked means the frame parsed.
	StatusHeaderUnpacked
	// StatusAuthenticated means the signature and MAC verified.
	StatusAuthenticated
	// StatusSentToDestination means the request was forwarded.
	StatusSentToDestination
	// StatusReceivedResponse means the destination answered.
	StatusReceivedResponse
	// StatusSuccessful means the response reached the source.
	StatusSuccessful

	statusCount
)

// String returns a human-readable name for the status.
func (s Status) String() string {
	switch s {
	case StatusNone:
		return "None"
	case StatusReceivedRequest:
		return "ReceivedRequest"
	case StatusHeaderUnpacked:
		return "HeaderUnpacked"
	case StatusAuthenticated:
		return "Authenticated"
	case StatusSentToDestination:
		return "SentToDestination"
	case StatusReceivedResponse:
		return "ReceivedResponse"
	case StatusSuccessful:
		return "Successful"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the status is a defined value.
func (s Status) IsValid() bool {
	return s >= StatusNone && s < statusCount
}

// Gauge names the live gauge counting relays that stopped at s. A relay
// that stays in a status other than Successful shows what went wrong with
// its last transaction.
func (s Status) Gauge() string {
	switch s {
	case StatusReceivedRequest:
		return "wrong_format"
	case StatusHeaderUnpacked:
		return "unauthorised"
	case StatusAuthenticated:
		return "not_forwarded"
	case StatusSentToDestination:
		return "no_response"
	case StatusReceivedResponse:
		return "not_delivered"
	case StatusSuccessful:
		return "successful"
	default:
		return ""
	}
}
