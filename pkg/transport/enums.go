// Package transport carries length-prefixed messages over TCP, TLS and
// in-memory pipes.
//
// A Stream sends one message per Send and returns one message per Receive,
// framed with a frame.Prefix. Receive distinguishes silence (ErrTimeout)
// from a closed peer (ErrDisconnected).
package transport

import (
	"fmt"
	"strings"
)

// Network identifies the transport used for a stream.
type Network int

const (
	// NetworkUnknown is the zero value for unknown transport.
	NetworkUnknown Network = iota
	// NetworkTCP indicates plain TCP.
	NetworkTCP
	// NetworkTLS indicates TCP wrapped in TLS.
	NetworkTLS
	// NetworkPipe indicates an in-memory pipe.
	NetworkPipe
)

// String returns the string representation of the network.
func (n Network) String() string {
	switch n {
	case NetworkTCP:
		return "TCP"
	case NetworkTLS:
		return "TLS"
	case NetworkPipe:
		return "Pipe"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the network is a known valid type.
func (n Network) IsValid() bool {
	return n >= NetworkTCP && n <= NetworkPipe
}

// ParseNetwork parses "tcp" or "tls".
func ParseNetwork(s string) (Network, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "tcp":
		return NetworkTCP, nil
	case "tls", "ssl":
		return NetworkTLS, nil
	}
	return NetworkUnknown, fmt.Errorf("transport: unknown network %q", s)
}
