package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/backkem/isogate/pkg/frame"
)

// DialConfig configures Dial.
type DialConfig struct {
	// Address is the host:port to connect to. Required.
	Address string

	// Prefix frames messages on the stream.
	Prefix frame.Prefix

	// Timeout bounds connecting and the TLS handshake. Zero means no
	// limit beyond ctx.
	Timeout time.Duration

	// TLS enables TLS when set.
	TLS *tls.Config
}

// Dial connects to a destination. Handshake failures wrap ErrTLS.
func Dial(ctx context.Context, config DialConfig) (*Conn, error) {
	if config.Address == "" {
		return nil, ErrInvalidAddress
	}
	if config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", config.Address)
	if err != nil {
		return nil, classify(err)
	}
	if config.TLS == nil {
		return NewConn(conn, config.Prefix, NetworkTCP), nil
	}

	tc := config.TLS
	if tc.ServerName == "" {
		host, _, _ := net.SplitHostPort(config.Address)
		tc = tc.Clone()
		tc.ServerName = host
	}
	tlsConn := tls.Client(conn, tc)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, classify(err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTLS, err)
	}
	return NewConn(tlsConn, config.Prefix, NetworkTLS), nil
}
