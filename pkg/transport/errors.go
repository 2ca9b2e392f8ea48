package transport

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

// Transport errors.
var (
	// ErrClosed is returned when an operation is attempted on a closed transport.
	ErrClosed = errors.New("transport: closed")

	// ErrTimeout is returned when no message arrived before the deadline.
	// The stream stays usable.
	ErrTimeout = errors.New("transport: timeout")

	// ErrDisconnected is returned when the peer closed the stream.
	ErrDisconnected = errors.New("transport: disconnected")

	// ErrTLS is returned when a TLS handshake fails.
	ErrTLS = errors.New("transport: tls handshake failed")

	// ErrInvalidAddress is returned when no address is configured.
	ErrInvalidAddress = errors.New("transport: invalid address")

	// ErrNoHandler is returned when no stream handler is configured.
	ErrNoHandler = errors.New("transport: no stream handler configured")

	// ErrAlreadyStarted is returned when Start is called on an already running listener.
	ErrAlreadyStarted = errors.New("transport: already started")
)

// classify maps read and write failures onto ErrTimeout and
// ErrDisconnected, keeping the cause in the chain.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ne net.Error
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrDisconnected), errors.Is(err, ErrClosed):
		return err
	case errors.Is(err, os.ErrDeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
		return errors.Join(ErrTimeout, err)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed), errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return errors.Join(ErrDisconnected, err)
	}
	return err
}
