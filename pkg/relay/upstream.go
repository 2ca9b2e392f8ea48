package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/backkem/isogate/pkg/transport"
	"github.com/pion/logging"
)

// Upstream delivers a request to the destination and returns its response.
type Upstream interface {
	// Exchange sends request and waits up to timeout for the response.
	// Failures are classified as session errors: Timeout when the
	// destination stayed silent, DisconnectedFromDestination when it went
	// away.
	Exchange(request []byte, timeout time.Duration) ([]byte, error)

	// Close releases the destination connection.
	Close() error
}

// DialFunc opens a stream to a destination.
type DialFunc func(ctx context.Context) (transport.Stream, error)

// TransportDialer returns a DialFunc backed by transport.Dial.
func TransportDialer(config transport.DialConfig) DialFunc {
	return func(ctx context.Context) (transport.Stream, error) {
		return transport.Dial(ctx, config)
	}
}

// StreamDialer returns a DialFunc that hands out s once.
func StreamDialer(s transport.Stream) DialFunc {
	var once sync.Once
	return func(context.Context) (transport.Stream, error) {
		var out transport.Stream
		once.Do(func() { out = s })
		if out == nil {
			return nil, transport.ErrClosed
		}
		return out, nil
	}
}

// DirectConfig configures a Direct upstream.
type DirectConfig struct {
	// Dial opens the destination stream. Required.
	Dial DialFunc

	// DialTimeout bounds each dial. Default: 10s.
	DialTimeout time.Duration

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// Direct is an Upstream that owns one destination stream. The stream is
// dialled on first use and dropped when it disconnects or a response times
// out; the next exchange dials again.
type Direct struct {
	config DirectConfig
	log    logging.LeveledLogger

	mu     sync.Mutex
	stream transport.Stream
	closed bool
}

// NewDirect creates a Direct upstream.
func NewDirect(config DirectConfig) (*Direct, error) {
	if config.Dial == nil {
		return nil, ErrNoDialer
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 10 * time.Second
	}
	d := &Direct{config: config}
	if config.LoggerFactory != nil {
		d.log = config.LoggerFactory.NewLogger("upstream")
	}
	return d, nil
}

// Exchange implements Upstream.
func (d *Direct) Exchange(request []byte, timeout time.Duration) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, destinationError(transport.ErrClosed)
	}
	if d.stream == nil {
		ctx, cancel := context.WithTimeout(context.Background(), d.config.DialTimeout)
		s, err := d.config.Dial(ctx)
		cancel()
		if err != nil {
			return nil, destinationError(err)
		}
		if d.log != nil {
			d.log.Debugf("connected to %s", s.RemoteAddr())
		}
		d.stream = s
	}

	if err := d.stream.Send(request); err != nil {
		d.drop()
		return nil, destinationError(err)
	}
	resp, err := d.stream.Receive(timeout)
	if err != nil {
		// A late reply must not answer the next request.
		if errors.Is(err, transport.ErrTimeout) && d.log != nil {
			d.log.Warnf("no response from %s within %s, dropping connection", d.stream.RemoteAddr(), timeout)
		}
		d.drop()
		return nil, destinationError(err)
	}
	return resp, nil
}

// drop closes the stream. The lock must be held.
func (d *Direct) drop() {
	if d.stream == nil {
		return
	}
	if d.log != nil {
		d.log.Debugf("dropping destination %s", d.stream.RemoteAddr())
	}
	d.stream.Close()
	d.stream = nil
}

// Close closes the destination stream.
func (d *Direct) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.drop()
	return nil
}

// Verify upstreams implement Upstream.
var (
	_ Upstream = (*Direct)(nil)
	_ Upstream = (*Pool)(nil)
	_ Upstream = (*PoolManager)(nil)
)
