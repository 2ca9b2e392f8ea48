package transport

import (
	"net"
	"sync"
	"time"

	"github.com/backkem/isogate/pkg/frame"
)

// Stream carries whole messages between two peers.
type Stream interface {
	// Send writes one message.
	Send(data []byte) error

	// Receive waits up to timeout for one message. A zero timeout waits
	// forever. Silence yields ErrTimeout and a closed peer ErrDisconnected.
	Receive(timeout time.Duration) ([]byte, error)

	// Close closes the stream.
	Close() error

	// RemoteAddr returns the peer address.
	RemoteAddr() net.Addr
}

// readChunk is the size of a single read from the connection.
const readChunk = 4096

// Conn is a Stream over a net.Conn. Messages are framed with the
// configured prefix; partial reads are buffered across calls, so a timeout
// in the middle of a message does not lose the bytes already read.
type Conn struct {
	conn    net.Conn
	prefix  frame.Prefix
	network Network

	wmu sync.Mutex

	rmu     sync.Mutex
	buf     []byte
	pending []byte

	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps conn. Receive and Send may be called concurrently with
// each other but not with themselves.
func NewConn(conn net.Conn, prefix frame.Prefix, network Network) *Conn {
	return &Conn{
		conn:    conn,
		prefix:  prefix,
		network: network,
		buf:     make([]byte, readChunk),
	}
}

// Prefix returns the framing style.
func (c *Conn) Prefix() frame.Prefix {
	return c.prefix
}

// Network returns the transport the stream runs on.
func (c *Conn) Network() Network {
	return c.network
}

// Send writes data preceded by its length prefix.
func (c *Conn) Send(data []byte) error {
	out, err := c.prefix.Encode(data)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.conn.Write(out); err != nil {
		return classify(err)
	}
	return nil
}

// Receive returns the next message.
func (c *Conn) Receive(timeout time.Duration) ([]byte, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, classify(err)
	}
	for {
		msg, ok, err := c.next()
		if err != nil || ok {
			return msg, err
		}
		n, err := c.conn.Read(c.buf)
		if n > 0 {
			c.pending = append(c.pending, c.buf[:n]...)
			continue
		}
		if err != nil {
			return nil, classify(err)
		}
	}
}

// next cuts one complete message from the buffered bytes.
func (c *Conn) next() ([]byte, bool, error) {
	if len(c.pending) == 0 {
		return nil, false, nil
	}
	if c.prefix == frame.PrefixNone {
		msg := c.pending
		c.pending = nil
		return msg, true, nil
	}
	size := c.prefix.Size()
	if len(c.pending) < size {
		return nil, false, nil
	}
	n, err := c.prefix.DecodeLength(c.pending)
	if err != nil {
		return nil, false, err
	}
	if len(c.pending) < size+n {
		return nil, false, nil
	}
	msg := append([]byte(nil), c.pending[size:size+n]...)
	c.pending = append(c.pending[:0], c.pending[size+n:]...)
	return msg, true, nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// LocalAddr returns the local address.
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Verify Conn implements Stream.
var _ Stream = (*Conn)(nil)
