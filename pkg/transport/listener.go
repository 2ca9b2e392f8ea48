package transport

import (
	"crypto/tls"
	"net"
	"sync"

	"github.com/backkem/isogate/pkg/frame"
	"github.com/pion/logging"
)

// StreamHandler serves one accepted stream. The stream is closed when the
// handler returns.
type StreamHandler func(c *Conn)

// Listener accepts TCP or TLS connections and serves each one on its own
// goroutine.
type Listener struct {
	listener net.Listener
	network  Network
	prefix   frame.Prefix
	handler  StreamHandler
	closeCh  chan struct{}
	wg       sync.WaitGroup
	log      logging.LeveledLogger

	connsMu sync.Mutex
	conns   map[*Conn]struct{}

	mu      sync.Mutex
	started bool
	closed  bool
}

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	// Listener is an optional pre-existing Listener to use.
	// If nil, a new listener will be created using ListenAddr.
	Listener net.Listener

	// ListenAddr is the address to listen on (e.g., ":5000").
	// Ignored if Listener is provided.
	ListenAddr string

	// TLS wraps accepted connections in TLS when set.
	TLS *tls.Config

	// Prefix frames messages on accepted streams.
	Prefix frame.Prefix

	// Handler serves each accepted stream. Required.
	Handler StreamHandler

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// NewListener creates a listener with the given configuration.
func NewListener(config ListenerConfig) (*Listener, error) {
	if config.Handler == nil {
		return nil, ErrNoHandler
	}
	if !config.Prefix.IsValid() {
		return nil, frame.ErrUnknownPrefix
	}

	l := &Listener{
		listener: config.Listener,
		network:  NetworkTCP,
		prefix:   config.Prefix,
		handler:  config.Handler,
		closeCh:  make(chan struct{}),
		conns:    make(map[*Conn]struct{}),
	}
	if config.LoggerFactory != nil {
		l.log = config.LoggerFactory.NewLogger("transport")
	}

	if l.listener == nil {
		addr := config.ListenAddr
		if addr == "" {
			addr = ":0"
		}
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, err
		}
		l.listener = ln
	}
	if config.TLS != nil {
		l.listener = tls.NewListener(l.listener, config.TLS)
		l.network = NetworkTLS
	}
	return l, nil
}

// Start begins accepting connections.
func (l *Listener) Start() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if l.started {
		l.mu.Unlock()
		return ErrAlreadyStarted
	}
	l.started = true
	l.mu.Unlock()

	if l.log != nil {
		l.log.Infof("listening on %s (%s, prefix %s)", l.listener.Addr(), l.network, l.prefix)
	}

	l.wg.Add(1)
	go l.acceptLoop()
	return nil
}

// Stop closes the listener and every open stream, then waits for the
// handlers to return.
func (l *Listener) Stop() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.closed = true
	l.mu.Unlock()

	if l.log != nil {
		l.log.Info("stopping listener")
	}

	close(l.closeCh)
	l.listener.Close()

	l.connsMu.Lock()
	for c := range l.conns {
		c.Close()
	}
	l.connsMu.Unlock()

	l.wg.Wait()
	return nil
}

// Addr returns the local address the listener is bound to.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Network returns NetworkTLS when connections are wrapped in TLS.
func (l *Listener) Network() Network {
	return l.network
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			select {
			case <-l.closeCh:
				return
			default:
				if l.log != nil {
					l.log.Warnf("accept: %v", err)
				}
				continue
			}
		}

		l.wg.Add(1)
		go l.serve(conn)
	}
}

func (l *Listener) serve(conn net.Conn) {
	defer l.wg.Done()

	c := NewConn(conn, l.prefix, l.network)
	l.connsMu.Lock()
	select {
	case <-l.closeCh:
		l.connsMu.Unlock()
		c.Close()
		return
	default:
	}
	l.conns[c] = struct{}{}
	l.connsMu.Unlock()

	defer func() {
		c.Close()
		l.connsMu.Lock()
		delete(l.conns, c)
		l.connsMu.Unlock()
	}()

	if l.log != nil {
		l.log.Debugf("accepted %s", conn.RemoteAddr())
	}
	l.handler(c)
}
