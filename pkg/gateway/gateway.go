// Package gateway serves ISO 8583 relays on a listener.
//
// Every accepted connection gets its own relay goroutine. The relays share
// one codec (and with it the session key table), one set of metrics and
// either a pool manager holding permanent destination connections or a
// dialer for dedicated ones.
package gateway

import (
	"context"
	"net"
	"sort"
	"sync"

	"github.com/backkem/isogate/pkg/discovery"
	"github.com/backkem/isogate/pkg/logsink"
	"github.com/backkem/isogate/pkg/relay"
	"github.com/backkem/isogate/pkg/transport"
	"github.com/google/uuid"
	"github.com/pion/logging"
)

// ConnectionInfo describes one live connection.
type ConnectionInfo struct {
	ID         uuid.UUID
	RemoteAddr string
	Role       relay.Role
	Status     relay.Status
}

// Gateway accepts source connections and runs a relay for each.
type Gateway struct {
	config Config
	log    logging.LeveledLogger

	mu       sync.RWMutex
	state    State
	listener *transport.Listener
	conns    map[uuid.UUID]*relay.Relay

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a gateway. It is created but not started.
func New(config Config) (*Gateway, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	g := &Gateway{
		config: config,
		state:  StateInitialized,
		conns:  make(map[uuid.UUID]*relay.Relay),
	}
	if config.LoggerFactory != nil {
		g.log = config.LoggerFactory.NewLogger("gateway")
	}
	if config.Admin && config.Relay.Role == relay.RoleServer && config.Relay.Admin == nil {
		g.config.Relay.Admin = g.Admin
	}
	g.config.Relay.Metrics = config.Metrics
	return g, nil
}

// Start opens the listener, connects the pools and starts advertising.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.state.CanStart() {
		if g.state == StateRunning {
			return ErrAlreadyStarted
		}
		return ErrAlreadyStopped
	}
	g.state = StateStarting
	g.ctx, g.cancel = context.WithCancel(ctx)

	listener, err := transport.NewListener(transport.ListenerConfig{
		Listener:      g.config.Listener,
		ListenAddr:    g.config.ListenAddr,
		TLS:           g.config.TLS,
		Prefix:        g.config.Prefix,
		Handler:       g.serve,
		LoggerFactory: g.config.LoggerFactory,
	})
	if err != nil {
		g.cancel()
		g.state = StateInitialized
		return err
	}
	if g.config.Pools != nil {
		g.config.Pools.Start()
	}
	if err := listener.Start(); err != nil {
		g.cancel()
		g.state = StateInitialized
		return err
	}
	g.listener = listener

	if g.config.Advertiser != nil {
		if err := g.config.Advertiser.Start(g.txt()); err != nil && g.log != nil {
			g.log.Warnf("advertising failed: %v", err)
		}
	}

	g.state = StateRunning
	if g.log != nil {
		g.log.Infof("gateway started: %s role on %s", g.config.Relay.Role, listener.Addr())
	}
	return nil
}

// txt builds the advertised TXT records.
func (g *Gateway) txt() discovery.GatewayTXT {
	txt := discovery.GatewayTXT{
		Role:      discovery.Role(g.config.Relay.Role.String()),
		Version:   g.config.Version,
		Algorithm: g.config.Relay.Codec.Keys().Cipher().Algorithm.String(),
		TLS:       g.config.TLS != nil,
	}
	if g.config.Pools != nil {
		txt.NIIs = g.config.Pools.NIIs()
	}
	return txt
}

// Stop closes the listener and every connection, waits for the relays to
// return and releases the pools.
func (g *Gateway) Stop() error {
	g.mu.Lock()
	if !g.state.CanStop() {
		defer g.mu.Unlock()
		if g.state == StateStopped {
			return ErrAlreadyStopped
		}
		return ErrNotStarted
	}
	g.state = StateStopping
	listener := g.listener
	g.mu.Unlock()

	g.cancel()
	if g.config.Advertiser != nil {
		g.config.Advertiser.Stop()
	}
	// Stop waits for every handler, which unregister themselves.
	listener.Stop()
	if g.config.Pools != nil {
		g.config.Pools.Close()
	}

	g.mu.Lock()
	g.state = StateStopped
	g.mu.Unlock()

	if g.log != nil {
		g.log.Info("gateway stopped")
	}
	return nil
}

// serve runs one relay on an accepted stream.
func (g *Gateway) serve(c *transport.Conn) {
	cfg := g.config.Relay
	var direct *relay.Direct
	if g.config.Pools != nil {
		cfg.Upstream = g.config.Pools
	} else {
		d, err := relay.NewDirect(relay.DirectConfig{
			Dial:          g.config.Dial,
			LoggerFactory: g.config.LoggerFactory,
		})
		if err != nil {
			g.logError("upstream for %s: %v", c.RemoteAddr(), err)
			return
		}
		direct = d
		cfg.Upstream = d
	}

	r, err := relay.New(cfg, c)
	if err != nil {
		g.logError("relay for %s: %v", c.RemoteAddr(), err)
		if direct != nil {
			direct.Close()
		}
		return
	}

	g.register(r)
	if g.config.OnConnectionOpened != nil {
		g.config.OnConnectionOpened(r.ID(), r.RemoteAddr())
	}

	err = r.Run(g.ctx)

	g.unregister(r.ID())
	if direct != nil {
		direct.Close()
	}
	if err != nil {
		g.logError("connection %s (%s) ended: %v", r.ID(), r.RemoteAddr(), err)
	}
	if g.config.OnConnectionClosed != nil {
		g.config.OnConnectionClosed(r.ID(), err)
	}
}

func (g *Gateway) logError(format string, args ...interface{}) {
	if g.log != nil {
		g.log.Warnf(format, args...)
	}
}

func (g *Gateway) register(r *relay.Relay) {
	g.mu.Lock()
	g.conns[r.ID()] = r
	g.mu.Unlock()
	if g.log != nil {
		g.log.Debugf("connection %s from %s", r.ID(), r.RemoteAddr())
	}
}

func (g *Gateway) unregister(id uuid.UUID) {
	g.mu.Lock()
	delete(g.conns, id)
	g.mu.Unlock()
}

// Connections lists the live connections ordered by remote address.
func (g *Gateway) Connections() []ConnectionInfo {
	g.mu.RLock()
	out := make([]ConnectionInfo, 0, len(g.conns))
	for id, r := range g.conns {
		out = append(out, ConnectionInfo{
			ID:         id,
			RemoteAddr: r.RemoteAddr(),
			Role:       r.Role(),
			Status:     r.Status(),
		})
	}
	g.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].RemoteAddr != out[j].RemoteAddr {
			return out[i].RemoteAddr < out[j].RemoteAddr
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// CloseConnection closes one connection; its relay ends and unregisters.
func (g *Gateway) CloseConnection(id uuid.UUID) error {
	g.mu.RLock()
	r, ok := g.conns[id]
	g.mu.RUnlock()
	if !ok {
		return ErrUnknownConnection
	}
	return r.Close()
}

// State returns the lifecycle state.
func (g *Gateway) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Addr returns the listener address, or nil before Start.
func (g *Gateway) Addr() net.Addr {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.listener == nil {
		return nil
	}
	return g.listener.Addr()
}

// Metrics returns the gauges and counters shared by the relays.
func (g *Gateway) Metrics() *relay.Metrics {
	return g.config.Metrics
}

// Logs returns the log sink buffer, or nil without a sink.
func (g *Gateway) Logs() *logsink.Buffer {
	if g.config.LogSink == nil {
		return nil
	}
	return g.config.LogSink.Buffer()
}
