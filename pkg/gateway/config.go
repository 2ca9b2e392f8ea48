package gateway

import (
	"crypto/tls"
	"net"

	"github.com/backkem/isogate/pkg/discovery"
	"github.com/backkem/isogate/pkg/frame"
	"github.com/backkem/isogate/pkg/logsink"
	"github.com/backkem/isogate/pkg/relay"
	"github.com/backkem/isogate/pkg/transport"
	"github.com/google/uuid"
	"github.com/pion/logging"
)

// Config holds all configuration for a Gateway.
type Config struct {
	// Listener
	Listener   net.Listener // Pre-existing listener (optional)
	ListenAddr string       // Address to listen on when Listener is nil (default ":0")
	TLS        *tls.Config  // Wrap accepted connections in TLS (optional)
	Prefix     frame.Prefix // Source framing

	// Relay is the template for every connection's relay. Its Upstream
	// and Metrics are filled in by the gateway.
	Relay relay.Config

	// Destination - one of Pools, Dial or Destination is required
	Pools       *relay.PoolManager   // Shared permanent connections, routed by NII
	Dial        relay.DialFunc       // Opens a dedicated destination stream per connection
	Destination transport.DialConfig // Used to build Dial when Dial is nil

	// Admin enables the admin commands in the server role.
	Admin bool

	// Discovery - Optional
	Advertiser *discovery.Advertiser // Advertises the listener while running
	Version    string                // Advertised software version

	// Callbacks - Optional
	OnConnectionOpened func(id uuid.UUID, remote string)
	OnConnectionClosed func(id uuid.UUID, err error)

	// Metrics shared by every relay (default: new metrics)
	Metrics *relay.Metrics

	// LogSink records log entries for Logs. When LoggerFactory is nil the
	// sink is used as the logger factory.
	LogSink       *logsink.Factory
	LoggerFactory logging.LoggerFactory
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Relay.Codec == nil {
		return ErrNoCodec
	}
	if !c.Relay.Role.IsValid() {
		return relay.ErrInvalidRole
	}
	if c.Relay.Role == relay.RoleClient && c.Relay.ClientID == "" {
		return relay.ErrNoClientID
	}
	if c.Pools == nil && c.Dial == nil && c.Destination.Address == "" {
		return ErrNoDestination
	}
	return nil
}

// applyDefaults fills in default values for unset fields.
func (c *Config) applyDefaults() {
	if c.Metrics == nil {
		c.Metrics = relay.NewMetrics()
	}
	if c.LoggerFactory == nil && c.LogSink != nil {
		c.LoggerFactory = c.LogSink
	}
	if c.Relay.LoggerFactory == nil {
		c.Relay.LoggerFactory = c.LoggerFactory
	}
	if c.Dial == nil && c.Pools == nil {
		c.Dial = relay.TransportDialer(c.Destination)
	}
}
