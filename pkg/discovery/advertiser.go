package discovery

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// DefaultPort is the default gateway port.
const DefaultPort = 8583

// maxInstanceName is the DNS label limit.
const maxInstanceName = 63

// MDNSServer is a running mDNS registration.
type MDNSServer interface {
	// Shutdown withdraws the registration.
	Shutdown()
}

// MDNSServerFactory registers gateway services. Tests swap in MockMDNS.
type MDNSServerFactory interface {
	// Register announces instance under service until Shutdown.
	Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error)
}

// zeroconfServerFactory registers on the real network.
type zeroconfServerFactory struct{}

func (z *zeroconfServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// AdvertiserConfig configures an Advertiser.
type AdvertiserConfig struct {
	// Instance is the DNS-SD instance name.
	// If empty, "isogate-" followed by 8 random hex characters is used.
	Instance string

	// Port is the gateway port to advertise (default: 8583).
	Port int

	// Interfaces to announce on. Nil means every multicast interface.
	Interfaces []net.Interface

	// ServerFactory overrides the zeroconf registration.
	ServerFactory MDNSServerFactory

	LoggerFactory logging.LoggerFactory
}

// Advertiser publishes the gateway service to the network.
type Advertiser struct {
	config  AdvertiserConfig
	factory MDNSServerFactory
	log     logging.LeveledLogger

	mu     sync.Mutex
	server MDNSServer
	txt    []string
	closed bool
}

// NewAdvertiser validates config and fills in the instance name.
func NewAdvertiser(config AdvertiserConfig) (*Advertiser, error) {
	if config.Port <= 0 || config.Port > 65535 {
		config.Port = DefaultPort
	}
	if config.Instance == "" {
		suffix, err := randomSuffix()
		if err != nil {
			return nil, fmt.Errorf("advertiser: failed to generate instance name: %w", err)
		}
		config.Instance = "isogate-" + suffix
	}
	if len(config.Instance) > maxInstanceName {
		return nil, ErrInvalidInstanceName
	}

	factory := config.ServerFactory
	if factory == nil {
		factory = &zeroconfServerFactory{}
	}

	a := &Advertiser{
		config:  config,
		factory: factory,
	}
	if config.LoggerFactory != nil {
		a.log = config.LoggerFactory.NewLogger("discovery")
	}
	return a, nil
}

// Start begins advertising the gateway with the given TXT records. The
// service is registered with a subtype for its role so that browsers can
// ask for servers or clients only.
func (a *Advertiser) Start(txt GatewayTXT) error {
	if err := txt.Validate(); err != nil {
		return fmt.Errorf("advertiser: txt validation failed: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.server != nil {
		return ErrAlreadyStarted
	}

	service := ServiceGateway + "," + txt.Role.Subtype()
	records := txt.Encode()
	if a.log != nil {
		a.log.Debugf("Registering mDNS service: instance=%s service=%s port=%d",
			a.config.Instance, service, a.config.Port)
		a.log.Tracef("TXT records: %v", records)
	}

	server, err := a.factory.Register(
		a.config.Instance,
		service,
		DefaultDomain,
		a.config.Port,
		records,
		a.config.Interfaces,
	)
	if err != nil {
		return fmt.Errorf("advertiser: mDNS registration failed for %s: %w", service, err)
	}
	if a.log != nil {
		a.log.Infof("Advertising %s as %q on port %d", ServiceGateway, a.config.Instance, a.config.Port)
	}

	a.server = server
	a.txt = records
	return nil
}

// Update replaces the advertised TXT records, re-registering the service.
func (a *Advertiser) Update(txt GatewayTXT) error {
	if err := a.Stop(); err != nil && err != ErrNotStarted {
		return err
	}
	return a.Start(txt)
}

// Stop stops advertising.
func (a *Advertiser) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.server == nil {
		return ErrNotStarted
	}
	a.server.Shutdown()
	a.server = nil
	a.txt = nil
	return nil
}

// Close stops advertising and closes the advertiser.
func (a *Advertiser) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
	a.closed = true
	return nil
}

// IsAdvertising returns true while the service is registered.
func (a *Advertiser) IsAdvertising() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// Instance returns the DNS-SD instance name.
func (a *Advertiser) Instance() string {
	return a.config.Instance
}

// TXT returns the currently advertised TXT records.
func (a *Advertiser) TXT() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.txt...)
}

// randomSuffix returns 8 lowercase hex characters.
func randomSuffix() (string, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return fmt.Sprintf("%08x", binary.BigEndian.Uint32(buf[:])), nil
}

// AdvertiseUntil starts advertising and stops when ctx is done.
func (a *Advertiser) AdvertiseUntil(ctx context.Context, txt GatewayTXT) error {
	if err := a.Start(txt); err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		a.Close()
	}()
	return nil
}
