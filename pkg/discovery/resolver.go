package discovery

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// DefaultBrowseTimeout is the default timeout for browse operations.
const DefaultBrowseTimeout = 3 * time.Second

// Gateway is a discovered gateway service.
type Gateway struct {
	// Instance is the DNS-SD instance name.
	Instance string

	// HostName is the target host name.
	HostName string

	// Port is the service port.
	Port int

	// IPs are the resolved addresses, IPv4 first.
	IPs []net.IP

	// TXT are the decoded TXT records.
	TXT GatewayTXT
}

// Address returns host:port for the first resolved IP, falling back to the
// host name.
func (g *Gateway) Address() string {
	host := g.HostName
	if len(g.IPs) > 0 {
		host = g.IPs[0].String()
	}
	return net.JoinHostPort(host, strconv.Itoa(g.Port))
}

// ServesNII reports whether the gateway advertises a pool for nii.
func (g *Gateway) ServesNII(nii int) bool {
	for _, n := range g.TXT.NIIs {
		if n == nii {
			return true
		}
	}
	return false
}

// MDNSResolver streams DNS-SD answers into entries until ctx ends.
type MDNSResolver interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// zeroconfResolver queries the real network.
type zeroconfResolver struct {
	resolver *zeroconf.Resolver
}

func newZeroconfResolver() (*zeroconfResolver, error) {
	r, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, err
	}
	return &zeroconfResolver{resolver: r}, nil
}

func (z *zeroconfResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	return z.resolver.Browse(ctx, service, domain, entries)
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// MDNSResolver overrides the zeroconf resolver.
	MDNSResolver MDNSResolver

	// BrowseTimeout applies when the context has no deadline.
	// If zero, DefaultBrowseTimeout is used.
	BrowseTimeout time.Duration

	LoggerFactory logging.LoggerFactory
}

// Resolver finds gateways via DNS-SD.
type Resolver struct {
	config   ResolverConfig
	resolver MDNSResolver
	log      logging.LeveledLogger
}

// NewResolver builds a Resolver, opening a zeroconf resolver unless one is
// injected.
func NewResolver(config ResolverConfig) (*Resolver, error) {
	resolver := config.MDNSResolver
	if resolver == nil {
		zr, err := newZeroconfResolver()
		if err != nil {
			return nil, err
		}
		resolver = zr
	}
	if config.BrowseTimeout == 0 {
		config.BrowseTimeout = DefaultBrowseTimeout
	}

	r := &Resolver{
		config:   config,
		resolver: resolver,
	}
	if config.LoggerFactory != nil {
		r.log = config.LoggerFactory.NewLogger("discovery")
	}
	return r, nil
}

// Browse collects the gateways answering until ctx is done or the browse
// timeout expires. An empty role browses for every gateway. Entries whose
// TXT records do not decode are skipped.
func (r *Resolver) Browse(ctx context.Context, role Role) ([]Gateway, error) {
	service := ServiceGateway
	if role != "" {
		if !role.IsValid() {
			return nil, ErrInvalidRole
		}
		service = role.Subtype() + "._sub." + ServiceGateway
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.BrowseTimeout)
		defer cancel()
	}

	entries := make(chan *zeroconf.ServiceEntry)
	errCh := make(chan error, 1)
	go func() {
		errCh <- r.resolver.Browse(ctx, service, DefaultDomain, entries)
	}()

	var found []Gateway
	seen := make(map[string]bool)
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return found, nil
			}
			if entry == nil || seen[entry.Instance] {
				continue
			}
			g, err := entryToGateway(entry)
			if err != nil {
				if r.log != nil {
					r.log.Debugf("Skipping %q: %v", entry.Instance, err)
				}
				continue
			}
			seen[entry.Instance] = true
			found = append(found, g)
		case err := <-errCh:
			if err != nil {
				return nil, err
			}
			errCh = nil
		case <-ctx.Done():
			return found, nil
		}
	}
}

// Find returns the first gateway advertising a pool for nii.
func (r *Resolver) Find(ctx context.Context, nii int) (*Gateway, error) {
	gateways, err := r.Browse(ctx, RoleServer)
	if err != nil {
		return nil, err
	}
	for i := range gateways {
		if gateways[i].ServesNII(nii) {
			return &gateways[i], nil
		}
	}
	return nil, ErrNotFound
}

func entryToGateway(entry *zeroconf.ServiceEntry) (Gateway, error) {
	txt, err := DecodeGatewayTXT(entry.Text)
	if err != nil {
		return Gateway{}, err
	}
	ips := make([]net.IP, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	ips = append(ips, entry.AddrIPv4...)
	ips = append(ips, entry.AddrIPv6...)
	return Gateway{
		Instance: entry.Instance,
		HostName: entry.HostName,
		Port:     entry.Port,
		IPs:      ips,
		TXT:      txt,
	}, nil
}
