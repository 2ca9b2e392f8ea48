package discovery

import (
	"context"
	"net"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

// MockMDNS stands in for the network: it implements both MDNSServerFactory
// and MDNSResolver, so an Advertiser registered through it is visible to a
// Resolver browsing through it.
type MockMDNS struct {
	mu       sync.RWMutex
	services map[string][]*zeroconf.ServiceEntry
	ip       net.IP
}

// NewMockMDNS creates a mock network whose services resolve to ip.
func NewMockMDNS(ip net.IP) *MockMDNS {
	return &MockMDNS{
		services: make(map[string][]*zeroconf.ServiceEntry),
		ip:       ip,
	}
}

type mockServer struct {
	m     *MockMDNS
	entry *zeroconf.ServiceEntry
	keys  []string
}

func (s *mockServer) Shutdown() {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, k := range s.keys {
		list := s.m.services[k]
		for i, e := range list {
			if e == s.entry {
				s.m.services[k] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
	}
}

// Register implements MDNSServerFactory. The service may carry
// comma-separated subtypes, as zeroconf accepts.
func (m *MockMDNS) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	parts := strings.Split(service, ",")
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Instance: instance,
			Service:  parts[0],
			Subtypes: parts[1:],
			Domain:   domain,
		},
		HostName: instance + ".local.",
		Port:     port,
		Text:     append([]string(nil), txt...),
	}
	if m.ip != nil {
		entry.AddrIPv4 = []net.IP{m.ip}
	}
	keys := []string{parts[0]}
	for _, st := range parts[1:] {
		keys = append(keys, st+"._sub."+parts[0])
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		m.services[k] = append(m.services[k], entry)
	}
	return &mockServer{m: m, entry: entry, keys: keys}, nil
}

// Add registers a raw entry under service.
func (m *MockMDNS) Add(service string, entry *zeroconf.ServiceEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[service] = append(m.services[service], entry)
}

// Browse implements MDNSResolver.
func (m *MockMDNS) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	m.mu.RLock()
	list := append([]*zeroconf.ServiceEntry(nil), m.services[service]...)
	m.mu.RUnlock()

	for _, entry := range list {
		select {
		case entries <- entry:
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

// Verify MockMDNS implements both sides.
var (
	_ MDNSServerFactory = (*MockMDNS)(nil)
	_ MDNSResolver      = (*MockMDNS)(nil)
)
