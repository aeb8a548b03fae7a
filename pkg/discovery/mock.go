package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
)

// MockMDNSResolver answers Browse and Lookup from registered entries
// without touching the network.
type MockMDNSResolver struct {
	mu       sync.RWMutex
	services map[string][]*zeroconf.ServiceEntry
}

// NewMockMDNSResolver creates a new mock resolver.
func NewMockMDNSResolver() *MockMDNSResolver {
	return &MockMDNSResolver{
		services: make(map[string][]*zeroconf.ServiceEntry),
	}
}

// RegisterService adds an entry returned for service.
func (m *MockMDNSResolver) RegisterService(service string, entry *zeroconf.ServiceEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[service] = append(m.services[service], entry)
}

// ClearServices removes all registered services.
func (m *MockMDNSResolver) ClearServices() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = make(map[string][]*zeroconf.ServiceEntry)
}

func (m *MockMDNSResolver) entries(service string) []*zeroconf.ServiceEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*zeroconf.ServiceEntry, len(m.services[service]))
	copy(out, m.services[service])
	return out
}

// Browse implements MDNSResolver.
func (m *MockMDNSResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	for _, entry := range m.entries(service) {
		select {
		case entries <- entry:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Lookup implements MDNSResolver.
func (m *MockMDNSResolver) Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	for _, entry := range m.entries(service) {
		if entry.Instance != instance {
			continue
		}
		select {
		case entries <- entry:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}
	return nil
}

// MockListenerService builds an entry for a listener offering profiles.
func MockListenerService(instanceName string, serviceType ServiceType, port int, ip net.IP, profiles ...string) *zeroconf.ServiceEntry {
	txt := ListenerTXT{Profiles: profiles}
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Instance: instanceName,
			Service:  serviceType.ServiceString(),
			Domain:   DefaultDomain,
		},
		HostName: instanceName + "." + DefaultDomain,
		Port:     port,
		Text:     txt.Encode(),
	}
	if ip.To4() != nil {
		entry.AddrIPv4 = []net.IP{ip}
	} else {
		entry.AddrIPv6 = []net.IP{ip}
	}
	return entry
}

// MockRegistration records one call to MockServerFactory.Register.
type MockRegistration struct {
	Instance string
	Service  string
	Domain   string
	Port     int
	Text     []string
	Shutdown bool
}

// MockServerFactory records registrations instead of announcing them.
// Registrations can be fed into a MockMDNSResolver with Publish.
type MockServerFactory struct {
	mu            sync.Mutex
	registrations []*MockRegistration

	// Fail makes Register return an error.
	Fail bool
}

// Register implements MDNSServerFactory.
func (f *MockServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Fail {
		return nil, fmt.Errorf("mock: register %s refused", service)
	}
	reg := &MockRegistration{
		Instance: instance,
		Service:  service,
		Domain:   domain,
		Port:     port,
		Text:     append([]string(nil), txt...),
	}
	f.registrations = append(f.registrations, reg)
	return &mockServer{factory: f, reg: reg}, nil
}

// Registrations returns a snapshot of every registration made so far.
func (f *MockServerFactory) Registrations() []MockRegistration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]MockRegistration, 0, len(f.registrations))
	for _, reg := range f.registrations {
		out = append(out, *reg)
	}
	return out
}

// Publish registers every live registration with r at ip.
func (f *MockServerFactory) Publish(r *MockMDNSResolver, ip net.IP) {
	for _, reg := range f.Registrations() {
		if reg.Shutdown {
			continue
		}
		entry := &zeroconf.ServiceEntry{
			ServiceRecord: zeroconf.ServiceRecord{
				Instance: reg.Instance,
				Service:  reg.Service,
				Domain:   reg.Domain,
			},
			HostName: reg.Instance + "." + reg.Domain,
			Port:     reg.Port,
			Text:     reg.Text,
		}
		if ip.To4() != nil {
			entry.AddrIPv4 = []net.IP{ip}
		} else {
			entry.AddrIPv6 = []net.IP{ip}
		}
		r.RegisterService(reg.Service, entry)
	}
}

type mockServer struct {
	factory *MockServerFactory
	reg     *MockRegistration
}

func (s *mockServer) Shutdown() {
	s.factory.mu.Lock()
	defer s.factory.mu.Unlock()
	s.reg.Shutdown = true
}
