package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// MDNSServer is one live DNS-SD registration.
type MDNSServer interface {
	// Shutdown withdraws the registration.
	Shutdown()
}

// MDNSServerFactory publishes listener records. Tests substitute
// MockServerFactory.
type MDNSServerFactory interface {
	// Register announces instance until Shutdown.
	Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error)
}

// zeroconfServerFactory announces over multicast DNS.
type zeroconfServerFactory struct{}

func (z *zeroconfServerFactory) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (MDNSServer, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// activeService is one advertised service type.
type activeService struct {
	server       MDNSServer
	instanceName string
	port         int
}

// AdvertiserConfig configures an Advertiser.
type AdvertiserConfig struct {
	// InstanceName is the DNS-SD instance name.
	// If empty, "<hostname>-<random>" is used.
	InstanceName string

	// Interfaces limits the announcement. Default: all multicast interfaces.
	Interfaces []net.Interface

	// ServerFactory publishes the records. Default: multicast DNS.
	ServerFactory MDNSServerFactory

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Advertiser publishes BEEP listeners to the network.
type Advertiser struct {
	config   AdvertiserConfig
	factory  MDNSServerFactory
	log      logging.LeveledLogger
	mu       sync.RWMutex
	services map[ServiceType]*activeService
	closed   bool
}

// NewAdvertiser creates an Advertiser. Nothing is announced until Start.
func NewAdvertiser(config AdvertiserConfig) (*Advertiser, error) {
	factory := config.ServerFactory
	if factory == nil {
		factory = &zeroconfServerFactory{}
	}

	if config.InstanceName == "" {
		config.InstanceName = defaultInstanceName()
	}

	a := &Advertiser{
		config:   config,
		factory:  factory,
		services: make(map[ServiceType]*activeService),
	}
	if config.LoggerFactory != nil {
		a.log = config.LoggerFactory.NewLogger("discovery")
	}
	return a, nil
}

// Start begins advertising a listener of serviceType on port with the
// profiles in txt.
func (a *Advertiser) Start(serviceType ServiceType, port int, txt ListenerTXT) error {
	if !serviceType.IsValid() {
		return ErrInvalidServiceType
	}
	if port <= 0 || port > 65535 {
		return ErrInvalidPort
	}
	if err := txt.Validate(); err != nil {
		return fmt.Errorf("advertiser: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if _, exists := a.services[serviceType]; exists {
		return ErrAlreadyStarted
	}

	service := serviceType.ServiceString()
	records := txt.Encode()
	if a.log != nil {
		a.log.Debugf("Registering mDNS service: instance=%s service=%s domain=%s port=%d",
			a.config.InstanceName, service, DefaultDomain, port)
		a.log.Tracef("TXT records: %v", records)
	}

	server, err := a.factory.Register(
		a.config.InstanceName,
		service,
		DefaultDomain,
		port,
		records,
		a.config.Interfaces,
	)
	if err != nil {
		return fmt.Errorf("discovery: register %s: %w", service, err)
	}

	if a.log != nil {
		a.log.Infof("advertising %s on port %d with profiles %v", service, port, txt.Profiles)
	}

	a.services[serviceType] = &activeService{
		server:       server,
		instanceName: a.config.InstanceName,
		port:         port,
	}
	return nil
}

// Stop withdraws the listener of serviceType.
func (a *Advertiser) Stop(serviceType ServiceType) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}

	svc, exists := a.services[serviceType]
	if !exists {
		return ErrNotStarted
	}

	svc.server.Shutdown()
	delete(a.services, serviceType)
	return nil
}

// Close withdraws every listener. The Advertiser cannot be restarted.
func (a *Advertiser) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}

	for _, svc := range a.services {
		svc.server.Shutdown()
	}
	a.services = nil
	a.closed = true
	return nil
}

// IsAdvertising reports whether a listener of serviceType is announced.
func (a *Advertiser) IsAdvertising(serviceType ServiceType) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	_, exists := a.services[serviceType]
	return exists
}

// InstanceName returns the instance name used for registrations.
func (a *Advertiser) InstanceName() string {
	return a.config.InstanceName
}

// defaultInstanceName combines the host name with a random suffix so that
// several listeners on one host do not collide.
func defaultInstanceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "beep"
	}
	return host + "-" + uuid.NewString()[:8]
}

// AdvertiseUntil runs Start and keeps the registration until ctx is done.
func (a *Advertiser) AdvertiseUntil(ctx context.Context, serviceType ServiceType, port int, txt ListenerTXT) error {
	if err := a.Start(serviceType, port, txt); err != nil {
		return err
	}
	<-ctx.Done()
	if err := a.Stop(serviceType); err != nil && err != ErrClosed {
		return err
	}
	return nil
}
