package discovery

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/grandcat/zeroconf"
)

// DefaultBrowseTimeout bounds Browse when ctx has no deadline.
const DefaultBrowseTimeout = 10 * time.Second

// DefaultLookupTimeout bounds Lookup when ctx has no deadline.
const DefaultLookupTimeout = 5 * time.Second

// ResolvedService describes a discovered BEEP listener.
type ResolvedService struct {
	// ServiceType tells whether the listener speaks TCP or QUIC.
	ServiceType ServiceType

	// InstanceName identifies the listener within the service type.
	InstanceName string

	// HostName is the SRV target.
	HostName string

	// Port is the listening port from the SRV record.
	Port int

	// IPs are the listener addresses, IPv6 first.
	IPs []net.IP

	// Listener is the decoded TXT record. Nil if the record was malformed.
	Listener *ListenerTXT

	// Text holds every TXT key, including ones ListenerTXT ignores.
	Text map[string]string
}

// PreferredIP returns the first listener address, or nil.
func (r *ResolvedService) PreferredIP() net.IP {
	if len(r.IPs) > 0 {
		return r.IPs[0]
	}
	return nil
}

// DialAddrs returns "host:port" strings in order of preference.
func (r *ResolvedService) DialAddrs() []string {
	return dialAddrs(r.IPs, r.Port)
}

// HasProfile reports whether the listener advertises uri.
func (r *ResolvedService) HasProfile(uri string) bool {
	return r.Listener != nil && r.Listener.HasProfile(uri)
}

// MDNSResolver browses and resolves DNS-SD records. Tests substitute
// MockMDNSResolver.
type MDNSResolver interface {
	// Browse sends every instance of service to entries until ctx is done.
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

	// Lookup sends the records of one instance to entries.
	Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// zeroconfResolver resolves over multicast DNS.
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

// Browse blocks until ctx is done. zeroconf closes the channel it is
// given, so results are forwarded from a private one and entries stays
// owned by the caller.
func (z *zeroconfResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	found := make(chan *zeroconf.ServiceEntry)
	if err := z.resolver.Browse(ctx, service, domain, found); err != nil {
		return err
	}
	return forward(ctx, found, entries)
}

func (z *zeroconfResolver) Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	found := make(chan *zeroconf.ServiceEntry)
	if err := z.resolver.Lookup(ctx, instance, service, domain, found); err != nil {
		return err
	}
	return forward(ctx, found, entries)
}

func forward(ctx context.Context, from <-chan *zeroconf.ServiceEntry, to chan<- *zeroconf.ServiceEntry) error {
	for entry := range from {
		select {
		case to <- entry:
		case <-ctx.Done():
			for range from {
			}
			return ctx.Err()
		}
	}
	return nil
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// MDNSResolver answers the queries. Default: multicast DNS.
	MDNSResolver MDNSResolver

	// BrowseTimeout bounds Browse and FindProfile.
	// Default: DefaultBrowseTimeout
	BrowseTimeout time.Duration

	// LookupTimeout bounds Lookup.
	// Default: DefaultLookupTimeout
	LookupTimeout time.Duration
}

// Resolver discovers BEEP listeners via DNS-SD.
type Resolver struct {
	config   ResolverConfig
	resolver MDNSResolver
}

// NewResolver creates a Resolver.
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
	if config.LookupTimeout == 0 {
		config.LookupTimeout = DefaultLookupTimeout
	}

	return &Resolver{
		config:   config,
		resolver: resolver,
	}, nil
}

// Browse discovers listeners of serviceType. The returned channel receives
// services until the context is cancelled or the browse timeout expires.
func (r *Resolver) Browse(ctx context.Context, serviceType ServiceType) (<-chan ResolvedService, error) {
	service := serviceType.ServiceString()
	if service == "" {
		return nil, ErrInvalidServiceType
	}

	results := make(chan ResolvedService)
	entries := make(chan *zeroconf.ServiceEntry)

	var cancel context.CancelFunc
	if _, ok := ctx.Deadline(); !ok {
		ctx, cancel = context.WithTimeout(ctx, r.config.BrowseTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	go func() {
		defer cancel()
		defer close(results)

		go func() {
			defer close(entries)
			_ = r.resolver.Browse(ctx, service, DefaultDomain, entries)
		}()

		for entry := range entries {
			svc := entryToResolvedService(entry, serviceType)
			select {
			case results <- svc:
			case <-ctx.Done():
				// Drain so the browse goroutine can finish.
				for range entries {
				}
				return
			}
		}
	}()

	return results, nil
}

// FindProfile returns the first listener of serviceType advertising uri.
func (r *Resolver) FindProfile(ctx context.Context, serviceType ServiceType, uri string) (*ResolvedService, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	services, err := r.Browse(ctx, serviceType)
	if err != nil {
		return nil, err
	}
	for svc := range services {
		if svc.HasProfile(uri) {
			return &svc, nil
		}
	}
	return nil, ErrServiceNotFound
}

// Lookup resolves the listener named instanceName.
func (r *Resolver) Lookup(ctx context.Context, serviceType ServiceType, instanceName string) (*ResolvedService, error) {
	service := serviceType.ServiceString()
	if service == "" {
		return nil, ErrInvalidServiceType
	}

	var cancel context.CancelFunc
	if _, ok := ctx.Deadline(); !ok {
		ctx, cancel = context.WithTimeout(ctx, r.config.LookupTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		defer close(entries)
		_ = r.resolver.Lookup(ctx, instanceName, service, DefaultDomain, entries)
	}()

	select {
	case entry, ok := <-entries:
		if ok && entry != nil {
			svc := entryToResolvedService(entry, serviceType)
			return &svc, nil
		}
		if ctx.Err() != nil {
			return nil, lookupError(ctx.Err())
		}
		return nil, ErrServiceNotFound
	case <-ctx.Done():
		return nil, lookupError(ctx.Err())
	}
}

func lookupError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}

// entryToResolvedService decodes the addresses and listener TXT of entry.
func entryToResolvedService(entry *zeroconf.ServiceEntry, serviceType ServiceType) ResolvedService {
	var allIPs []net.IP
	allIPs = append(allIPs, entry.AddrIPv6...)
	allIPs = append(allIPs, entry.AddrIPv4...)

	svc := ResolvedService{
		ServiceType:  serviceType,
		InstanceName: entry.Instance,
		HostName:     entry.HostName,
		Port:         entry.Port,
		IPs:          SortIPsByPreference(allIPs),
		Text:         ParseTXT(entry.Text),
	}
	if txt, err := ParseListenerTXT(entry.Text); err == nil {
		svc.Listener = txt
	}
	return svc
}
