package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/grandcat/zeroconf"
)

const echoProfile = "http://example.com/beep/echo"

func newTestResolver(t *testing.T, mock *MockMDNSResolver) *Resolver {
	t.Helper()
	r, err := NewResolver(ResolverConfig{
		MDNSResolver:  mock,
		BrowseTimeout: time.Second,
		LookupTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}
	return r
}

func TestNewResolver_Defaults(t *testing.T) {
	r, err := NewResolver(ResolverConfig{MDNSResolver: NewMockMDNSResolver()})
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}
	if r.config.BrowseTimeout != DefaultBrowseTimeout {
		t.Errorf("BrowseTimeout = %v, want %v", r.config.BrowseTimeout, DefaultBrowseTimeout)
	}
	if r.config.LookupTimeout != DefaultLookupTimeout {
		t.Errorf("LookupTimeout = %v, want %v", r.config.LookupTimeout, DefaultLookupTimeout)
	}
}

func TestResolver_Browse(t *testing.T) {
	mock := NewMockMDNSResolver()
	mock.RegisterService(ServiceTCP, MockListenerService("a", ServiceTypeTCP, 10288, net.ParseIP("192.168.1.2"), echoProfile))
	mock.RegisterService(ServiceTCP, MockListenerService("b", ServiceTypeTCP, 10289, net.ParseIP("fd00::2")))
	mock.RegisterService(ServiceQUIC, MockListenerService("c", ServiceTypeQUIC, 10288, net.ParseIP("10.0.0.3")))
	r := newTestResolver(t, mock)

	results, err := r.Browse(t.Context(), ServiceTypeTCP)
	if err != nil {
		t.Fatalf("Browse() error = %v", err)
	}
	var names []string
	for svc := range results {
		names = append(names, svc.InstanceName)
		if svc.ServiceType != ServiceTypeTCP {
			t.Errorf("ServiceType = %v, want TCP", svc.ServiceType)
		}
	}
	if diff := cmp.Diff([]string{"a", "b"}, names); diff != "" {
		t.Errorf("Browse() instances mismatch (-want +got):\n%s", diff)
	}
}

func TestResolver_BrowseInvalidType(t *testing.T) {
	r := newTestResolver(t, NewMockMDNSResolver())
	if _, err := r.Browse(t.Context(), ServiceTypeUnknown); !errors.Is(err, ErrInvalidServiceType) {
		t.Errorf("Browse() error = %v, want ErrInvalidServiceType", err)
	}
}

func TestResolver_Lookup(t *testing.T) {
	mock := NewMockMDNSResolver()
	mock.RegisterService(ServiceTCP, MockListenerService("a", ServiceTypeTCP, 10288, net.ParseIP("192.168.1.2"), echoProfile))
	r := newTestResolver(t, mock)

	svc, err := r.Lookup(t.Context(), ServiceTypeTCP, "a")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if svc.Port != 10288 {
		t.Errorf("Port = %d, want 10288", svc.Port)
	}
	if got := svc.PreferredIP(); !got.Equal(net.ParseIP("192.168.1.2")) {
		t.Errorf("PreferredIP() = %v, want 192.168.1.2", got)
	}
	if diff := cmp.Diff([]string{"192.168.1.2:10288"}, svc.DialAddrs()); diff != "" {
		t.Errorf("DialAddrs() mismatch (-want +got):\n%s", diff)
	}
	if !svc.HasProfile(echoProfile) {
		t.Errorf("HasProfile(%q) = false, want true", echoProfile)
	}
	if svc.Text[TXTKeyVersion] != "1" {
		t.Errorf("Text[txtvers] = %q, want 1", svc.Text[TXTKeyVersion])
	}
}

func TestResolver_LookupNotFound(t *testing.T) {
	r := newTestResolver(t, NewMockMDNSResolver())
	_, err := r.Lookup(t.Context(), ServiceTypeTCP, "missing")
	if !errors.Is(err, ErrServiceNotFound) && !errors.Is(err, ErrTimeout) {
		t.Errorf("Lookup() error = %v, want ErrServiceNotFound or ErrTimeout", err)
	}
}

func TestResolver_LookupCancelled(t *testing.T) {
	blocking := &blockingResolver{}
	r, err := NewResolver(ResolverConfig{MDNSResolver: blocking})
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, err := r.Lookup(ctx, ServiceTypeTCP, "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("Lookup() error = %v, want context.Canceled", err)
	}
}

func TestResolver_LookupTimeout(t *testing.T) {
	r, err := NewResolver(ResolverConfig{
		MDNSResolver:  &blockingResolver{},
		LookupTimeout: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}
	if _, err := r.Lookup(t.Context(), ServiceTypeTCP, "x"); !errors.Is(err, ErrTimeout) {
		t.Errorf("Lookup() error = %v, want ErrTimeout", err)
	}
}

func TestResolver_FindProfile(t *testing.T) {
	mock := NewMockMDNSResolver()
	mock.RegisterService(ServiceTCP, MockListenerService("plain", ServiceTypeTCP, 10288, net.ParseIP("10.0.0.1")))
	mock.RegisterService(ServiceTCP, MockListenerService("echo", ServiceTypeTCP, 10290, net.ParseIP("10.0.0.2"), echoProfile))
	r := newTestResolver(t, mock)

	svc, err := r.FindProfile(t.Context(), ServiceTypeTCP, echoProfile)
	if err != nil {
		t.Fatalf("FindProfile() error = %v", err)
	}
	if svc.InstanceName != "echo" {
		t.Errorf("InstanceName = %q, want echo", svc.InstanceName)
	}

	if _, err := r.FindProfile(t.Context(), ServiceTypeTCP, "http://example.com/none"); !errors.Is(err, ErrServiceNotFound) {
		t.Errorf("FindProfile(none) error = %v, want ErrServiceNotFound", err)
	}
}

func TestResolver_MalformedTXT(t *testing.T) {
	mock := NewMockMDNSResolver()
	entry := MockListenerService("bad", ServiceTypeTCP, 10288, net.ParseIP("10.0.0.1"))
	entry.Text = []string{"profileX=oops"}
	mock.RegisterService(ServiceTCP, entry)
	r := newTestResolver(t, mock)

	svc, err := r.Lookup(t.Context(), ServiceTypeTCP, "bad")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if svc.Listener != nil {
		t.Errorf("Listener = %+v, want nil", svc.Listener)
	}
	if svc.HasProfile("oops") {
		t.Error("HasProfile() = true for malformed record")
	}
}

func TestAdvertiseAndDiscover(t *testing.T) {
	factory := &MockServerFactory{}
	adv, err := NewAdvertiser(AdvertiserConfig{InstanceName: "listener", ServerFactory: factory})
	if err != nil {
		t.Fatalf("NewAdvertiser() error = %v", err)
	}
	if err := adv.Start(ServiceTypeQUIC, 4433, ListenerTXT{Profiles: []string{echoProfile}}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	mock := NewMockMDNSResolver()
	factory.Publish(mock, net.ParseIP("2001:db8::5"))
	r := newTestResolver(t, mock)

	svc, err := r.FindProfile(t.Context(), ServiceTypeQUIC, echoProfile)
	if err != nil {
		t.Fatalf("FindProfile() error = %v", err)
	}
	if diff := cmp.Diff([]string{"[2001:db8::5]:4433"}, svc.DialAddrs()); diff != "" {
		t.Errorf("DialAddrs() mismatch (-want +got):\n%s", diff)
	}
}

// blockingResolver never answers.
type blockingResolver struct{}

func (blockingResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingResolver) Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	<-ctx.Done()
	return ctx.Err()
}
