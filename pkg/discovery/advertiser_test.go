package discovery

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pion/logging"
)

func newTestAdvertiser(t *testing.T) (*Advertiser, *MockServerFactory) {
	t.Helper()
	factory := &MockServerFactory{}
	adv, err := NewAdvertiser(AdvertiserConfig{
		InstanceName:  "node-a",
		ServerFactory: factory,
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("NewAdvertiser() error = %v", err)
	}
	return adv, factory
}

func TestNewAdvertiser_DefaultInstanceName(t *testing.T) {
	adv, err := NewAdvertiser(AdvertiserConfig{ServerFactory: &MockServerFactory{}})
	if err != nil {
		t.Fatalf("NewAdvertiser() error = %v", err)
	}
	name := adv.InstanceName()
	if name == "" || !strings.Contains(name, "-") {
		t.Errorf("InstanceName() = %q, want <host>-<suffix>", name)
	}
}

func TestAdvertiser_Start(t *testing.T) {
	adv, factory := newTestAdvertiser(t)

	txt := ListenerTXT{Profiles: []string{"http://example.com/echo"}}
	if err := adv.Start(ServiceTypeTCP, 10288, txt); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !adv.IsAdvertising(ServiceTypeTCP) {
		t.Error("IsAdvertising(TCP) = false, want true")
	}
	if adv.IsAdvertising(ServiceTypeQUIC) {
		t.Error("IsAdvertising(QUIC) = true, want false")
	}

	want := []MockRegistration{{
		Instance: "node-a",
		Service:  ServiceTCP,
		Domain:   DefaultDomain,
		Port:     10288,
		Text:     []string{"txtvers=1", "profile1=http://example.com/echo"},
	}}
	if diff := cmp.Diff(want, factory.Registrations()); diff != "" {
		t.Errorf("registrations mismatch (-want +got):\n%s", diff)
	}
}

func TestAdvertiser_StartErrors(t *testing.T) {
	adv, factory := newTestAdvertiser(t)

	tests := []struct {
		name    string
		st      ServiceType
		port    int
		txt     ListenerTXT
		wantErr error
	}{
		{"unknown type", ServiceTypeUnknown, 10288, ListenerTXT{}, ErrInvalidServiceType},
		{"port zero", ServiceTypeTCP, 0, ListenerTXT{}, ErrInvalidPort},
		{"port too large", ServiceTypeTCP, 70000, ListenerTXT{}, ErrInvalidPort},
		{"bad txt", ServiceTypeTCP, 10288, ListenerTXT{Profiles: []string{""}}, ErrInvalidTXTRecord},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := adv.Start(tt.st, tt.port, tt.txt)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Start() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if n := len(factory.Registrations()); n != 0 {
		t.Errorf("registrations = %d, want 0", n)
	}
}

func TestAdvertiser_StartTwice(t *testing.T) {
	adv, _ := newTestAdvertiser(t)
	if err := adv.Start(ServiceTypeQUIC, 10288, ListenerTXT{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := adv.Start(ServiceTypeQUIC, 10288, ListenerTXT{}); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestAdvertiser_RegisterFails(t *testing.T) {
	adv, factory := newTestAdvertiser(t)
	factory.Fail = true
	if err := adv.Start(ServiceTypeTCP, 10288, ListenerTXT{}); err == nil {
		t.Fatal("Start() error = nil, want error")
	}
	if adv.IsAdvertising(ServiceTypeTCP) {
		t.Error("IsAdvertising(TCP) = true after failed Start")
	}
}

func TestAdvertiser_Stop(t *testing.T) {
	adv, factory := newTestAdvertiser(t)

	if err := adv.Stop(ServiceTypeTCP); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Stop() before Start error = %v, want ErrNotStarted", err)
	}
	if err := adv.Start(ServiceTypeTCP, 10288, ListenerTXT{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := adv.Stop(ServiceTypeTCP); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if adv.IsAdvertising(ServiceTypeTCP) {
		t.Error("IsAdvertising(TCP) = true after Stop")
	}
	regs := factory.Registrations()
	if len(regs) != 1 || !regs[0].Shutdown {
		t.Errorf("registrations = %+v, want one shut down", regs)
	}
}

func TestAdvertiser_Close(t *testing.T) {
	adv, factory := newTestAdvertiser(t)
	_ = adv.Start(ServiceTypeTCP, 10288, ListenerTXT{})
	_ = adv.Start(ServiceTypeQUIC, 10289, ListenerTXT{})

	if err := adv.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	for _, reg := range factory.Registrations() {
		if !reg.Shutdown {
			t.Errorf("registration %s not shut down", reg.Service)
		}
	}
	if err := adv.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close() error = %v, want ErrClosed", err)
	}
	if err := adv.Start(ServiceTypeTCP, 10288, ListenerTXT{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Start() after Close error = %v, want ErrClosed", err)
	}
	if err := adv.Stop(ServiceTypeTCP); !errors.Is(err, ErrClosed) {
		t.Errorf("Stop() after Close error = %v, want ErrClosed", err)
	}
}

func TestAdvertiser_AdvertiseUntil(t *testing.T) {
	adv, factory := newTestAdvertiser(t)
	ctx, cancel := context.WithCancel(t.Context())

	done := make(chan error, 1)
	go func() {
		done <- adv.AdvertiseUntil(ctx, ServiceTypeTCP, 10288, ListenerTXT{})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !adv.IsAdvertising(ServiceTypeTCP) {
		if time.Now().After(deadline) {
			t.Fatal("service never advertised")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("AdvertiseUntil() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("AdvertiseUntil() did not return")
	}
	if diff := cmp.Diff([]MockRegistration{{Instance: "node-a", Service: ServiceTCP, Domain: DefaultDomain, Port: 10288, Text: []string{"txtvers=1"}, Shutdown: true}},
		factory.Registrations(), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("registrations mismatch (-want +got):\n%s", diff)
	}
}
