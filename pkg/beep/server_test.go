package beep

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/backkem/beep/pkg/discovery"
	"github.com/backkem/beep/pkg/message"
	"github.com/backkem/beep/pkg/session"
	"github.com/backkem/beep/pkg/transport"
	"github.com/pion/logging"
)

func TestNewServer_Errors(t *testing.T) {
	pipe := transport.NewPipe()
	defer pipe.Close()

	handler := func(*transport.Conn) session.Handler { return newPeerHandler() }
	tests := []struct {
		name    string
		config  ServerConfig
		wantErr error
	}{
		{"no listener", ServerConfig{NewHandler: handler}, ErrNoListener},
		{"no handler", ServerConfig{Listener: pipe.Listener()}, ErrNoHandler},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewServer(tt.config); !errors.Is(err, tt.wantErr) {
				t.Errorf("NewServer() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestServer_Pipe(t *testing.T) {
	pipe := transport.NewPipe()
	t.Cleanup(func() { _ = pipe.Close() })

	serverH := newPeerHandler(echoURI)
	srv, err := NewServer(ServerConfig{
		Listener:      pipe.Listener(),
		NewHandler:    func(*transport.Conn) session.Handler { return serverH },
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx) }()

	clientH := newPeerHandler()
	client, err := NewPeer(pipe.Conn0(), Config{Initiator: true, Handler: clientH})
	if err != nil {
		t.Fatalf("NewPeer() error = %v", err)
	}
	go client.Run(t.Context())

	recv(t, clientH.opened, "client session")
	recv(t, serverH.opened, "server session")
	if got := srv.PeerCount(); got != 1 {
		t.Errorf("PeerCount() = %d, want 1", got)
	}
	if err := srv.Serve(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Serve() error = %v, want ErrAlreadyRunning", err)
	}

	cancel()
	if err := recv(t, served, "Serve"); err != nil {
		t.Errorf("Serve() error = %v, want nil", err)
	}
	waitClosed(t, serverH.closed, "server SessionClosed")
	waitClosed(t, clientH.closed, "client SessionClosed")
	if got := srv.PeerCount(); got != 0 {
		t.Errorf("PeerCount() after Serve = %d, want 0", got)
	}
}

func TestServer_RejectsWithoutHandler(t *testing.T) {
	pipe := transport.NewPipe()
	t.Cleanup(func() { _ = pipe.Close() })

	srv, err := NewServer(ServerConfig{
		Listener:   pipe.Listener(),
		NewHandler: func(*transport.Conn) session.Handler { return nil },
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	go srv.Serve(t.Context())

	clientH := newPeerHandler()
	client, err := NewPeer(pipe.Conn0(), Config{Initiator: true, Handler: clientH})
	if err != nil {
		t.Fatalf("NewPeer() error = %v", err)
	}
	go client.Run(t.Context())

	waitClosed(t, clientH.closed, "client SessionClosed")
	select {
	case s := <-clientH.opened:
		t.Errorf("session %s opened without a listener handler", s.ID())
	default:
	}
}

func newTCPServer(t *testing.T) (*tcpTestServer, *peerHandler) {
	t.Helper()
	ln, err := transport.NewTCPListener(transport.TCPConfig{ListenAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("NewTCPListener() error = %v", err)
	}
	serverH := newPeerHandler(echoURI)
	srv, err := NewServer(ServerConfig{
		Listener:   ln,
		NewHandler: func(*transport.Conn) session.Handler { return serverH },
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &tcpTestServer{Server: srv, Port: ln.Addr().(*net.TCPAddr).Port}, serverH
}

// tcpTestServer is a Server on a loopback TCP port.
type tcpTestServer struct {
	*Server
	Port int
}

func TestDialTCP_Echo(t *testing.T) {
	srv, serverH := newTCPServer(t)

	clientH := newPeerHandler()
	client, err := DialTCP(t.Context(), srv.Addr(), Config{Handler: clientH})
	if err != nil {
		t.Fatalf("DialTCP() error = %v", err)
	}
	go client.Run(t.Context())

	s := recv(t, clientH.opened, "client session")
	recv(t, serverH.opened, "server session")
	if !s.Initiator() {
		t.Error("dialed session is not the initiator")
	}

	pp := &peerPair{client: client, clientH: clientH, serverH: serverH}
	ch, _ := startEcho(t, pp)

	r := newReplies()
	body := strings.Repeat("tcp ", 3000)
	if err := ch.SendMessage(message.New("", []byte(body)), r.funs); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if got := recv(t, r.rpy, "RPY"); string(got.Body) != body {
		t.Errorf("RPY body length = %d, want %d", len(got.Body), len(body))
	}

	chClosed := make(chan struct{})
	if err := ch.Close(session.CloseFuncs{Accepted: func() { close(chClosed) }}); err != nil {
		t.Fatalf("Channel.Close() error = %v", err)
	}
	waitClosed(t, chClosed, "channel close")
	if err := s.Close(session.CloseFuncs{}); err != nil {
		t.Fatalf("Session.Close() error = %v", err)
	}
	waitClosed(t, client.Done(), "client Run")
	if err := client.Err(); err != nil {
		t.Errorf("client Run() error = %v, want nil", err)
	}
	waitClosed(t, serverH.closed, "server SessionClosed")
}

func TestDialTCP_Errors(t *testing.T) {
	if _, err := DialTCP(t.Context(), "", Config{Handler: newPeerHandler()}); !errors.Is(err, transport.ErrInvalidAddress) {
		t.Errorf("DialTCP(\"\") error = %v, want ErrInvalidAddress", err)
	}

	srv, _ := newTCPServer(t)
	if _, err := DialTCP(t.Context(), srv.Addr(), Config{}); !errors.Is(err, ErrNoHandler) {
		t.Errorf("DialTCP(no handler) error = %v, want ErrNoHandler", err)
	}
}

func TestDialService(t *testing.T) {
	srv, serverH := newTCPServer(t)

	svc := &discovery.ResolvedService{
		ServiceType:  discovery.ServiceTypeTCP,
		InstanceName: "test",
		Port:         srv.Port,
		IPs:          []net.IP{net.ParseIP("127.0.0.1")},
	}
	clientH := newPeerHandler()
	client, err := DialService(t.Context(), svc, nil, Config{Handler: clientH})
	if err != nil {
		t.Fatalf("DialService() error = %v", err)
	}
	go client.Run(t.Context())

	recv(t, clientH.opened, "client session")
	recv(t, serverH.opened, "server session")
}

func TestDialService_NoAddresses(t *testing.T) {
	svc := &discovery.ResolvedService{ServiceType: discovery.ServiceTypeTCP, InstanceName: "empty"}
	if _, err := DialService(t.Context(), svc, nil, Config{Handler: newPeerHandler()}); err == nil {
		t.Error("DialService() error = nil, want error")
	}
}
