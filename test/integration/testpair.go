// Package integration provides end-to-end tests running the echo listener
// and an initiating peer over each transport.
package integration

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/backkem/beep/examples/echo"
	"github.com/backkem/beep/pkg/beep"
	"github.com/backkem/beep/pkg/management"
	"github.com/backkem/beep/pkg/session"
	"github.com/backkem/beep/pkg/transport"
	"github.com/pion/logging"
)

// TransportKind selects how a TestPair is connected.
type TransportKind int

const (
	TransportPipe TransportKind = iota
	TransportTCP
	TransportQUIC
)

func (k TransportKind) String() string {
	switch k {
	case TransportPipe:
		return "pipe"
	case TransportTCP:
		return "tcp"
	case TransportQUIC:
		return "quic"
	default:
		return fmt.Sprintf("TransportKind(%d)", int(k))
	}
}

// AllTransports lists every transport a TestPair can run on.
var AllTransports = []TransportKind{TransportPipe, TransportTCP, TransportQUIC}

// TestPairConfig configures the test pair creation.
type TestPairConfig struct {
	Transport TransportKind

	// WindowSize is used by both peers. Zero means the default window.
	WindowSize uint32

	// StartTimeout bounds the greeting exchange.
	// Defaults to 5 seconds.
	StartTimeout time.Duration

	// LoggerFactory for logging. If nil, uses DefaultLoggerFactory.
	LoggerFactory logging.LoggerFactory
}

// TestPair holds an echo listener and an initiator whose session is open.
type TestPair struct {
	Server  *beep.Server
	Client  *beep.Peer
	Session *session.Session
	Handler *ClientHandler

	t            *testing.T
	clientCancel context.CancelFunc
	serverCancel context.CancelFunc
	served       chan error
	stopOnce     sync.Once
}

// NewTestPair creates a pair over kind with default settings.
func NewTestPair(t *testing.T, kind TransportKind) *TestPair {
	return NewTestPairWithConfig(t, TestPairConfig{Transport: kind})
}

// NewTestPairWithConfig creates a pair and waits for both greetings.
// The pair is closed when the test ends.
func NewTestPairWithConfig(t *testing.T, config TestPairConfig) *TestPair {
	t.Helper()

	if config.StartTimeout == 0 {
		config.StartTimeout = 5 * time.Second
	}
	lf := config.LoggerFactory
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}

	ln, dial := listen(t, config.Transport, lf)
	srv, err := beep.NewServer(beep.ServerConfig{
		Listener:      ln,
		NewHandler:    func(*transport.Conn) session.Handler { return echo.NewServerHandler(lf) },
		WindowSize:    config.WindowSize,
		LoggerFactory: lf,
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	serverCtx, serverCancel := context.WithCancel(context.Background())
	clientCtx, clientCancel := context.WithCancel(context.Background())
	p := &TestPair{
		Server:       srv,
		Handler:      NewClientHandler(),
		t:            t,
		clientCancel: clientCancel,
		serverCancel: serverCancel,
		served:       make(chan error, 1),
	}
	go func() { p.served <- srv.Serve(serverCtx) }()
	t.Cleanup(p.Close)

	dialCtx, dialCancel := context.WithTimeout(clientCtx, config.StartTimeout)
	defer dialCancel()
	p.Client, err = dial(dialCtx, beep.Config{
		Handler:       p.Handler,
		WindowSize:    config.WindowSize,
		LoggerFactory: lf,
	})
	if err != nil {
		t.Fatalf("dial %s: %v", config.Transport, err)
	}
	go p.Client.Run(clientCtx)

	select {
	case p.Session = <-p.Handler.Opened:
	case code := <-p.Handler.Declined:
		t.Fatalf("session declined: %d", code)
	case <-dialCtx.Done():
		t.Fatalf("session over %s not opened: %v", config.Transport, dialCtx.Err())
	}
	return p
}

type dialFunc func(ctx context.Context, config beep.Config) (*beep.Peer, error)

func listen(t *testing.T, kind TransportKind, lf logging.LoggerFactory) (transport.Listener, dialFunc) {
	t.Helper()

	switch kind {
	case TransportPipe:
		pipe := transport.NewPipeWithConfig(transport.PipeConfig{
			AutoProcess:   true,
			LoggerFactory: lf,
		})
		t.Cleanup(func() { _ = pipe.Close() })
		return pipe.Listener(), func(_ context.Context, config beep.Config) (*beep.Peer, error) {
			config.Initiator = true
			return beep.NewPeer(pipe.Conn0(), config)
		}

	case TransportTCP:
		ln, err := transport.NewTCPListener(transport.TCPConfig{
			ListenAddr:    "127.0.0.1:0",
			LoggerFactory: lf,
		})
		if err != nil {
			t.Fatalf("NewTCPListener() error = %v", err)
		}
		addr := ln.Addr().String()
		return ln, func(ctx context.Context, config beep.Config) (*beep.Peer, error) {
			return beep.DialTCP(ctx, addr, config)
		}

	case TransportQUIC:
		tlsConfig, err := transport.GenerateTLSConfig()
		if err != nil {
			t.Fatalf("GenerateTLSConfig() error = %v", err)
		}
		ln, err := transport.NewQUICListener(transport.QUICConfig{
			ListenAddr:    "127.0.0.1:0",
			TLSConfig:     tlsConfig,
			LoggerFactory: lf,
		})
		if err != nil {
			t.Fatalf("NewQUICListener() error = %v", err)
		}
		addr := ln.Addr().String()
		return ln, func(ctx context.Context, config beep.Config) (*beep.Peer, error) {
			return beep.DialQUIC(ctx, addr, tlsConfig, config)
		}

	default:
		t.Fatalf("unknown transport %v", kind)
		return nil, nil
	}
}

// Port returns the listening port, or 0 for a pipe.
func (p *TestPair) Port() int {
	_, port, err := net.SplitHostPort(p.Server.Addr())
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(port)
	return n
}

// Context returns a context bounded by d.
func (p *TestPair) Context(d time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	p.t.Cleanup(cancel)
	return ctx
}

// StopServer stops the listener and drops every connection it accepted.
// It is safe to call twice.
func (p *TestPair) StopServer() {
	p.stopOnce.Do(func() {
		p.serverCancel()
		select {
		case err := <-p.served:
			if err != nil {
				p.t.Errorf("Serve() error = %v", err)
			}
		case <-time.After(5 * time.Second):
			p.t.Error("Serve did not return")
		}
	})
}

// Close stops the client and the server.
func (p *TestPair) Close() {
	p.clientCancel()
	if p.Client != nil {
		<-p.Client.Done()
	}
	p.StopServer()
}

// ClientHandler is the session handler of the initiator. It refuses every
// channel the listener tries to start.
type ClientHandler struct {
	Opened   chan *session.Session
	Declined chan management.ReplyCode
	Closed   chan struct{}

	once sync.Once
}

// NewClientHandler creates a handler with buffered notification channels.
func NewClientHandler() *ClientHandler {
	return &ClientHandler{
		Opened:   make(chan *session.Session, 1),
		Declined: make(chan management.ReplyCode, 1),
		Closed:   make(chan struct{}),
	}
}

func (h *ClientHandler) ConnectionEstablished(req session.StartSessionRequest) {}

func (h *ClientHandler) SessionOpened(s *session.Session) { h.Opened <- s }

func (h *ClientHandler) SessionStartDeclined(code management.ReplyCode, msg string) {
	h.Declined <- code
}

func (h *ClientHandler) ChannelStartRequested(req session.StartChannelRequest) {
	req.Cancel(management.CodeRequestedNotTaken, "initiator offers no profiles")
}

func (h *ClientHandler) SessionClosed() {
	h.once.Do(func() { close(h.Closed) })
}
