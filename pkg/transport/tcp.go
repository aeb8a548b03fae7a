package transport

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/pion/logging"
)

// Listener accepts BEEP transport connections.
type Listener interface {
	// Accept waits for the next connection. Cancelling ctx closes the
	// listener.
	Accept(ctx context.Context) (*Conn, error)

	// Close stops accepting. Connections already returned stay open.
	Close() error

	// Addr returns the listening address.
	Addr() net.Addr
}

// TCPConfig configures TCP listeners and dialers.
type TCPConfig struct {
	// Listener is an optional pre-existing Listener to use.
	// If nil, a new listener will be created using ListenAddr.
	Listener net.Listener

	// ListenAddr is the address to listen on (e.g., ":10288").
	// Ignored if Listener is provided.
	ListenAddr string

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// TCPListener accepts BEEP sessions over TCP (RFC 3081).
type TCPListener struct {
	listener      net.Listener
	loggerFactory logging.LoggerFactory
	log           logging.LeveledLogger

	mu     sync.Mutex
	closed bool
}

// NewTCPListener creates a listener with the given configuration.
func NewTCPListener(config TCPConfig) (*TCPListener, error) {
	l := &TCPListener{
		listener:      config.Listener,
		loggerFactory: config.LoggerFactory,
	}
	if config.LoggerFactory != nil {
		l.log = config.LoggerFactory.NewLogger("transport-tcp")
	}

	if l.listener == nil {
		addr := config.ListenAddr
		if addr == "" {
			addr = ":0" // Use ephemeral port
		}
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, err
		}
		l.listener = listener
	}

	if l.log != nil {
		l.log.Infof("listening on %s", l.listener.Addr())
	}
	return l, nil
}

// Accept implements Listener.
func (l *TCPListener) Accept(ctx context.Context) (*Conn, error) {
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	nc, err := l.listener.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if l.isClosed() || errors.Is(err, net.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, err
	}

	if l.log != nil {
		l.log.Debugf("accepted %s", nc.RemoteAddr())
	}
	return NewConn(nc, ConnConfig{Type: TransportTypeTCP, LoggerFactory: l.loggerFactory}), nil
}

// Close implements Listener.
func (l *TCPListener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	if l.log != nil {
		l.log.Info("stopping TCP listener")
	}
	return l.listener.Close()
}

// Addr implements Listener.
func (l *TCPListener) Addr() net.Addr {
	return l.listener.Addr()
}

func (l *TCPListener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// DialTCP connects to a BEEP listener over TCP.
func DialTCP(ctx context.Context, addr string, config TCPConfig) (*Conn, error) {
	if addr == "" {
		return nil, ErrInvalidAddress
	}

	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	if config.LoggerFactory != nil {
		config.LoggerFactory.NewLogger("transport-tcp").Debugf("connected to %s", nc.RemoteAddr())
	}
	return NewConn(nc, ConnConfig{Type: TransportTypeTCP, LoggerFactory: config.LoggerFactory}), nil
}

var _ Listener = (*TCPListener)(nil)
