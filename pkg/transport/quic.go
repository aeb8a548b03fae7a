package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/quic-go/quic-go"
)

// ALPN is the application protocol negotiated for BEEP over QUIC.
const ALPN = "beep"

// quicCloseTimeout bounds how long a closing stream waits for the peer to
// read the remaining data.
const quicCloseTimeout = 2 * time.Second

// QUICConfig configures QUIC listeners and dialers.
type QUICConfig struct {
	// ListenAddr is the UDP address to listen on (e.g., ":10288").
	ListenAddr string

	// TLSConfig is required. NextProtos defaults to ALPN.
	TLSConfig *tls.Config

	// AcceptBacklog is the number of connections queued for Accept.
	// Default: 16
	AcceptBacklog int

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// QUICListener accepts BEEP sessions, each carried by the first
// bidirectional stream of a QUIC connection.
type QUICListener struct {
	udpConn       *net.UDPConn
	listener      *quic.Listener
	loggerFactory logging.LoggerFactory
	log           logging.LeveledLogger

	conns   chan *Conn
	closeCh chan struct{}
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewQUICListener starts listening with the given configuration.
func NewQUICListener(config QUICConfig) (*QUICListener, error) {
	if config.TLSConfig == nil {
		return nil, ErrNoTLSConfig
	}
	addr := config.ListenAddr
	if addr == "" {
		addr = ":0"
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	ln, err := quic.Listen(udpConn, withALPN(config.TLSConfig), nil)
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("create QUIC listener: %w", err)
	}

	backlog := config.AcceptBacklog
	if backlog <= 0 {
		backlog = 16
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &QUICListener{
		udpConn:       udpConn,
		listener:      ln,
		loggerFactory: config.LoggerFactory,
		conns:         make(chan *Conn, backlog),
		closeCh:       make(chan struct{}),
		ctx:           ctx,
		cancel:        cancel,
	}
	if config.LoggerFactory != nil {
		l.log = config.LoggerFactory.NewLogger("transport-quic")
		l.log.Infof("listening on %s", ln.Addr())
	}

	l.wg.Add(1)
	go l.acceptLoop()
	return l, nil
}

// acceptLoop accepts connections and waits for their first stream.
func (l *QUICListener) acceptLoop() {
	defer l.wg.Done()

	for {
		qc, err := l.listener.Accept(l.ctx)
		if err != nil {
			if l.ctx.Err() != nil {
				return
			}
			if l.log != nil {
				l.log.Debugf("accept: %v", err)
			}
			continue
		}

		l.wg.Add(1)
		go l.acceptStream(qc)
	}
}

// acceptStream hands the connection to Accept once the peer opened its
// stream. The stream becomes visible with the peer's first data, which
// is its greeting.
func (l *QUICListener) acceptStream(qc *quic.Conn) {
	defer l.wg.Done()

	stream, err := qc.AcceptStream(l.ctx)
	if err != nil {
		qc.CloseWithError(0, "no stream")
		return
	}

	c := NewConn(&quicStream{conn: qc, Stream: stream}, ConnConfig{
		Type:          TransportTypeQUIC,
		LocalAddr:     qc.LocalAddr(),
		RemoteAddr:    qc.RemoteAddr(),
		LoggerFactory: l.loggerFactory,
	})

	select {
	case l.conns <- c:
	case <-l.closeCh:
		c.Close()
	}
}

// Accept implements Listener.
func (l *QUICListener) Accept(ctx context.Context) (*Conn, error) {
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closeCh:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrClosed
	}
}

// Close implements Listener.
func (l *QUICListener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	if l.log != nil {
		l.log.Info("stopping QUIC listener")
	}

	close(l.closeCh)
	l.cancel()
	err := l.listener.Close()
	l.wg.Wait()
	l.udpConn.Close()
	return err
}

// Addr implements Listener.
func (l *QUICListener) Addr() net.Addr {
	return l.listener.Addr()
}

// DialQUIC connects to a BEEP listener over QUIC and opens the session
// stream.
func DialQUIC(ctx context.Context, addr string, config QUICConfig) (*Conn, error) {
	if config.TLSConfig == nil {
		return nil, ErrNoTLSConfig
	}

	remoteAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("create UDP socket: %w", err)
	}

	qc, err := quic.Dial(ctx, udpConn, remoteAddr, withALPN(config.TLSConfig), nil)
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}

	stream, err := qc.OpenStreamSync(ctx)
	if err != nil {
		qc.CloseWithError(0, "failed to open stream")
		udpConn.Close()
		return nil, fmt.Errorf("open stream: %w", err)
	}

	if config.LoggerFactory != nil {
		config.LoggerFactory.NewLogger("transport-quic").Debugf("connected to %s", qc.RemoteAddr())
	}
	return NewConn(&quicStream{conn: qc, Stream: stream, udpConn: udpConn}, ConnConfig{
		Type:          TransportTypeQUIC,
		LocalAddr:     qc.LocalAddr(),
		RemoteAddr:    qc.RemoteAddr(),
		LoggerFactory: config.LoggerFactory,
	}), nil
}

// quicStream closes the whole QUIC connection with its stream.
type quicStream struct {
	*quic.Stream
	conn    *quic.Conn
	udpConn *net.UDPConn // owned by dialers only
}

func (s *quicStream) Close() error {
	err := s.Stream.Close()

	// Give the peer a chance to read what is in flight and close first.
	select {
	case <-s.conn.Context().Done():
	case <-time.After(quicCloseTimeout):
	}
	s.conn.CloseWithError(0, "")

	if s.udpConn != nil {
		s.udpConn.Close()
	}
	return err
}

func withALPN(c *tls.Config) *tls.Config {
	if len(c.NextProtos) > 0 {
		return c
	}
	c = c.Clone()
	c.NextProtos = []string{ALPN}
	return c
}

// GenerateTLSConfig returns a TLS configuration with a fresh self-signed
// certificate. Peers using it do not verify each other.
func GenerateTLSConfig() (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{certDER},
			PrivateKey:  key,
		}},
		NextProtos:         []string{ALPN},
		InsecureSkipVerify: true,
	}, nil
}

var _ Listener = (*QUICListener)(nil)
