package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v3/test"
)

// maxPipePacket bounds one packet read from the bridge.
const maxPipePacket = 64 * 1024

// Every bridge packet starts with a kind octet.
const (
	pipeData byte = iota
	pipeEOF
)

// PipeConfig configures a Pipe.
type PipeConfig struct {
	// AutoProcess enables automatic delivery in a background goroutine.
	// Default: true
	AutoProcess bool

	// ProcessInterval is how often the auto-processor delivers packets.
	// Default: 1ms
	ProcessInterval time.Duration

	// LoggerFactory is handed to both connections.
	LoggerFactory logging.LoggerFactory
}

// DefaultPipeConfig returns the default pipe configuration.
func DefaultPipeConfig() PipeConfig {
	return PipeConfig{
		AutoProcess:     true,
		ProcessInterval: 1 * time.Millisecond,
	}
}

// Pipe connects two Conns in memory. It wraps pion's test.Bridge and gives
// its packets stream semantics: data arrives in order without loss, and
// closing one end is seen as end of stream by the other.
//
// By default, Pipe delivers data in a background goroutine. Disable
// AutoProcess to step delivery with Tick or Process.
type Pipe struct {
	bridge *test.Bridge
	conn0  *Conn
	conn1  *Conn

	mu              sync.Mutex
	closed          bool
	autoProcess     bool
	processInterval time.Duration
	stopCh          chan struct{}
	wg              sync.WaitGroup
}

// NewPipe creates a pipe with auto-processing enabled.
func NewPipe() *Pipe {
	return NewPipeWithConfig(DefaultPipeConfig())
}

// NewPipeWithConfig creates a pipe with the given configuration.
func NewPipeWithConfig(config PipeConfig) *Pipe {
	p := &Pipe{
		bridge:          test.NewBridge(),
		autoProcess:     config.AutoProcess,
		processInterval: config.ProcessInterval,
		stopCh:          make(chan struct{}),
	}
	if p.processInterval == 0 {
		p.processInterval = 1 * time.Millisecond
	}

	addr0, addr1 := PipeAddr{ID: 0}, PipeAddr{ID: 1}
	p.conn0 = NewConn(newPipeStream(p.bridge.GetConn0()), ConnConfig{
		Type: TransportTypePipe, LocalAddr: addr0, RemoteAddr: addr1, LoggerFactory: config.LoggerFactory,
	})
	p.conn1 = NewConn(newPipeStream(p.bridge.GetConn1()), ConnConfig{
		Type: TransportTypePipe, LocalAddr: addr1, RemoteAddr: addr0, LoggerFactory: config.LoggerFactory,
	})

	if p.autoProcess {
		p.startAutoProcess()
	}
	return p
}

func (p *Pipe) startAutoProcess() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.processInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.Process()
			}
		}
	}()
}

// SetAutoProcess enables or disables automatic delivery.
func (p *Pipe) SetAutoProcess(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.autoProcess == enabled {
		return
	}
	p.autoProcess = enabled

	if enabled {
		p.stopCh = make(chan struct{})
		p.startAutoProcess()
	} else {
		close(p.stopCh)
		p.wg.Wait()
	}
}

// Conn0 returns the connection of endpoint 0.
func (p *Pipe) Conn0() *Conn { return p.conn0 }

// Conn1 returns the connection of endpoint 1.
func (p *Pipe) Conn1() *Conn { return p.conn1 }

// Tick delivers one packet in each direction, if available, and returns
// the number delivered.
func (p *Pipe) Tick() int {
	return p.bridge.Tick()
}

// Process delivers all queued packets and returns the number delivered.
func (p *Pipe) Process() int {
	count := 0
	for {
		n := p.Tick()
		if n == 0 {
			return count
		}
		count += n
	}
}

// Listener returns a Listener that accepts Conn1 once. Dial side code uses
// Conn0.
func (p *Pipe) Listener() Listener {
	return &pipeListener{
		conn:    p.conn1,
		closeCh: make(chan struct{}),
	}
}

// Close closes both connections and stops auto-processing.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.autoProcess {
		close(p.stopCh)
	}
	p.mu.Unlock()

	p.wg.Wait()

	p.conn0.Close()
	p.conn1.Close()
	err0 := p.bridge.GetConn0().Close()
	err1 := p.bridge.GetConn1().Close()
	if err0 != nil {
		return err0
	}
	return err1
}

// PipeAddr implements net.Addr for pipe endpoints.
type PipeAddr struct {
	ID int // Endpoint ID (0 or 1)
}

// Network returns "pipe".
func (a PipeAddr) Network() string { return "pipe" }

// String returns a string representation of the address.
func (a PipeAddr) String() string { return fmt.Sprintf("pipe:%d", a.ID) }

// pipeStream turns the bridge's packets into a byte stream. A pipeEOF
// packet marks the end of the stream.
type pipeStream struct {
	conn     net.Conn
	packets  chan []byte
	done     chan struct{}
	once     sync.Once
	leftover []byte
}

func newPipeStream(conn net.Conn) *pipeStream {
	s := &pipeStream{
		conn:    conn,
		packets: make(chan []byte),
		done:    make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *pipeStream) pump() {
	defer close(s.packets)

	buf := make([]byte, maxPipePacket)
	for {
		n, err := s.conn.Read(buf)
		if err != nil {
			return
		}
		if n == 0 || buf[0] == pipeEOF {
			return
		}
		pkt := make([]byte, n-1)
		copy(pkt, buf[1:n])

		select {
		case s.packets <- pkt:
		case <-s.done:
			return
		}
	}
}

func (s *pipeStream) Read(p []byte) (int, error) {
	if len(s.leftover) > 0 {
		n := copy(p, s.leftover)
		s.leftover = s.leftover[n:]
		return n, nil
	}

	select {
	case pkt, ok := <-s.packets:
		if !ok {
			return 0, io.EOF
		}
		n := copy(p, pkt)
		s.leftover = pkt[n:]
		return n, nil
	case <-s.done:
		return 0, io.EOF
	}
}

func (s *pipeStream) Write(p []byte) (int, error) {
	select {
	case <-s.done:
		return 0, io.ErrClosedPipe
	default:
	}

	written := 0
	for len(p) > 0 {
		n := len(p)
		if n > maxPipePacket-1 {
			n = maxPipePacket - 1
		}
		pkt := make([]byte, n+1)
		pkt[0] = pipeData
		copy(pkt[1:], p[:n])
		if _, err := s.conn.Write(pkt); err != nil {
			return written, err
		}
		written += n
		p = p[n:]
	}
	return written, nil
}

func (s *pipeStream) Close() error {
	var err error
	s.once.Do(func() {
		_, err = s.conn.Write([]byte{pipeEOF})
		close(s.done)
	})
	return err
}

// pipeListener accepts the pipe's second endpoint once.
type pipeListener struct {
	conn    *Conn
	closeCh chan struct{}

	mu       sync.Mutex
	accepted bool
	closed   bool
}

// Accept returns the connection on the first call. Later calls block until
// the listener is closed or ctx is done.
func (l *pipeListener) Accept(ctx context.Context) (*Conn, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	if !l.accepted {
		l.accepted = true
		l.mu.Unlock()
		return l.conn, nil
	}
	l.mu.Unlock()

	select {
	case <-l.closeCh:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *pipeListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.closeCh)
	}
	return nil
}

func (l *pipeListener) Addr() net.Addr {
	return PipeAddr{ID: 1}
}

var _ Listener = (*pipeListener)(nil)
