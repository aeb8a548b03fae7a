// Package transport carries BEEP sessions over byte streams.
//
// A Conn wraps one stream. Reads are done by the owner's read loop; writes
// are queued and performed by a writer goroutine, so that callers holding
// a session lock never block on the network. CloseTransport flushes the
// queue before closing the stream.
//
// Streams come from TCP (RFC 3081), a bidirectional QUIC stream, or an
// in-memory Pipe for tests.
package transport

import (
	"io"
	"net"
	"sync"

	"github.com/pion/logging"
)

// ConnConfig configures a Conn.
type ConnConfig struct {
	// Type names the underlying transport in logs.
	Type TransportType

	// LocalAddr and RemoteAddr override the addresses reported by the
	// stream, if it reports any.
	LocalAddr  net.Addr
	RemoteAddr net.Addr

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Conn is one BEEP transport connection. It implements mapping.Transport.
type Conn struct {
	rwc    io.ReadWriteCloser
	typ    TransportType
	local  net.Addr
	remote net.Addr
	log    logging.LeveledLogger

	mu      sync.Mutex
	queue   [][]byte
	closing bool

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

type addressed interface {
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// NewConn wraps rwc and starts its writer goroutine.
func NewConn(rwc io.ReadWriteCloser, config ConnConfig) *Conn {
	c := &Conn{
		rwc:    rwc,
		typ:    config.Type,
		local:  config.LocalAddr,
		remote: config.RemoteAddr,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	if a, ok := rwc.(addressed); ok {
		if c.local == nil {
			c.local = a.LocalAddr()
		}
		if c.remote == nil {
			c.remote = a.RemoteAddr()
		}
	}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("transport-conn")
	}

	go c.writeLoop()
	return c
}

// Type returns the transport type.
func (c *Conn) Type() TransportType { return c.typ }

// LocalAddr returns the local address, or nil if unknown.
func (c *Conn) LocalAddr() net.Addr { return c.local }

// RemoteAddr returns the remote address, or nil if unknown.
func (c *Conn) RemoteAddr() net.Addr { return c.remote }

// Read reads from the stream.
func (c *Conn) Read(p []byte) (int, error) {
	return c.rwc.Read(p)
}

// SendBytes queues b for writing. b must not be modified afterwards.
func (c *Conn) SendBytes(b []byte) error {
	c.mu.Lock()
	if c.closing || c.isDone() {
		c.mu.Unlock()
		return ErrClosed
	}
	c.queue = append(c.queue, b)
	c.mu.Unlock()

	c.signal()
	return nil
}

// CloseTransport closes the stream once every queued write was performed.
// It does not wait; use Done to wait for the close.
func (c *Conn) CloseTransport() error {
	c.mu.Lock()
	if c.closing || c.isDone() {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.mu.Unlock()

	if c.log != nil {
		c.log.Debugf("%s %s: closing after flush", c.typ, c.remote)
	}
	c.signal()
	return nil
}

// Close closes the stream immediately, dropping queued writes.
func (c *Conn) Close() error {
	c.shutdown(nil)
	return nil
}

// Done is closed once the stream is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the write error that closed the stream, if any.
func (c *Conn) Err() error {
	<-c.done
	return c.err
}

func (c *Conn) isDone() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Conn) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.wake:
		case <-c.done:
			return
		}

		for {
			c.mu.Lock()
			if len(c.queue) == 0 {
				closing := c.closing
				c.mu.Unlock()
				if closing {
					c.shutdown(nil)
					return
				}
				break
			}
			b := c.queue[0]
			c.queue[0] = nil
			c.queue = c.queue[1:]
			c.mu.Unlock()

			if _, err := c.rwc.Write(b); err != nil {
				if c.log != nil {
					c.log.Warnf("%s %s: write failed: %v", c.typ, c.remote, err)
				}
				c.shutdown(err)
				return
			}
		}
	}
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.queue = nil
		c.mu.Unlock()

		close(c.done)
		if cerr := c.rwc.Close(); cerr != nil && c.log != nil {
			c.log.Debugf("%s %s: close: %v", c.typ, c.remote, cerr)
		}
	})
}
