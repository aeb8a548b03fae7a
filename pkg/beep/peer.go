package beep

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/backkem/beep/pkg/frame"
	"github.com/backkem/beep/pkg/mapping"
	"github.com/backkem/beep/pkg/session"
	"github.com/backkem/beep/pkg/transport"
	"github.com/pion/logging"
)

// Peer is one end of a BEEP session on a transport connection.
type Peer struct {
	conn    *transport.Conn
	mapping *mapping.Mapping
	session *session.Session
	log     logging.LeveledLogger

	mu      sync.Mutex
	running bool
	done    chan struct{}
	err     error
}

// NewPeer creates the mapping and session of conn. The session greeting is
// sent when Run is called.
func NewPeer(conn *transport.Conn, config Config) (*Peer, error) {
	if conn == nil {
		return nil, ErrNoConn
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	m, err := mapping.New(mapping.Config{
		Transport:     conn,
		WindowSize:    config.WindowSize,
		LoggerFactory: config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}

	s, err := session.New(session.Config{
		Initiator:      config.Initiator,
		Handler:        config.Handler,
		Stream:         m,
		MaxMessageSize: config.MaxMessageSize,
		LoggerFactory:  config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}

	p := &Peer{
		conn:    conn,
		mapping: m,
		session: s,
		done:    make(chan struct{}),
	}
	if config.LoggerFactory != nil {
		p.log = config.LoggerFactory.NewLogger("beep-peer")
	}
	return p, nil
}

// Session returns the session of the peer.
func (p *Peer) Session() *session.Session {
	return p.session
}

// Conn returns the transport connection.
func (p *Peer) Conn() *transport.Conn {
	return p.conn
}

// Run sends the greeting and processes inbound data until the session is
// dead, the connection fails or ctx is done. Cancelling ctx closes the
// connection without a close negotiation.
//
// Run returns nil when the session ended normally, the protocol violation
// or transport error that ended it otherwise, or ctx.Err().
func (p *Peer) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	p.running = true
	p.mu.Unlock()

	err := p.run(ctx)

	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	close(p.done)
	return err
}

func (p *Peer) run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		_ = p.conn.Close()
	})
	defer stop()

	if err := p.session.ConnectionEstablished(); err != nil {
		p.session.ConnectionClosed()
		return err
	}

	err := p.readLoop()
	if ctx.Err() != nil {
		p.session.ConnectionClosed()
		return ctx.Err()
	}
	return err
}

// Done is closed when Run returned.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// Err returns the result of Run once Done is closed.
func (p *Peer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Close drops the connection. The session handler is told that the session
// closed. Use Session().Close for an orderly release.
func (p *Peer) Close() error {
	p.session.ConnectionClosed()
	return p.conn.Close()
}

func (p *Peer) readLoop() error {
	r := frame.NewReader(p.conn)
	r.MaxPayload = int(p.mapping.WindowSize())

	for {
		f, seq, err := r.Next()
		if err != nil {
			return p.readFailed(err)
		}

		if seq != nil {
			if err := p.mapping.ProcessSEQ(seq); err != nil {
				if errors.Is(err, mapping.ErrUnknownChannel) {
					// The channel was closed while the SEQ was in flight.
					p.debugf("ignoring SEQ for channel %d", seq.Channel)
					continue
				}
				p.session.ExceptionCaught(err)
				return err
			}
			if p.mapping.Queued(seq.Channel) == 0 {
				if err := p.session.WindowOpened(seq.Channel); err != nil {
					p.debugf("completing close of channel %d: %v", seq.Channel, err)
				}
			}
			continue
		}

		if err := p.mapping.CheckFrame(f); err != nil {
			p.session.ExceptionCaught(err)
			return err
		}
		if err := p.session.HandleFrame(f); err != nil {
			if frame.IsProtocolViolation(err) {
				return err
			}
			p.debugf("handling %s: %v", f, err)
		}
		if err := p.mapping.FrameReceived(f); err != nil {
			if frame.IsProtocolViolation(err) {
				p.session.ExceptionCaught(err)
				return err
			}
			p.debugf("acknowledging %s: %v", f, err)
		}
	}
}

func (p *Peer) readFailed(err error) error {
	if frame.IsProtocolViolation(err) {
		p.session.ExceptionCaught(err)
		return err
	}
	if p.session.State() == session.StateDead {
		return nil
	}
	p.session.ConnectionClosed()
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (p *Peer) debugf(format string, args ...interface{}) {
	if p.log != nil {
		p.log.Debugf("%s: "+format, append([]interface{}{p.session.ID()}, args...)...)
	}
}
