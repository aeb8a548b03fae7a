package beep

import (
	"context"
	"errors"
	"sync"

	"github.com/backkem/beep/pkg/transport"
	"github.com/pion/logging"
	"golang.org/x/sync/errgroup"
)

// Server accepts connections and runs a listening Peer on each.
type Server struct {
	config ServerConfig
	log    logging.LeveledLogger

	mu      sync.Mutex
	running bool
	peers   map[*Peer]struct{}
}

// NewServer creates a Server. Call Serve to start accepting.
func NewServer(config ServerConfig) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		config: config,
		peers:  make(map[*Peer]struct{}),
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("beep-server")
	}
	return s, nil
}

// Serve accepts connections until ctx is done or the listener fails, then
// waits for every peer to finish. The listener is closed on return.
//
// A peer ending with an error does not stop the server. Serve returns nil
// when ctx was cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	defer s.config.Listener.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			conn, err := s.config.Listener.Accept(gctx)
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return err
			}
			s.serveConn(gctx, g, conn)
		}
	})

	err := g.Wait()
	if errors.Is(err, transport.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) serveConn(ctx context.Context, g *errgroup.Group, conn *transport.Conn) {
	h := s.config.NewHandler(conn)
	if h == nil {
		if s.log != nil {
			s.log.Infof("rejecting connection from %s: no handler", conn.RemoteAddr())
		}
		_ = conn.Close()
		return
	}

	peer, err := NewPeer(conn, s.config.peerConfig(h))
	if err != nil {
		if s.log != nil {
			s.log.Warnf("connection from %s: %v", conn.RemoteAddr(), err)
		}
		_ = conn.Close()
		return
	}

	s.mu.Lock()
	s.peers[peer] = struct{}{}
	s.mu.Unlock()

	if s.log != nil {
		s.log.Debugf("session %s from %s", peer.Session().ID(), conn.RemoteAddr())
	}

	g.Go(func() error {
		defer func() {
			s.mu.Lock()
			delete(s.peers, peer)
			s.mu.Unlock()
		}()

		if err := peer.Run(ctx); err != nil && ctx.Err() == nil && s.log != nil {
			s.log.Infof("session %s from %s ended: %v", peer.Session().ID(), conn.RemoteAddr(), err)
		}
		return nil
	})
}

// PeerCount returns the number of running peers.
func (s *Server) PeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Addr returns the listener's address.
func (s *Server) Addr() string {
	return s.config.Listener.Addr().String()
}
