package beep

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/backkem/beep/pkg/discovery"
	"github.com/backkem/beep/pkg/transport"
)

// DialTCP connects to a BEEP listener over TCP and returns the initiating
// Peer. Run must be called to start the session.
func DialTCP(ctx context.Context, addr string, config Config) (*Peer, error) {
	conn, err := transport.DialTCP(ctx, addr, transport.TCPConfig{LoggerFactory: config.LoggerFactory})
	if err != nil {
		return nil, err
	}
	return newInitiator(conn, config)
}

// DialQUIC connects to a BEEP listener over QUIC.
func DialQUIC(ctx context.Context, addr string, tlsConfig *tls.Config, config Config) (*Peer, error) {
	conn, err := transport.DialQUIC(ctx, addr, transport.QUICConfig{
		TLSConfig:     tlsConfig,
		LoggerFactory: config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	return newInitiator(conn, config)
}

// DialService connects to a discovered listener, trying its addresses in
// order of preference.
func DialService(ctx context.Context, svc *discovery.ResolvedService, tlsConfig *tls.Config, config Config) (*Peer, error) {
	addrs := svc.DialAddrs()
	if len(addrs) == 0 {
		return nil, fmt.Errorf("beep: %s has no addresses", svc.InstanceName)
	}

	var lastErr error
	for _, addr := range addrs {
		var peer *Peer
		var err error
		switch svc.ServiceType {
		case discovery.ServiceTypeQUIC:
			peer, err = DialQUIC(ctx, addr, tlsConfig, config)
		default:
			peer, err = DialTCP(ctx, addr, config)
		}
		if err == nil {
			return peer, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}
	return nil, fmt.Errorf("beep: dial %s: %w", svc.InstanceName, lastErr)
}

func newInitiator(conn *transport.Conn, config Config) (*Peer, error) {
	config.Initiator = true
	peer, err := NewPeer(conn, config)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return peer, nil
}
