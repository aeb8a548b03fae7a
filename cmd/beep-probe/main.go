// beep-probe connects to a BEEP listener and prints its greeting.
//
// The listener is either given with -addr or found via DNS-SD: with -addr
// empty, the first listener advertising -profile is used. When -message is
// set, an echo channel is opened and the message is sent on it.
//
// Usage:
//
//	beep-probe [options]
//
// Options:
//
//	-transport  tcp or quic (default: tcp)
//	-addr       listener address (empty: discover via DNS-SD)
//	-profile    profile URI to look for and to start (default: echo)
//	-message    message to send on the started channel
//	-block      ANS block size for the echo-many profile
//	-timeout    discovery and request timeout (default: 10s)
//	-v          debug logging
//
// Example:
//
//	beep-probe -addr 127.0.0.1:10288 -message hello
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/backkem/beep/examples/common"
	"github.com/backkem/beep/examples/echo"
	"github.com/backkem/beep/pkg/beep"
	"github.com/backkem/beep/pkg/discovery"
	"github.com/backkem/beep/pkg/management"
	"github.com/backkem/beep/pkg/session"
	"github.com/backkem/beep/pkg/transport"
	"golang.org/x/sync/errgroup"
)

type probeOptions struct {
	common.Options
	Profile string
	Message string
	Block   int
}

func parseFlags() probeOptions {
	var o probeOptions
	fs := flag.NewFlagSet("beep-probe", flag.ExitOnError)
	defaults := common.DefaultOptions()
	defaults.Addr = ""
	common.RegisterFlags(fs, &o.Options, defaults)
	fs.StringVar(&o.Profile, "profile", echo.ProfileEcho, "Profile URI to look for and to start")
	fs.StringVar(&o.Message, "message", "", "Message to send on the started channel")
	fs.IntVar(&o.Block, "block", 0, "ANS block size for the echo-many profile")
	fs.Usage = func() { common.PrintUsage(fs, "") }
	_ = fs.Parse(os.Args[1:])
	return o
}

// probeHandler reports the outcome of the greeting exchange.
type probeHandler struct {
	opened   chan *session.Session
	declined chan error
	closed   chan struct{}
}

func (h *probeHandler) ConnectionEstablished(req session.StartSessionRequest) {}

func (h *probeHandler) SessionOpened(s *session.Session) { h.opened <- s }

func (h *probeHandler) SessionStartDeclined(code management.ReplyCode, msg string) {
	h.declined <- &echo.DeclinedError{Code: code, Message: msg}
}

func (h *probeHandler) ChannelStartRequested(req session.StartChannelRequest) {
	req.Cancel(management.CodeRequestedNotTaken, "probe does not accept channels")
}

func (h *probeHandler) SessionClosed() { close(h.closed) }

func main() {
	opts := parseFlags()
	lf := common.NewLoggerFactory(opts.Verbose)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h := &probeHandler{
		opened:   make(chan *session.Session, 1),
		declined: make(chan error, 1),
		closed:   make(chan struct{}),
	}
	config := beep.Config{
		Handler:       h,
		WindowSize:    uint32(opts.WindowSize),
		LoggerFactory: lf,
	}

	peer, err := dial(ctx, opts, config)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	fmt.Printf("Connected to %s (%s)\n", peer.Conn().RemoteAddr(), peer.Conn().Type())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return peer.Run(gctx)
	})
	g.Go(func() error {
		defer peer.Close()
		return probe(gctx, opts, h)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Probe failed: %v", err)
	}
}

func dial(ctx context.Context, opts probeOptions, config beep.Config) (*beep.Peer, error) {
	var tlsConfig *tls.Config
	if opts.Transport == "quic" {
		var err error
		if tlsConfig, err = transport.GenerateTLSConfig(); err != nil {
			return nil, fmt.Errorf("tls config: %w", err)
		}
	}

	if opts.Addr != "" {
		if tlsConfig != nil {
			return beep.DialQUIC(ctx, opts.Addr, tlsConfig, config)
		}
		return beep.DialTCP(ctx, opts.Addr, config)
	}

	resolver, err := discovery.NewResolver(discovery.ResolverConfig{BrowseTimeout: opts.Timeout})
	if err != nil {
		return nil, fmt.Errorf("resolver: %w", err)
	}
	svc, err := resolver.FindProfile(ctx, opts.ServiceType(), opts.Profile)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", opts.Profile, err)
	}
	fmt.Printf("Discovered %q at %v\n", svc.InstanceName, svc.DialAddrs())
	return beep.DialService(ctx, svc, tlsConfig, config)
}

func probe(ctx context.Context, opts probeOptions, h *probeHandler) error {
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	var s *session.Session
	select {
	case s = <-h.opened:
	case err := <-h.declined:
		return err
	case <-h.closed:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	fmt.Println("Greeting profiles:")
	for _, uri := range s.PeerProfiles() {
		fmt.Printf("  %s\n", uri)
	}
	if opts.Message == "" {
		return echo.CloseSession(ctx, s)
	}

	ch, err := echo.Open(ctx, s, opts.Profile, opts.Block)
	if err != nil {
		return fmt.Errorf("start %s: %w", opts.Profile, err)
	}
	res, err := echo.Send(ctx, ch, []byte(opts.Message))
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	for i, body := range res.Replies {
		fmt.Printf("Reply %d: %s\n", i, body)
	}

	if err := echo.Close(ctx, ch); err != nil {
		return fmt.Errorf("close channel: %w", err)
	}
	return echo.CloseSession(ctx, s)
}
