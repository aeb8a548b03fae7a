package beep

import (
	"github.com/backkem/beep/pkg/mapping"
	"github.com/backkem/beep/pkg/session"
	"github.com/backkem/beep/pkg/transport"
	"github.com/pion/logging"
)

// Config holds the configuration of one Peer.
type Config struct {
	// Initiator is true on the side that opened the connection.
	// The Dial helpers set it.
	Initiator bool

	// Handler receives session events. Required.
	Handler session.Handler

	// WindowSize is the receive window advertised for every channel.
	// Default: mapping.DefaultWindowSize
	WindowSize uint32

	// MaxMessageSize bounds the size of one inbound message.
	// Default: no limit beyond the frame size limit
	MaxMessageSize int

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Handler == nil {
		return ErrNoHandler
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.WindowSize == 0 {
		c.WindowSize = mapping.DefaultWindowSize
	}
}

// ServerConfig holds the configuration of a Server.
type ServerConfig struct {
	// Listener accepts the connections. Required. It is closed when Serve
	// returns.
	Listener transport.Listener

	// NewHandler returns the session handler of an accepted connection.
	// Required.
	NewHandler func(conn *transport.Conn) session.Handler

	// WindowSize, MaxMessageSize and LoggerFactory are passed to every Peer.
	WindowSize     uint32
	MaxMessageSize int
	LoggerFactory  logging.LoggerFactory
}

// Validate checks the configuration for errors.
func (c *ServerConfig) Validate() error {
	if c.Listener == nil {
		return ErrNoListener
	}
	if c.NewHandler == nil {
		return ErrNoHandler
	}
	return nil
}

func (c *ServerConfig) peerConfig(h session.Handler) Config {
	return Config{
		Handler:        h,
		WindowSize:     c.WindowSize,
		MaxMessageSize: c.MaxMessageSize,
		LoggerFactory:  c.LoggerFactory,
	}
}
