package beep

import "errors"

// Package-level errors.
var (
	// ErrNoHandler is returned when a Config has no session handler.
	ErrNoHandler = errors.New("beep: handler is required")

	// ErrNoConn is returned when NewPeer is called without a connection.
	ErrNoConn = errors.New("beep: connection is required")

	// ErrNoListener is returned when a ServerConfig has no listener.
	ErrNoListener = errors.New("beep: listener is required")

	// ErrAlreadyRunning is returned when Run or Serve is called twice.
	ErrAlreadyRunning = errors.New("beep: already running")
)
