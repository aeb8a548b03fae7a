package transport

import "errors"

// Transport errors.
var (
	// ErrClosed is returned when an operation is attempted on a closed
	// connection or listener.
	ErrClosed = errors.New("transport: closed")

	// ErrInvalidAddress is returned when an address cannot be used.
	ErrInvalidAddress = errors.New("transport: invalid address")

	// ErrNoTLSConfig is returned when QUIC is used without a TLS configuration.
	ErrNoTLSConfig = errors.New("transport: no TLS configuration")
)
