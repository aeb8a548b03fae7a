package mapping

import "errors"

// Mapping errors.
var (
	// ErrWindowViolation is returned when a window operation would break the
	// window invariants.
	ErrWindowViolation = errors.New("mapping: sliding window violation")

	// ErrNoTransport is returned when no transport is configured.
	ErrNoTransport = errors.New("mapping: no transport configured")

	// ErrChannelExists is returned when a controller already exists for a channel.
	ErrChannelExists = errors.New("mapping: channel already started")

	// ErrUnknownChannel is returned for frames or sends on a channel without controller.
	ErrUnknownChannel = errors.New("mapping: unknown channel")

	// ErrSequenceMismatch is returned when an inbound sequence number is not
	// the expected one.
	ErrSequenceMismatch = errors.New("mapping: unexpected sequence number")

	// ErrWindowExceeded is returned when an inbound frame does not fit into
	// the receive window.
	ErrWindowExceeded = errors.New("mapping: frame exceeds receive window")

	// ErrClosed is returned when sending after the transport was closed.
	ErrClosed = errors.New("mapping: transport closed")
)
