package frame

import (
	"errors"
	"fmt"
)

// ErrProtocolViolation matches every *ProtocolError via errors.Is.
// Protocol violations are fatal to the session that observes them.
var ErrProtocolViolation = errors.New("frame: protocol violation")

// Sequencing errors (RFC 3080 Section 2.2.1.1).
var (
	ErrMessageNumberMismatch = errors.New("frame: message number for fragments does not match")
	ErrFragmentTypeMismatch  = errors.New("frame: fragment type does not match")
	ErrMessageTooLarge       = errors.New("frame: cumulative message size exceeds maximum")
	ErrUnfinishedANS         = errors.New("frame: unfinished ANS messages")
	ErrIntermediateNUL       = errors.New("frame: NUL reply has continuation indicator")
	ErrNULPayload            = errors.New("frame: NUL reply has non-empty payload")
	ErrUnexpectedType        = errors.New("frame: unexpected frame type")
)

// Wire format errors.
var (
	ErrMalformedHeader  = errors.New("frame: malformed header")
	ErrHeaderTooLong    = errors.New("frame: header line too long")
	ErrMissingTrailer   = errors.New("frame: missing END trailer")
	ErrValueOutOfRange  = errors.New("frame: header value out of range")
	ErrUnknownKeyword   = errors.New("frame: unknown frame keyword")
	ErrInvalidFrameType = errors.New("frame: invalid frame type")
)

// ProtocolError describes a violation of the BEEP protocol by the remote peer.
// Err holds the specific cause; errors.Is(err, ErrProtocolViolation) is true
// for every ProtocolError.
type ProtocolError struct {
	Err    error
	Detail string
}

// Violation creates a ProtocolError for cause with a formatted detail.
func Violation(cause error, format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{
		Err:    cause,
		Detail: fmt.Sprintf(format, args...),
	}
}

// Error implements error.
func (e *ProtocolError) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + ": " + e.Detail
}

// Unwrap returns the specific cause.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrProtocolViolation.
func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocolViolation
}

// IsProtocolViolation reports whether err is (or wraps) a protocol violation.
func IsProtocolViolation(err error) bool {
	return errors.Is(err, ErrProtocolViolation)
}
