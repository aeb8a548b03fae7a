package discovery

import "errors"

var (
	// ErrClosed is returned by an Advertiser after Close.
	ErrClosed = errors.New("discovery: advertiser closed")

	// ErrAlreadyStarted is returned when a listener of the same service
	// type is already advertised.
	ErrAlreadyStarted = errors.New("discovery: service type already advertised")

	// ErrNotStarted is returned when stopping a service type that is not
	// advertised.
	ErrNotStarted = errors.New("discovery: service type not advertised")

	// ErrInvalidServiceType is returned for service types other than
	// _beep._tcp and _beep._udp.
	ErrInvalidServiceType = errors.New("discovery: unknown BEEP service type")

	// ErrInvalidPort is returned for a listener port outside 1-65535.
	ErrInvalidPort = errors.New("discovery: listener port out of range")

	// ErrServiceNotFound is returned when no listener matched a lookup.
	ErrServiceNotFound = errors.New("discovery: no matching listener")

	// ErrTimeout is returned when a lookup exceeded its timeout.
	ErrTimeout = errors.New("discovery: lookup timed out")

	// ErrInvalidTXTRecord is returned for listener TXT records that cannot
	// be encoded or parsed.
	ErrInvalidTXTRecord = errors.New("discovery: malformed listener TXT record")
)
