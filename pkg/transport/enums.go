package transport

// TransportType identifies the transport carrying a session.
type TransportType int

const (
	// TransportTypeUnknown is the zero value for unknown transport.
	TransportTypeUnknown TransportType = iota
	// TransportTypeTCP indicates a TCP connection (RFC 3081).
	TransportTypeTCP
	// TransportTypeQUIC indicates one bidirectional QUIC stream.
	TransportTypeQUIC
	// TransportTypePipe indicates an in-memory pipe.
	TransportTypePipe
)

// String returns the string representation of the transport type.
func (t TransportType) String() string {
	switch t {
	case TransportTypeTCP:
		return "TCP"
	case TransportTypeQUIC:
		return "QUIC"
	case TransportTypePipe:
		return "Pipe"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the transport type is a known valid type.
func (t TransportType) IsValid() bool {
	return t >= TransportTypeTCP && t <= TransportTypePipe
}
