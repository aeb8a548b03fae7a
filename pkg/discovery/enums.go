// Package discovery advertises and finds BEEP listeners with DNS-SD over
// multicast DNS (RFC 6762, RFC 6763).
//
// A listener is published as a "_beep._tcp" or "_beep._udp" (QUIC) service.
// Its TXT record lists the profile URIs it offers in its greeting, so that
// clients can pick a listener before connecting.
package discovery

// DNS-SD service strings.
const (
	// ServiceTCP is the service for BEEP over TCP.
	ServiceTCP = "_beep._tcp"

	// ServiceQUIC is the service for BEEP over QUIC.
	ServiceQUIC = "_beep._udp"

	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
)

// DefaultPort is the IANA-registered BEEP port.
const DefaultPort = 10288

// ServiceType identifies one of the advertised services.
type ServiceType int

const (
	// ServiceTypeUnknown is the zero value.
	ServiceTypeUnknown ServiceType = iota

	// ServiceTypeTCP is a BEEP listener on TCP.
	ServiceTypeTCP

	// ServiceTypeQUIC is a BEEP listener on QUIC.
	ServiceTypeQUIC
)

// String returns a human-readable name.
func (s ServiceType) String() string {
	switch s {
	case ServiceTypeTCP:
		return "TCP"
	case ServiceTypeQUIC:
		return "QUIC"
	default:
		return "Unknown"
	}
}

// IsValid returns true for known service types.
func (s ServiceType) IsValid() bool {
	return s == ServiceTypeTCP || s == ServiceTypeQUIC
}

// ServiceString returns the DNS-SD service string, or "" if unknown.
func (s ServiceType) ServiceString() string {
	switch s {
	case ServiceTypeTCP:
		return ServiceTCP
	case ServiceTypeQUIC:
		return ServiceQUIC
	default:
		return ""
	}
}
