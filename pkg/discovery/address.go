package discovery

import (
	"net"
	"sort"
	"strconv"
)

// SortIPsByPreference orders addresses for connection attempts.
// Priority order (highest to lowest):
//  1. Global unicast addresses
//  2. Private addresses (RFC 1918, IPv6 ULA fc00::/7)
//  3. Link-local addresses
//  4. Loopback addresses
//
// IPv6 precedes IPv4 within a class. The input is not modified.
func SortIPsByPreference(ips []net.IP) []net.IP {
	if len(ips) <= 1 {
		return ips
	}

	sorted := make([]net.IP, len(ips))
	copy(sorted, ips)

	sort.SliceStable(sorted, func(i, j int) bool {
		return ipPriority(sorted[i]) < ipPriority(sorted[j])
	})
	return sorted
}

// ipPriority returns the priority of an IP address (lower is better).
func ipPriority(ip net.IP) int {
	if ip.To16() == nil {
		return 99
	}

	family := 0
	if ip.To4() != nil {
		family = 1
	}

	switch {
	case ip.IsPrivate():
		return 20 + family
	case ip.IsGlobalUnicast():
		return 10 + family
	case ip.IsLinkLocalUnicast():
		return 30 + family
	case ip.IsLoopback():
		return 80 + family
	default:
		return 90 + family
	}
}

// FilterIPv6 returns only IPv6 addresses from the slice.
func FilterIPv6(ips []net.IP) []net.IP {
	var result []net.IP
	for _, ip := range ips {
		if ip.To4() == nil && ip.To16() != nil {
			result = append(result, ip)
		}
	}
	return result
}

// FilterIPv4 returns only IPv4 addresses from the slice.
func FilterIPv4(ips []net.IP) []net.IP {
	var result []net.IP
	for _, ip := range ips {
		if ip.To4() != nil {
			result = append(result, ip)
		}
	}
	return result
}

// dialAddrs joins every address with port.
func dialAddrs(ips []net.IP, port int) []string {
	addrs := make([]string, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, net.JoinHostPort(ip.String(), strconv.Itoa(port)))
	}
	return addrs
}
