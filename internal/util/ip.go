package util

import "net"

// IPClassification is the security classification of an IP address, used
// when validating redirect URIs against SSRF targets.
type IPClassification int

const (
	// IPClassificationPublic is a publicly routable address.
	IPClassificationPublic IPClassification = iota
	// IPClassificationLoopback is 127.0.0.0/8 or ::1, permitted in
	// redirect URIs for native apps per RFC 8252.
	IPClassificationLoopback
	// IPClassificationPrivate is an RFC 1918 or ULA address.
	IPClassificationPrivate
	// IPClassificationLinkLocal is 169.254.0.0/16 or fe80::/10; includes
	// cloud metadata endpoints.
	IPClassificationLinkLocal
	// IPClassificationUnspecified is 0.0.0.0 or ::.
	IPClassificationUnspecified
)

// String returns a human-readable name for the classification.
func (c IPClassification) String() string {
	switch c {
	case IPClassificationPublic:
		return "public"
	case IPClassificationLoopback:
		return "loopback"
	case IPClassificationPrivate:
		return "private"
	case IPClassificationLinkLocal:
		return "link_local"
	case IPClassificationUnspecified:
		return "unspecified"
	default:
		return "unknown"
	}
}

// ClassifyIP returns the security classification of an IP address.
func ClassifyIP(ip net.IP) IPClassification {
	if ip == nil || ip.IsUnspecified() {
		return IPClassificationUnspecified
	}
	if ip.IsLoopback() {
		return IPClassificationLoopback
	}
	if IsLinkLocal(ip) {
		return IPClassificationLinkLocal
	}
	if ip.IsPrivate() {
		return IPClassificationPrivate
	}
	return IPClassificationPublic
}

// IsLinkLocal reports whether an IP is link-local unicast or multicast.
// Catches cloud metadata addresses like 169.254.169.254.
func IsLinkLocal(ip net.IP) bool {
	return ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}

// IsLoopbackHostname reports whether a hostname resolves trivially to a
// loopback address: "localhost", anything in 127.0.0.0/8, or ::1. The
// hostname is expected without a port, as returned by url.URL.Hostname().
func IsLoopbackHostname(hostname string) bool {
	if hostname == "localhost" {
		return true
	}

	clean := hostname
	if len(hostname) > 2 && hostname[0] == '[' && hostname[len(hostname)-1] == ']' {
		clean = hostname[1 : len(hostname)-1]
	}

	if ip := net.ParseIP(clean); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
