// Package ipaddr centralizes endpoint parsing and IP classification so
// every enumerator, scorer, and enricher agrees on the same rules for
// bracketed IPv6 forms and public/private/loopback addresses
// (spec.md §9 design note).
package ipaddr

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// SplitEndpoint parses a "host:port" or bracketed "[host]:port" string
// into address and port, accepting both bare IPv4/hostname forms and
// bracketed IPv6 forms. The port is always the substring after the last
// applicable delimiter: "]:" for bracketed forms, the final ":" otherwise.
func SplitEndpoint(s string) (addr string, port int, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", 0, fmt.Errorf("ipaddr: empty endpoint")
	}

	if strings.HasPrefix(s, "[") {
		idx := strings.Index(s, "]:")
		if idx < 0 {
			// "[addr]" with no port.
			if strings.HasSuffix(s, "]") {
				return s[1 : len(s)-1], 0, nil
			}
			return "", 0, fmt.Errorf("ipaddr: malformed bracketed endpoint %q", s)
		}
		addr = s[1:idx]
		portStr := s[idx+2:]
		p, perr := strconv.Atoi(portStr)
		if perr != nil {
			return "", 0, fmt.Errorf("ipaddr: bad port in %q: %w", s, perr)
		}
		return addr, p, nil
	}

	// Bare form: port is after the LAST colon. This correctly handles
	// unbracketed IPv6 only in the degenerate host-only case (no port);
	// callers that need unbracketed IPv6+port must bracket first, which
	// every PortWatch enumerator does before calling this function.
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return s, 0, nil
	}
	if net.ParseIP(s) != nil {
		// A bare IPv6 address (e.g. "::1") carries no port suffix.
		return s, 0, nil
	}
	addr = s[:idx]
	portStr := s[idx+1:]
	p, perr := strconv.Atoi(portStr)
	if perr != nil {
		// Not actually a port (e.g. a bare IPv6 address with colons and
		// no port suffix) — treat the whole string as the address.
		return s, 0, nil
	}
	return addr, p, nil
}

// FormatEndpoint renders addr/port back into canonical "host:port" form,
// bracketing IPv6 addresses.
func FormatEndpoint(addr string, port int) string {
	if strings.Contains(addr, ":") {
		return fmt.Sprintf("[%s]:%d", addr, port)
	}
	return fmt.Sprintf("%s:%d", addr, port)
}

// IsPublic reports whether addr is a publicly routable unicast address,
// i.e. not private, loopback, link-local, multicast, or otherwise
// reserved. Unparseable input is treated as non-public (conservative:
// skip reputation/country lookups rather than risk one on garbage
// input).
func IsPublic(addr string) bool {
	ip := net.ParseIP(strings.Trim(addr, "[]"))
	if ip == nil {
		return false
	}
	switch {
	case ip.IsLoopback(),
		ip.IsPrivate(),
		ip.IsLinkLocalUnicast(),
		ip.IsLinkLocalMulticast(),
		ip.IsMulticast(),
		ip.IsUnspecified():
		return false
	}
	if ip4 := ip.To4(); ip4 != nil {
		// Carrier-grade NAT (100.64.0.0/10) and documentation ranges are
		// reserved, not public.
		if ip4[0] == 100 && ip4[1]&0xc0 == 64 {
			return false
		}
		// TEST-NET-1/2/3: 192.0.2.0/24, 198.51.100.0/24, 203.0.113.0/24.
		if (ip4[0] == 192 && ip4[1] == 0 && ip4[2] == 2) ||
			(ip4[0] == 198 && ip4[1] == 51 && ip4[2] == 100) ||
			(ip4[0] == 203 && ip4[1] == 0 && ip4[2] == 113) {
			return false
		}
	}
	return true
}
