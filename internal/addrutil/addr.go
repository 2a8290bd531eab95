package addrutil

import (
	"net"
	"strconv"
	"strings"
)

// Target builds the "host:port" a measurement task dials.
//
// Registry values are free-form: a bare IP, a hostname, or an address that
// already carries a port (IPv6 possibly unbracketed). The host part is kept
// and always joined with the measurement port.
func Target(address string, port int) (string, bool) {
	if port <= 0 || port > 65535 {
		return "", false
	}
	host := Host(address)
	if host == "" {
		return "", false
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), true
}

// Host returns the host part of addr, dropping any port and IPv6 brackets.
func Host(addr string) string {
	a := strings.TrimSpace(addr)
	if a == "" {
		return ""
	}

	// Fast path: "host:port" (IPv4 or bracketed IPv6).
	if h, _, err := net.SplitHostPort(a); err == nil {
		return h
	}

	// A bare IPv6 address parses as-is and must not lose its last group.
	if ip := net.ParseIP(strings.Trim(a, "[]")); ip != nil {
		return ip.String()
	}

	// Handle unbracketed IPv6 "host:port" by peeling off the last ":port".
	if strings.Count(a, ":") > 1 && !strings.HasPrefix(a, "[") {
		if last := strings.LastIndexByte(a, ':'); last > 0 && last < len(a)-1 {
			host := a[:last]
			port := a[last+1:]
			if _, err := strconv.Atoi(port); err == nil && net.ParseIP(host) != nil {
				return host
			}
		}
	}

	return strings.Trim(a, "[]")
}
