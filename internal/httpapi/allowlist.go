package httpapi

import (
	"errors"
	"net"
	"net/http"
	"strings"
)

// clientIP extracts the remote IP without a port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

// parseCIDRorIP parses either a CIDR string or a single IP address.
func parseCIDRorIP(s string) (*net.IPNet, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty")
	}
	if strings.Contains(s, "/") {
		_, n, err := net.ParseCIDR(s)
		if err != nil {
			return nil, err
		}
		return n, nil
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, errors.New("invalid ip")
	}
	bits := 128
	if ip.To4() != nil {
		bits = 32
		ip = ip.To4()
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, nil
}

// isAdminAllowedByIP checks the caller against allow. An empty list
// admits loopback callers only.
func isAdminAllowedByIP(allow []string, r *http.Request) bool {
	ip := net.ParseIP(clientIP(r))
	if ip == nil {
		return false
	}
	if len(allow) == 0 {
		return ip.IsLoopback()
	}
	for _, e := range allow {
		n, err := parseCIDRorIP(e)
		if err != nil {
			continue
		}
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
