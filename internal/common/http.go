package common

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP returns the caller's address. RemoteAddr is preferred because chi's
// RealIP middleware has already rewritten it from the proxy headers; the headers
// are only consulted when RemoteAddr does not parse. Unparseable values yield "".
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if ip, ok := parseAddr(r.RemoteAddr); ok {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip, ok := parseAddr(first); ok {
			return ip
		}
	}
	if ip, ok := parseAddr(r.Header.Get("X-Real-IP")); ok {
		return ip
	}
	return ""
}

func parseAddr(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if host, _, err := net.SplitHostPort(raw); err == nil {
		raw = host
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}
