package security

import (
	"fmt"
	"net/http"
	"strings"
)

const defaultHSTSMaxAge = 365 * 24 * 60 * 60

// Headers hardens API responses. The API only serves JSON, so framing and
// active content are refused outright.
type Headers struct {
	Enable                bool
	EnableHSTS            bool
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
	// NoStore marks responses uncacheable; checkout views carry live totals.
	NoStore bool
}

func (h Headers) static() [][2]string {
	set := [][2]string{
		{"X-Content-Type-Options", "nosniff"},
		{"X-Frame-Options", "DENY"},
		{"Referrer-Policy", "no-referrer"},
		{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
		{"Permissions-Policy", "geolocation=(), microphone=(), payment=(self)"},
	}
	if h.NoStore {
		set = append(set, [2]string{"Cache-Control", "no-store"})
	}
	return set
}

func (h Headers) hsts() string {
	if !h.EnableHSTS {
		return ""
	}
	age := h.HSTSMaxAge
	if age <= 0 {
		age = defaultHSTSMaxAge
	}
	v := fmt.Sprintf("max-age=%d", age)
	if h.HSTSIncludeSubdomains {
		v += "; includeSubDomains"
	}
	return v
}

// Middleware sets the configured headers before the handler runs. HSTS is only
// sent on requests that arrived over TLS, directly or through a proxy that says so.
func (h Headers) Middleware(next http.Handler) http.Handler {
	if !h.Enable {
		return next
	}
	set, hsts := h.static(), h.hsts()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := w.Header()
		for _, kv := range set {
			hdr.Set(kv[0], kv[1])
		}
		if hsts != "" && overTLS(r) {
			hdr.Set("Strict-Transport-Security", hsts)
		}
		next.ServeHTTP(w, r)
	})
}

func overTLS(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
