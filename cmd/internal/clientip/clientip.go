// Package clientip resolves the originating client address from the proxy
// headers set by the edge in front of lotgate.
package clientip

import (
	"net/http"
	"strings"
)

// Unknown is returned when no client address can be determined.
// It is a sentinel, never an identity: abuse checks must not key on it.
const Unknown = "unknown"

// Header precedence, most trusted first. Only the first header present is
// consulted; a present-but-empty header does not fall through.
var precedence = []string{
	"Cf-Connecting-Ip",
	"X-Real-Ip",
	"X-Forwarded-For",
}

// Resolve returns the client address carried by h, or Unknown.
func Resolve(h http.Header) string {
	for _, name := range precedence {
		vals, ok := h[name]
		if !ok || len(vals) == 0 {
			continue
		}
		v := vals[0]
		if name == "X-Forwarded-For" {
			// Client first, then each proxy hop.
			if i := strings.IndexByte(v, ','); i >= 0 {
				v = v[:i]
			}
		}
		v = strings.TrimSpace(v)
		if v == "" {
			return Unknown
		}
		return v
	}
	return Unknown
}

// FromRequest resolves the client address of r.
func FromRequest(r *http.Request) string {
	if r == nil {
		return Unknown
	}
	return Resolve(r.Header)
}

// IsUnknown reports whether ip is the Unknown sentinel (or empty).
func IsUnknown(ip string) bool {
	ip = strings.TrimSpace(ip)
	return ip == "" || ip == Unknown
}
