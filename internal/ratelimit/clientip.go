package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// KeyExtractor is a function that extracts a client key from a request.
type KeyExtractor func(*http.Request) string

// ClientIP returns an extractor for the client IP address.
// X-Forwarded-For and X-Real-IP are only honored when trustProxy is true;
// without a trusted proxy those headers can be spoofed to dodge limits.
func ClientIP(trustProxy bool) KeyExtractor {
	return func(r *http.Request) string {
		if trustProxy {
			// "client, proxy1, proxy2": the first entry is the original client.
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
			if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
				return xri
			}
		}

		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		return host
	}
}
