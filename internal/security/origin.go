// Package security holds request checks shared by the HTTP and socket surfaces.
package security

import (
	"net/http"
	"net/url"
	"strings"
)

// OriginChecker validates the Origin header of socket upgrades.
type OriginChecker struct {
	allowedOrigins []string
}

// NewOriginChecker creates a checker. An empty list allows every origin,
// which is only meant for local development.
func NewOriginChecker(allowedOrigins []string) *OriginChecker {
	cleaned := make([]string, 0, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			cleaned = append(cleaned, strings.TrimRight(o, "/"))
		}
	}
	return &OriginChecker{allowedOrigins: cleaned}
}

// CheckOrigin reports whether the request origin is allowed.
func (oc *OriginChecker) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	// Browsers omit Origin for same-origin requests; non-browser clients omit it too.
	if origin == "" {
		return true
	}
	if len(oc.allowedOrigins) == 0 {
		return true
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}

	for _, allowed := range oc.allowedOrigins {
		if allowed == "*" || matchOrigin(parsed, origin, allowed) {
			return true
		}
	}
	return false
}

// matchOrigin supports exact matches and wildcard subdomains (*.example.com).
func matchOrigin(parsed *url.URL, origin, allowed string) bool {
	if strings.EqualFold(origin, allowed) {
		return true
	}

	if strings.HasPrefix(allowed, "*.") {
		domain := strings.ToLower(allowed[2:])
		host := strings.ToLower(parsed.Hostname())
		return strings.HasSuffix(host, "."+domain)
	}
	return false
}
