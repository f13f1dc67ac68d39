// Package auth resolves the trusted user identity attached to a request
// before it reaches the socket upgrade or the trigger endpoint.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/brianly1003/feedwire/internal/domain"
)

// Identity is an authenticated user.
type Identity struct {
	UserID string
	// Source names the authenticator that produced the identity.
	Source string
}

// Authenticator resolves an identity from a request. It returns
// domain.ErrUnauthenticated when the request carries no credentials it
// understands.
type Authenticator interface {
	Authenticate(r *http.Request) (Identity, error)
}

type identityKey struct{}

// WithIdentity attaches id to ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity attached to ctx.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	if !ok || id.UserID == "" {
		return Identity{}, false
	}
	return id, true
}

// UserID returns the authenticated user of r, or "".
func UserID(r *http.Request) string {
	id, _ := FromContext(r.Context())
	return id.UserID
}

// Chain tries each authenticator in order and returns the first identity.
type Chain []Authenticator

// Authenticate implements Authenticator. Credentials that are present but
// invalid stop the chain.
func (c Chain) Authenticate(r *http.Request) (Identity, error) {
	for _, a := range c {
		id, err := a.Authenticate(r)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, domain.ErrUnauthenticated) {
			return Identity{}, err
		}
	}
	return Identity{}, domain.ErrUnauthenticated
}

// Attach resolves the identity of each request and attaches it to the
// request context when found. Requests without an identity pass through.
func Attach(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := a.Authenticate(r)
			if err != nil {
				if !errors.Is(err, domain.ErrUnauthenticated) {
					log.Debug().Err(err).Str("path", r.URL.Path).Msg("rejected credentials")
				}
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// Require rejects requests without an attached identity with 401.
func Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := FromContext(r.Context()); !ok {
			Unauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Unauthorized writes a 401 JSON response.
func Unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": message,
	})
}

func unauthenticated(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), domain.ErrUnauthenticated)
}
