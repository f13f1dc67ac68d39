package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/jellydator/ttlcache/v3"
	"github.com/redis/go-redis/v9"
)

// DefaultSessionCookie is the cookie carrying the session id.
const DefaultSessionCookie = "sid"

// ErrSessionNotFound is returned by session stores for unknown ids.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore maps a session id to its user id.
type SessionStore interface {
	Lookup(ctx context.Context, sessionID string) (string, error)
}

type sessionRecord struct {
	UserID string `json:"userId"`
}

// RedisSessionStore reads sessions written by the application's session
// middleware as JSON under prefix+id.
type RedisSessionStore struct {
	client *redis.Client
	prefix string
}

// NewRedisSessionStore wraps client.
func NewRedisSessionStore(client *redis.Client, prefix string) *RedisSessionStore {
	return &RedisSessionStore{client: client, prefix: prefix}
}

// Lookup implements SessionStore.
func (s *RedisSessionStore) Lookup(ctx context.Context, sessionID string) (string, error) {
	data, err := s.client.Get(ctx, s.prefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading session: %w", err)
	}

	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", fmt.Errorf("decoding session: %w", err)
	}
	if rec.UserID == "" {
		return "", ErrSessionNotFound
	}
	return rec.UserID, nil
}

// MemorySessionStore is an in-process SessionStore.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]string
}

// NewMemorySessionStore creates an empty store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]string)}
}

// Put stores a session.
func (s *MemorySessionStore) Put(sessionID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = userID
}

// Delete removes a session.
func (s *MemorySessionStore) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Lookup implements SessionStore.
func (s *MemorySessionStore) Lookup(_ context.Context, sessionID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	userID, ok := s.sessions[sessionID]
	if !ok {
		return "", ErrSessionNotFound
	}
	return userID, nil
}

// SessionAuthenticator resolves the session cookie through a SessionStore,
// caching hits for a short TTL.
type SessionAuthenticator struct {
	cookie string
	store  SessionStore
	cache  *ttlcache.Cache[string, string]

	closeOnce sync.Once
}

// NewSessionAuthenticator creates an authenticator. A zero ttl disables caching.
func NewSessionAuthenticator(cookie string, store SessionStore, ttl time.Duration) *SessionAuthenticator {
	if cookie == "" {
		cookie = DefaultSessionCookie
	}
	a := &SessionAuthenticator{cookie: cookie, store: store}
	if ttl > 0 {
		a.cache = ttlcache.New[string, string](
			ttlcache.WithTTL[string, string](ttl),
			ttlcache.WithDisableTouchOnHit[string, string](),
		)
		go a.cache.Start()
	}
	return a
}

// Authenticate implements Authenticator.
func (a *SessionAuthenticator) Authenticate(r *http.Request) (Identity, error) {
	c, err := r.Cookie(a.cookie)
	if err != nil || c.Value == "" {
		return Identity{}, unauthenticated("no session cookie")
	}

	if a.cache != nil {
		if item := a.cache.Get(c.Value); item != nil {
			return Identity{UserID: item.Value(), Source: "session"}, nil
		}
	}

	userID, err := a.store.Lookup(r.Context(), c.Value)
	if errors.Is(err, ErrSessionNotFound) {
		return Identity{}, unauthenticated("unknown session")
	}
	if err != nil {
		return Identity{}, err
	}

	if a.cache != nil {
		a.cache.Set(c.Value, userID, ttlcache.DefaultTTL)
	}
	return Identity{UserID: userID, Source: "session"}, nil
}

// Invalidate drops a cached session, e.g. after sign-out.
func (a *SessionAuthenticator) Invalidate(sessionID string) {
	if a.cache != nil {
		a.cache.Delete(sessionID)
	}
}

// Close stops the cache janitor. Safe to call more than once.
func (a *SessionAuthenticator) Close() {
	if a.cache == nil {
		return
	}
	a.closeOnce.Do(a.cache.Stop)
}
