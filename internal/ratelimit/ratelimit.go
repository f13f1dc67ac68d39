// Package ratelimit implements a trailing-window request limiter whose state
// lives in a shared key-value store, so every API process sees the same
// counts.
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// DefaultNamespace prefixes every storage key.
const DefaultNamespace = "feedwire"

// Limit bounds one (entity, method) pair.
type Limit struct {
	NumberOfRequests int
	Period           time.Duration
}

// Rules maps entity -> HTTP method -> limit.
type Rules map[string]map[string]Limit

// Entry is the value recorded for one request.
type Entry struct {
	UserID *string `json:"userId"`
}

// Window maps a request timestamp in milliseconds to its entry.
type Window map[string]Entry

// Limiter guards one entity. A limiter without limits never limits.
type Limiter struct {
	namespace string
	entity    string
	store     Store

	mu     sync.RWMutex
	limits map[string]Limit

	now      func() time.Time
	clientIP KeyExtractor
	userID   func(*http.Request) string
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithClientIP sets how the client address is derived from a request.
func WithClientIP(fn KeyExtractor) Option {
	return func(l *Limiter) {
		if fn != nil {
			l.clientIP = fn
		}
	}
}

// WithUserID sets how the authenticated user is derived from a request.
func WithUserID(fn func(*http.Request) string) Option {
	return func(l *Limiter) {
		if fn != nil {
			l.userID = fn
		}
	}
}

// New creates a limiter for entity.
func New(namespace, entity string, limits map[string]Limit, store Store, opts ...Option) *Limiter {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	l := &Limiter{
		namespace: namespace,
		entity:    entity,
		store:     store,
		limits:    copyLimits(limits),
		now:       time.Now,
		clientIP:  ClientIP(false),
		userID:    func(*http.Request) string { return "" },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Entity returns the guarded entity name.
func (l *Limiter) Entity() string { return l.entity }

// Limit returns the limit configured for method.
func (l *Limiter) Limit(method string) (Limit, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	limit, ok := l.limits[method]
	return limit, ok
}

// SetLimits replaces the limits table.
func (l *Limiter) SetLimits(limits map[string]Limit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limits = copyLimits(limits)
}

// Key builds the storage key for method and ip.
func (l *Limiter) Key(method, ip string) string {
	return l.namespace + ":" + l.entity + ":" + method + ":requests:" + ip
}

// ShouldRateLimit records r and reports whether it exceeds the limit for its
// method. Methods without a limit are never limited.
//
// The window is read, pruned, extended and written back without a lock.
// Concurrent requests from one address can interleave between the read and
// the write and overwrite each other, so enforcement is approximate.
func (l *Limiter) ShouldRateLimit(r *http.Request) (bool, error) {
	if l.entity == "" || l.store == nil {
		return false, nil
	}
	limit, ok := l.Limit(r.Method)
	if !ok || limit.NumberOfRequests <= 0 {
		return false, nil
	}

	ctx := r.Context()
	key := l.Key(r.Method, l.clientIP(r))

	window, err := l.load(ctx, key)
	if err != nil {
		return false, err
	}

	now := l.now().UnixMilli()
	period := limit.Period.Milliseconds()

	// Prune before counting; stale entries would otherwise count forever.
	for ts := range window {
		at, err := strconv.ParseInt(ts, 10, 64)
		if err != nil || now-at > period {
			delete(window, ts)
		}
	}

	window[strconv.FormatInt(now, 10)] = Entry{UserID: l.user(r)}
	count := len(window)

	if err := l.save(ctx, key, window); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to store rate limit window")
	}

	limited := count > limit.NumberOfRequests
	result := "allowed"
	if limited {
		result = "limited"
	}
	decisions.WithLabelValues(l.entity, r.Method, result).Inc()
	return limited, nil
}

func (l *Limiter) user(r *http.Request) *string {
	id := l.userID(r)
	if id == "" {
		return nil
	}
	return &id
}

func (l *Limiter) load(ctx context.Context, key string) (Window, error) {
	raw, err := l.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	window := Window{}
	if len(raw) == 0 {
		return window, nil
	}
	if err := json.Unmarshal(raw, &window); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("discarding unreadable rate limit window")
		return Window{}, nil
	}
	return window, nil
}

func (l *Limiter) save(ctx context.Context, key string, window Window) error {
	data, err := json.Marshal(window)
	if err != nil {
		return err
	}
	return l.store.Set(ctx, key, data)
}

func copyLimits(in map[string]Limit) map[string]Limit {
	out := make(map[string]Limit, len(in))
	for method, limit := range in {
		out[method] = limit
	}
	return out
}
