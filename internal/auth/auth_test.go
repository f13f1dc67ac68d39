package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianly1003/feedwire/internal/domain"
)

type countingStore struct {
	*MemorySessionStore
	lookups int
}

func (s *countingStore) Lookup(ctx context.Context, id string) (string, error) {
	s.lookups++
	return s.MemorySessionStore.Lookup(ctx, id)
}

func withCookie(value string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.AddCookie(&http.Cookie{Name: DefaultSessionCookie, Value: value})
	return r
}

func TestSessionAuthenticator(t *testing.T) {
	store := NewMemorySessionStore()
	store.Put("s1", "u1")
	a := NewSessionAuthenticator("", store, 0)
	defer a.Close()

	id, err := a.Authenticate(withCookie("s1"))
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
	assert.Equal(t, "session", id.Source)

	_, err = a.Authenticate(withCookie("unknown"))
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	_, err = a.Authenticate(httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestSessionAuthenticator_Cache(t *testing.T) {
	store := &countingStore{MemorySessionStore: NewMemorySessionStore()}
	store.Put("s1", "u1")
	a := NewSessionAuthenticator(DefaultSessionCookie, store, time.Minute)
	defer a.Close()

	for i := 0; i < 3; i++ {
		id, err := a.Authenticate(withCookie("s1"))
		require.NoError(t, err)
		require.Equal(t, "u1", id.UserID)
	}
	assert.Equal(t, 1, store.lookups)

	store.Delete("s1")
	a.Invalidate("s1")
	_, err := a.Authenticate(withCookie("s1"))
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestJWTAuthenticator(t *testing.T) {
	a, err := NewJWTAuthenticator("secret", "feedwire")
	require.NoError(t, err)

	token, err := a.Issue("u7", time.Minute)
	require.NoError(t, err)

	t.Run("header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		id, err := a.Authenticate(r)
		require.NoError(t, err)
		assert.Equal(t, "u7", id.UserID)
		assert.Equal(t, "jwt", id.Source)
	})

	t.Run("query", func(t *testing.T) {
		id, err := a.Authenticate(httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil))
		require.NoError(t, err)
		assert.Equal(t, "u7", id.UserID)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := a.Authenticate(httptest.NewRequest(http.MethodGet, "/ws", nil))
		assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, _ := NewJWTAuthenticator("other", "feedwire")
		forged, err := other.Issue("u7", time.Minute)
		require.NoError(t, err)

		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.Header.Set("Authorization", "Bearer "+forged)
		_, err = a.Authenticate(r)
		require.Error(t, err)
		assert.False(t, errors.Is(err, domain.ErrUnauthenticated))
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other, _ := NewJWTAuthenticator("secret", "someone-else")
		tok, err := other.Issue("u7", time.Minute)
		require.NoError(t, err)
		_, err = a.Authenticate(httptest.NewRequest(http.MethodGet, "/ws?token="+tok, nil))
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		tok, err := a.Issue("u7", -time.Minute)
		require.NoError(t, err)
		_, err = a.Authenticate(httptest.NewRequest(http.MethodGet, "/ws?token="+tok, nil))
		assert.Error(t, err)
	})

	_, err = NewJWTAuthenticator("", "")
	assert.Error(t, err)
}

func TestChain(t *testing.T) {
	store := NewMemorySessionStore()
	store.Put("s1", "u1")
	sessions := NewSessionAuthenticator("", store, 0)
	tokens, _ := NewJWTAuthenticator("secret", "")
	chain := Chain{sessions, tokens}

	id, err := chain.Authenticate(withCookie("s1"))
	require.NoError(t, err)
	assert.Equal(t, "session", id.Source)

	token, _ := tokens.Issue("u2", time.Minute)
	id, err = chain.Authenticate(httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil))
	require.NoError(t, err)
	assert.Equal(t, "u2", id.UserID)

	_, err = chain.Authenticate(httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	_, err = chain.Authenticate(httptest.NewRequest(http.MethodGet, "/ws?token=garbage", nil))
	assert.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrUnauthenticated))
}

func TestAttachAndRequire(t *testing.T) {
	store := NewMemorySessionStore()
	store.Put("s1", "u1")
	a := NewSessionAuthenticator("", store, 0)

	var seen string
	handler := Attach(a)(Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserID(r)
		w.WriteHeader(http.StatusNoContent)
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, withCookie("s1"))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "u1", seen)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "unauthorized")
}

func TestFromContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	_, ok = FromContext(WithIdentity(context.Background(), Identity{}))
	assert.False(t, ok, "empty user id is not an identity")

	id, ok := FromContext(WithIdentity(context.Background(), Identity{UserID: "u1"}))
	assert.True(t, ok)
	assert.Equal(t, "u1", id.UserID)
}

func TestRedisSessionStore(t *testing.T) {
	addr := os.Getenv("FEEDWIRE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FEEDWIRE_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	prefix := "feedwire-test:sess:" + time.Now().Format("150405.000000") + ":"
	require.NoError(t, client.Set(ctx, prefix+"s1", `{"userId":"u1"}`, time.Minute).Err())

	store := NewRedisSessionStore(client, prefix)
	userID, err := store.Lookup(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)

	_, err = store.Lookup(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
