package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "ignores headers by default",
			remoteAddr: "5.6.7.8:1234",
			headers:    map[string]string{"X-Forwarded-For": "1.2.3.4"},
			want:       "5.6.7.8",
		},
		{
			name:       "strips port",
			remoteAddr: "192.168.1.1:12345",
			want:       "192.168.1.1",
		},
		{
			name:       "ipv6",
			remoteAddr: "[::1]:12345",
			want:       "::1",
		},
		{
			name:       "no port",
			remoteAddr: "10.0.0.1",
			want:       "10.0.0.1",
		},
		{
			name:       "trusted forwarded for",
			trustProxy: true,
			remoteAddr: "5.6.7.8:1234",
			headers:    map[string]string{"X-Forwarded-For": "1.2.3.4"},
			want:       "1.2.3.4",
		},
		{
			name:       "trusted forwarded for chain",
			trustProxy: true,
			remoteAddr: "5.6.7.8:1234",
			headers:    map[string]string{"X-Forwarded-For": " 1.2.3.4 , 10.0.0.1, 192.168.1.1"},
			want:       "1.2.3.4",
		},
		{
			name:       "trusted real ip",
			trustProxy: true,
			remoteAddr: "5.6.7.8:1234",
			headers:    map[string]string{"X-Real-IP": "9.9.9.9"},
			want:       "9.9.9.9",
		},
		{
			name:       "trusted without headers",
			trustProxy: true,
			remoteAddr: "5.6.7.8:1234",
			want:       "5.6.7.8",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := ClientIP(tt.trustProxy)(req); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestLimiter_ClientKey(t *testing.T) {
	limits := map[string]Limit{http.MethodPost: {NumberOfRequests: 5, Period: time.Minute}}
	forwarded := func() *http.Request {
		r := request(http.MethodPost, "5.6.7.8:1234")
		r.Header.Set("X-Forwarded-For", "1.2.3.4")
		return r
	}

	t.Run("remote address by default", func(t *testing.T) {
		store := NewMemoryStore()
		l := New("test", "events", limits, store)
		_, err := l.ShouldRateLimit(forwarded())
		require.NoError(t, err)

		raw, err := store.Get(context.Background(), l.Key(http.MethodPost, "5.6.7.8"))
		require.NoError(t, err)
		assert.NotNil(t, raw)
	})

	t.Run("forwarded address behind a trusted proxy", func(t *testing.T) {
		store := NewMemoryStore()
		l := New("test", "events", limits, store, WithClientIP(ClientIP(true)))
		_, err := l.ShouldRateLimit(forwarded())
		require.NoError(t, err)

		raw, err := store.Get(context.Background(), l.Key(http.MethodPost, "1.2.3.4"))
		require.NoError(t, err)
		assert.NotNil(t, raw)
	})
}
