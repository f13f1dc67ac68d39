package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brianly1003/feedwire/internal/ratelimit"
)

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) ([]byte, error) { return nil, errors.New("down") }
func (brokenStore) Set(context.Context, string, []byte) error   { return errors.New("down") }

func TestRateLimit(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	limiter := ratelimit.New("test", "events", map[string]ratelimit.Limit{
		http.MethodPost: {NumberOfRequests: 2, Period: 1500 * time.Millisecond},
	}, ratelimit.NewMemoryStore(), ratelimit.WithClock(func() time.Time {
		now = now.Add(time.Millisecond)
		return now
	}))

	handler := RateLimit(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/events", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		last = rec
	}

	want := []int{http.StatusAccepted, http.StatusAccepted, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("request %d: expected %d, got %d", i+1, want[i], codes[i])
		}
	}
	if got := last.Header().Get("Retry-After"); got != "2" {
		t.Errorf("expected Retry-After 2, got %q", got)
	}
	if got := last.Header().Get("X-RateLimit-Limit"); got != "2" {
		t.Errorf("expected X-RateLimit-Limit 2, got %q", got)
	}
	if got := last.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("expected JSON body, got %q", got)
	}

	// GET has no limit.
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Errorf("expected unlimited GET, got %d", rec.Code)
	}
}

func TestRateLimit_FailsOpenOnStoreError(t *testing.T) {
	limiter := ratelimit.New("test", "events", map[string]ratelimit.Limit{
		http.MethodPost: {NumberOfRequests: 1, Period: time.Minute},
	}, brokenStore{})

	called := 0
	handler := RateLimit(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called++
	}))

	for i := 0; i < 3; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))
	}
	if called != 3 {
		t.Errorf("expected every request through, got %d", called)
	}
}
