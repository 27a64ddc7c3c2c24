package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blentor/blentor/internal/testutil"
)

func TestRecoveryMiddleware(t *testing.T) {
	panicky := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	handler := recoveryMiddleware(testutil.DiscardLogger())(panicky)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	require.NotPanics(t, func() {
		handler.ServeHTTP(w, req)
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCORSMiddlewareAllowedOrigin(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := corsMiddleware([]string{"http://localhost:4200"})(next)

	req := httptest.NewRequest(http.MethodPost, "/preguntar", nil)
	req.Header.Set("Origin", "http://localhost:4200")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:4200", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddlewareUnknownOrigin(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := corsMiddleware([]string{"http://localhost:4200"})(next)

	req := httptest.NewRequest(http.MethodPost, "/preguntar", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddlewarePreflight(t *testing.T) {
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("preflight must not reach the handler")
	})
	handler := corsMiddleware([]string{"http://localhost:4200"})(next)

	req := httptest.NewRequest(http.MethodOptions, "/preguntar", nil)
	req.Header.Set("Origin", "http://localhost:4200")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		realIP     string
		forwarded  string
		trustProxy bool
		want       string
	}{
		{"direct", "203.0.113.9:1234", "", "", false, "203.0.113.9"},
		{"proxy headers ignored when untrusted", "203.0.113.9:1234", "198.51.100.1", "", false, "203.0.113.9"},
		{"x-real-ip preferred", "10.0.0.1:80", "198.51.100.1", "192.0.2.5", true, "198.51.100.1"},
		{"x-forwarded-for first hop", "10.0.0.1:80", "", "192.0.2.5, 10.0.0.2", true, "192.0.2.5"},
		{"non-ip header rejected", "10.0.0.1:80", "not-an-ip", "", true, "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}

			assert.Equal(t, tt.want, clientIP(req, tt.trustProxy))
		})
	}
}

func TestRateLimiterExhaustsBurst(t *testing.T) {
	rl := newRateLimiter(0.0001, 3)

	assert.True(t, rl.allow("192.0.2.1"))
	assert.True(t, rl.allow("192.0.2.1"))
	assert.True(t, rl.allow("192.0.2.1"))
	assert.False(t, rl.allow("192.0.2.1"))

	// Another IP has its own bucket.
	assert.True(t, rl.allow("192.0.2.2"))
}

func TestRateLimitMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rl := newRateLimiter(0.0001, 1)
	handler := rateLimitMiddleware(rl, false, testutil.DiscardLogger())(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:1000"

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}
