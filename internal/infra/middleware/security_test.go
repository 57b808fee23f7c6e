package middleware

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cfieandres/cyphr-tableau/internal/infra/config"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SecurityHeaders(okHandler).ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	expected := map[string]string{
		"X-Frame-Options":         "DENY",
		"X-Content-Type-Options":  "nosniff",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
		"Referrer-Policy":         "no-referrer",
		"Cache-Control":           "no-store",
	}
	for header, want := range expected {
		assert.Equal(t, want, w.Header().Get(header), header)
	}
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"), "HSTS should not be set without TLS")
}

func TestSecurityHeadersHSTSWithTLS(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	req.TLS = &tls.ConnectionState{}
	w := httptest.NewRecorder()

	SecurityHeaders(okHandler).ServeHTTP(w, req)
	assert.Equal(t, "max-age=31536000; includeSubDomains", w.Header().Get("Strict-Transport-Security"))
}

func serveFrom(h http.Handler, remoteAddr string) int {
	req := httptest.NewRequest("POST", "/route", nil)
	req.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimitAllowsBurst(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := RateLimit(ctx, config.RateLimitConfig{RequestsPerSecond: 1, Burst: 5}, nil)(okHandler)
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, serveFrom(h, "192.168.1.1:1234"), "request %d", i+1)
	}
}

func TestRateLimitBlocksExcess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := RateLimit(ctx, config.RateLimitConfig{RequestsPerSecond: 0.1, Burst: 2}, nil)(okHandler)
	assert.Equal(t, http.StatusOK, serveFrom(h, "10.0.0.5:1111"))
	assert.Equal(t, http.StatusOK, serveFrom(h, "10.0.0.5:1111"))

	req := httptest.NewRequest("POST", "/route", nil)
	req.RemoteAddr = "10.0.0.5:1111"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":{"code":"RATE_LIMITED","message":"rate limit exceeded"}}`, w.Body.String())
}

func TestRateLimitSeparatesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := RateLimit(ctx, config.RateLimitConfig{RequestsPerSecond: 0.1, Burst: 1}, nil)(okHandler)
	assert.Equal(t, http.StatusOK, serveFrom(h, "10.0.0.1:1"))
	assert.Equal(t, http.StatusTooManyRequests, serveFrom(h, "10.0.0.1:2"))
	assert.Equal(t, http.StatusOK, serveFrom(h, "10.0.0.2:1"))
}

func TestRateLimitTokenRefill(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := RateLimit(ctx, config.RateLimitConfig{RequestsPerSecond: 20, Burst: 1}, nil)(okHandler)
	assert.Equal(t, http.StatusOK, serveFrom(h, "10.0.0.9:1"))
	assert.Equal(t, http.StatusTooManyRequests, serveFrom(h, "10.0.0.9:1"))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, http.StatusOK, serveFrom(h, "10.0.0.9:1"))
}

func TestRateLimitCleanupGoroutineStops(t *testing.T) {
	before := runtime.NumGoroutine()

	ctx, cancel := context.WithCancel(context.Background())
	_ = RateLimit(ctx, config.RateLimitConfig{RequestsPerSecond: 1, Burst: 1}, nil)
	cancel()

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, time.Second, 10*time.Millisecond)
}

func TestClientIP(t *testing.T) {
	trusted := []string{"10.0.0.1"}
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		trusted    []string
		want       string
	}{
		{"remote addr", "192.168.1.1:12345", nil, nil, "192.168.1.1"},
		{"ipv6 remote addr", "[::1]:8080", nil, nil, "::1"},
		{"no port", "192.168.1.7", nil, nil, "192.168.1.7"},
		{"xff ignored without trusted proxies", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "1.2.3.4"}, nil, "10.0.0.1"},
		{"xff from untrusted peer", "6.6.6.6:1", map[string]string{"X-Forwarded-For": "1.2.3.4"}, trusted, "6.6.6.6"},
		{"xff from trusted proxy", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.1"}, trusted, "1.2.3.4"},
		{"x-real-ip from trusted proxy", "10.0.0.1:1", map[string]string{"X-Real-IP": " 5.6.7.8 "}, trusted, "5.6.7.8"},
		{"trusted proxy without headers", "10.0.0.1:1", nil, trusted, "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req, tt.trusted))
		})
	}
}
