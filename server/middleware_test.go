package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
}

func TestRateLimitMiddleware(t *testing.T) {
	h := rateLimitMiddleware(NewIPRateLimiter(rate.Limit(0.001), 2))(okHandler())

	do := func(remote, fwd string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/fighter", nil)
		req.RemoteAddr = remote
		if fwd != "" {
			req.Header.Set("X-Forwarded-For", fwd)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1:1234", ""))
	assert.Equal(t, http.StatusOK, do("10.0.0.1:5678", ""))
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1:9999", ""), "burst exhausted for the IP regardless of port")
	assert.Equal(t, http.StatusOK, do("10.0.0.2:1234", ""), "other IPs have their own bucket")
	assert.Equal(t, http.StatusOK, do("10.0.0.1:1234", "203.0.113.9, 10.0.0.1"), "forwarded client gets its own bucket")
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		fwd    string
		want   string
	}{
		{"host and port", "192.0.2.1:4000", "", "192.0.2.1"},
		{"ipv6", "[2001:db8::1]:4000", "", "2001:db8::1"},
		{"no port", "192.0.2.1", "", "192.0.2.1"},
		{"forwarded chain", "10.0.0.1:1", "203.0.113.9, 10.0.0.1", "203.0.113.9"},
		{"forwarded single", "10.0.0.1:1", " 203.0.113.9 ", "203.0.113.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.fwd != "" {
				req.Header.Set("X-Forwarded-For", tt.fwd)
			}
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		allowed    []string
		origin     string
		wantHeader string
	}{
		{"permissive when unconfigured", nil, "https://anything.example", "*"},
		{"exact origin", []string{"https://app.example"}, "https://app.example", "https://app.example"},
		{"wildcard subdomain", []string{"*.example.com"}, "https://stats.example.com", "https://stats.example.com"},
		{"rejected origin", []string{"https://app.example"}, "https://evil.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := corsMiddleware(tt.allowed)(okHandler())
			req := httptest.NewRequest(http.MethodGet, "/api/match", nil)
			req.Header.Set("Origin", tt.origin)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, tt.wantHeader, rr.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	h := corsMiddleware([]string{"https://app.example"})(okHandler())
	req := httptest.NewRequest(http.MethodOptions, "/api/match", nil)
	req.Header.Set("Origin", "https://app.example")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "GET, OPTIONS", rr.Header().Get("Access-Control-Allow-Methods"))
}

func TestIPRateLimiterReusesBucket(t *testing.T) {
	l := NewIPRateLimiter(rate.Limit(1), 1)
	assert.Same(t, l.GetLimiter("a"), l.GetLimiter("a"))
	assert.NotSame(t, l.GetLimiter("a"), l.GetLimiter("b"))
}
