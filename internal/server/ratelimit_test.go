package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLimiter_Allow(t *testing.T) {
	// 5 requests per minute, burst of 5
	l := newLimiter(5, time.Minute, 5)
	for i := range 5 {
		if ok, _ := l.allow("key1"); !ok {
			t.Errorf("request %d should be allowed", i+1)
		}
	}
	ok, retry := l.allow("key1")
	if ok {
		t.Error("6th request should be rate limited")
	}
	if retry < time.Second {
		t.Errorf("expected RetryAfter >= 1s, got %v", retry)
	}
	if ok, _ := l.allow("key2"); !ok {
		t.Error("key2 should not share key1's bucket")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	h := rateLimit(newLimiter(1, time.Minute, 1))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	for i, want := range []int{http.StatusNoContent, http.StatusTooManyRequests} {
		req := httptest.NewRequest("POST", "/api/auth/login", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != want {
			t.Errorf("request %d: status %d, want %d", i+1, w.Code, want)
		}
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{"ipv4", "192.0.2.1:1234", nil, "192.0.2.1"},
		{"ipv6", "[2001:db8::1]:1234", nil, "2001:db8::1"},
		{"forwarded", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "203.0.113.7"},
		{"real ip", "10.0.0.1:1", map[string]string{"X-Real-IP": "203.0.113.8"}, "203.0.113.8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
