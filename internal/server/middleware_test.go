package server

import (
	"net/http/httptest"
	"testing"

	"github.com/maruel/novelist/internal/models"
)

func TestTokenRoundTrip(t *testing.T) {
	tok, err := NewToken(testJWTSecret, &models.User{ID: 42})
	if err != nil {
		t.Fatal(err)
	}
	id, err := parseToken(testJWTSecret, tok)
	if err != nil {
		t.Fatal(err)
	}
	if id != 42 {
		t.Errorf("id = %d, want 42", id)
	}
	if _, err := parseToken([]byte("other"), tok); err == nil {
		t.Error("token accepted with the wrong secret")
	}
}

func TestPublicPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/api/health", true},
		{"/api/auth/login", true},
		{"/metrics", true},
		{"/", true},
		{"/api/novels", false},
		{"/api/auth/me", false},
		{"/data/novels/1/cover.png", false},
		{"/litewriter/cover/a/cover.png", false},
	}
	for _, tt := range tests {
		if got := publicPath(tt.path); got != tt.want {
			t.Errorf("publicPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		method, target, header, want string
	}{
		{"GET", "/api/novels", "Bearer abc", "abc"},
		{"GET", "/api/novels", "Basic abc", ""},
		{"GET", "/data/novels/1/cover.png?token=abc", "", "abc"},
		{"POST", "/api/novels?token=abc", "", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.target, nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		if got := bearerToken(req); got != tt.want {
			t.Errorf("%s %s %q: got %q, want %q", tt.method, tt.target, tt.header, got, tt.want)
		}
	}
}
