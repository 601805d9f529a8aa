package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	apierrors "github.com/maruel/novelist/internal/errors"
	"github.com/maruel/novelist/internal/models"
	"github.com/maruel/novelist/internal/userdb"
)

// tokenTTL is the lifetime of a session token.
const tokenTTL = 24 * time.Hour

// NewToken signs a session token for the user.
func NewToken(secret []byte, user *models.User) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(user.ID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// parseToken returns the user id of a valid token.
func parseToken(secret []byte, s string) (int64, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(s, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, errors.New("invalid subject")
	}
	return id, nil
}

// publicPath reports whether the path is served without authentication.
func publicPath(p string) bool {
	switch p {
	case "/api/auth/login", "/api/health":
		return true
	}
	return !strings.HasPrefix(p, "/api/") && !strings.HasPrefix(p, "/litewriter/") && !strings.HasPrefix(p, "/data/")
}

// bearerToken returns the token from the Authorization header, or from the
// token query parameter for GET requests issued by <img> tags.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if !ok || scheme != "Bearer" {
			return ""
		}
		return tok
	}
	if r.Method == http.MethodGet {
		return r.URL.Query().Get("token")
	}
	return ""
}

// AuthMiddleware validates JWT tokens and adds the user to the context.
func AuthMiddleware(users *userdb.DB, jwtSecret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			tok := bearerToken(r)
			if tok == "" {
				writeError(ctx, w, apierrors.Unauthorized())
				return
			}
			id, err := parseToken(jwtSecret, tok)
			if err != nil {
				writeError(ctx, w, apierrors.Unauthorized().Wrap(err))
				return
			}
			user, err := users.User(ctx, id)
			if err != nil {
				writeError(ctx, w, apierrors.Unauthorized().Wrap(err))
				return
			}
			next.ServeHTTP(w, r.WithContext(models.WithUser(ctx, user)))
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
	size   int64
}

func (s *statusWriter) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusWriter) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.size += int64(n)
	return n, err
}

func (s *statusWriter) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// LoggingMiddleware logs every request with a request id, also returned in
// the X-Request-ID header.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		slog.InfoContext(r.Context(), "http",
			"id", id,
			"ip", clientIP(r),
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"size", sw.size,
			"dur", time.Since(start).Round(time.Millisecond))
	})
}
