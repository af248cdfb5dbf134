// Package middleware provides HTTP middleware components.
package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"os"

	"github.com/kestrelhq/wsgateway/internal/api/responses"
)

const (
	// CookieName is the name of the authentication cookie.
	CookieName = "api_key"
	// CookieMaxAge is the cookie lifetime in seconds (7 days).
	CookieMaxAge = 7 * 24 * 60 * 60
)

// Auth provides API key authentication. With no API_KEY set, it is
// constructed disabled and every Protect/ProtectHandler call passes
// through, matching an operator running locally without a key configured.
type Auth struct {
	apiKey string
	logger *slog.Logger
}

// NewAuth creates an auth middleware from the API_KEY environment variable.
func NewAuth(logger *slog.Logger) *Auth {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auth{
		apiKey: os.Getenv("API_KEY"),
		logger: logger.With("middleware", "auth"),
	}
}

// IsEnabled reports whether an API key is configured.
func (m *Auth) IsEnabled() bool {
	return m.apiKey != ""
}

// ValidateKey checks if the provided key matches the configured API key.
func (m *Auth) ValidateKey(key string) bool {
	if !m.IsEnabled() {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(m.apiKey)) == 1
}

// Protect wraps a handler to require a valid API key, when enabled.
func (m *Auth) Protect(next http.HandlerFunc) http.HandlerFunc {
	if !m.IsEnabled() {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(CookieName)
		if err != nil || !m.ValidateKey(cookie.Value) {
			responses.Error(w, http.StatusUnauthorized, "unauthorized", "Valid API key required")
			return
		}
		next(w, r)
	}
}

// ProtectHandler wraps an http.Handler to require a valid API key, when enabled.
func (m *Auth) ProtectHandler(next http.Handler) http.Handler {
	if !m.IsEnabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(CookieName)
		if err != nil || !m.ValidateKey(cookie.Value) {
			responses.Error(w, http.StatusUnauthorized, "unauthorized", "Valid API key required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
