// ABOUTME: API-token authentication helpers for admin and extension routes.
// ABOUTME: Compares the caller's token against the host's configured token.

package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// TokenFromRequest extracts the caller's API token. Accepted forms, in
// order: `apikey` query parameter, `X-API-Token` header, `Authorization:
// Bearer <token>` header.
func TokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("apikey"); token != "" {
		return token
	}
	if token := r.Header.Get("X-API-Token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// ValidToken reports whether the request carries the host's API token.
// Comparison is constant-time.
func ValidToken(r *http.Request, want string) bool {
	if want == "" {
		return false
	}
	got := TokenFromRequest(r)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// Middleware rejects requests that do not carry the host's API token.
func Middleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !ValidToken(r, token) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"success":false,"message":"invalid api token"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
