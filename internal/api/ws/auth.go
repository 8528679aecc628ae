// Package ws provides the websocket control and status API.
package ws

import (
	"crypto/subtle"
	"net/http"
)

const (
	// TokenHeader is the header name for the control token.
	TokenHeader = "X-Control-Token"
	// TokenQuery is the query parameter accepted where headers cannot be set
	// (browser websocket clients).
	TokenQuery = "token"
)

// NewAuthMiddleware creates a middleware that validates the control token.
// An empty token disables authentication.
func NewAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Extract token from header, then query
			got := r.Header.Get(TokenHeader)
			if got == "" {
				got = r.URL.Query().Get(TokenQuery)
			}
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				http.Error(w, "unauthenticated", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
