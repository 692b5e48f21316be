package middleware

import (
	"net/http"
	"strings"

	"github.com/respondmesh/respondmesh/internal/service"
)

// Auth returns middleware that validates the sender's bearer token against
// this agent's identity. When authEnabled is false every request passes, which
// is how local single-host topologies run.
func Auth(tokens *service.TokenService, self string, authEnabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !authEnabled {
				next.ServeHTTP(w, r)
				return
			}

			// Health and status surfaces stay open for registry probes.
			if r.URL.Path == "/health" || r.URL.Path == "/circuits" {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, `{"error":"authorization required"}`, http.StatusUnauthorized)
				return
			}
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				http.Error(w, `{"error":"invalid authorization header"}`, http.StatusUnauthorized)
				return
			}

			if _, err := tokens.Validate(token, self); err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
