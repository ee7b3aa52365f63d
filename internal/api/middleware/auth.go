// internal/api/middleware/auth.go
package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/newthinker/tinkclaw/internal/api/response"
	"github.com/newthinker/tinkclaw/internal/core"
)

// APIKeyAuth returns middleware that validates X-API-Key header.
// If apiKey is empty, authentication is disabled.
func APIKeyAuth(apiKey string) func(http.Handler) http.Handler {
	return SharedSecret("X-API-Key", apiKey)
}

// SharedSecret returns middleware that requires header to equal secret.
// If secret is empty, the check is disabled.
func SharedSecret(header, secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get(header)
			if provided == "" {
				response.Error(w, http.StatusUnauthorized,
					core.WrapError(core.ErrAuthInvalid, errors.New("missing "+header)))
				return
			}

			// Constant-time comparison to prevent timing attacks
			if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
				response.Error(w, http.StatusUnauthorized,
					core.WrapError(core.ErrAuthInvalid, errors.New("invalid "+header)))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
