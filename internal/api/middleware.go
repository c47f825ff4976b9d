package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"ratelimiter/internal/models"
)

// adminTokenMiddleware requires "Authorization: Bearer <token>" on admin
// routes. An empty token disables the check.
func adminTokenMiddleware(token string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJSONError(w, http.StatusUnauthorized, models.ErrorCodeUnauthorized, "Authorization required")
				return
			}

			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				writeJSONError(w, http.StatusUnauthorized, models.ErrorCodeUnauthorized, "Invalid authorization format")
				return
			}

			if !validAdminToken(authHeader[len(prefix):], token) {
				slog.Warn("Rejected admin request", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				writeJSONError(w, http.StatusUnauthorized, models.ErrorCodeUnauthorized, "Invalid admin token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func validAdminToken(given, want string) bool {
	if given == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(given), []byte(want)) == 1
}
