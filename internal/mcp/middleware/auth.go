package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/tberthier/minstrel/internal/auth"
	"github.com/tberthier/minstrel/internal/config"
)

// BearerAuth returns middleware that validates static Bearer tokens against
// the sha256 digests held in configuration.
func BearerAuth(tokens []config.APITokenEntry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				challengeAuth(w, "missing Authorization header")
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				challengeAuth(w, "invalid Authorization header format")
				return
			}

			token := parts[1]
			for _, t := range tokens {
				if auth.MatchesHash(token, t.TokenHash) {
					next.ServeHTTP(w, r)
					return
				}
			}

			slog.Debug("token validation failed", "remote", r.RemoteAddr)
			invalidToken(w, "invalid token")
		})
	}
}

// challengeAuth sends a 401 with a Bearer challenge for unauthenticated requests.
func challengeAuth(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, msg, http.StatusUnauthorized)
}

// invalidToken sends a 401 for requests with an invalid Bearer token.
func invalidToken(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	http.Error(w, msg, http.StatusUnauthorized)
}
