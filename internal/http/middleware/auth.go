package middlewarex

import (
	"encoding/json"
	"net/http"
	"strings"

	"malricpharma/internal/auth"
	"malricpharma/internal/core"

	"github.com/rs/zerolog/log"
)

// RequireAuth verifies the Bearer access token and stores the caller in the
// request context.
func RequireAuth(issuer *auth.Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				deny(w, http.StatusUnauthorized, core.CodeUnauthorized, "access token required")
				return
			}
			claims, err := issuer.Parse(strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
			if err != nil {
				log.Debug().Err(err).Str("path", r.URL.Path).Msg("access token rejected")
				deny(w, http.StatusForbidden, core.CodeInvalidToken, "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), claims.Principal())))
		})
	}
}

// AdminOnly must run after RequireAuth.
func AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := Principal(r.Context())
		if !ok || !p.IsAdmin {
			deny(w, http.StatusForbidden, core.CodeForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func deny(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   map[string]string{"code": code, "message": msg},
	})
}
