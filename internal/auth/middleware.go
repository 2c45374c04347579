package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/PortNumber53/saas-starter/internal/logger"
)

// AccessTokenCookie is the cookie the Supabase client stores the session in.
const AccessTokenCookie = "sb-access-token"

// RequireUser rejects requests without a valid access token and stores the
// resolved user in the request context.
func RequireUser(authn Authenticator, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := tokenFromRequest(r)
			if token == "" {
				writeUnauthorized(w)
				return
			}

			user, err := authn.Authenticate(r.Context(), token)
			if err != nil {
				log.Debugw("rejected access token", "path", r.URL.Path, "error", err)
				writeUnauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

func tokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(AccessTokenCookie); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
}
