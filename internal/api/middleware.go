package api

import (
	"net/http"
	"strings"

	"github.com/grouphub/backend/internal/adminauth"
)

// AdminAuth rejects requests whose Bearer token does not validate as an
// admin token.
func AdminAuth(svc adminauth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearer(r)
			if token == "" {
				writeFailure(w, http.StatusUnauthorized, "NotAuthorized")
				return
			}
			ok, err := svc.ValidateToken(token)
			if err != nil || !ok {
				writeFailure(w, http.StatusForbidden, "NotAuthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearer(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return ""
	}
	return strings.TrimSpace(authz[len(prefix):])
}
