package daemon

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"retrievald/internal/api"
)

// authMiddleware requires the shared token on every path except the health
// check. The token is read from the X-Retrievald-Token header or an
// "Authorization: Bearer <token>" header.
func authMiddleware(token string, next http.Handler) http.Handler {
	expected := []byte(token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == api.PathHealth {
			next.ServeHTTP(w, r)
			return
		}
		presented := requestToken(r)
		if len(expected) == 0 || presented == "" ||
			subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestToken(r *http.Request) string {
	if value := r.Header.Get(api.TokenHeader); value != "" {
		return value
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
