package http

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// tokenMiddleware rejects API requests without the configured bearer token
func tokenMiddleware(token string) func(http.Handler) http.Handler {
	expected := []byte(token)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			given, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			if subtle.ConstantTimeCompare([]byte(given), expected) != 1 {
				http.Error(w, "Invalid authentication token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
