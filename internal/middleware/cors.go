package middleware

import (
	"net/http"
	"strings"
)

// CORS handles cross-origin requests for the browser player. An allowed
// origin of "*" permits everything.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := false
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
			break
		}
	}

	allowed := func(origin string) bool {
		for _, a := range allowedOrigins {
			if a == origin || strings.HasSuffix(origin, a) {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || allowed(origin)) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Trace-ID")
				w.Header().Set("Access-Control-Expose-Headers", "X-Trace-ID")
				w.Header().Set("Access-Control-Max-Age", "3600")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
