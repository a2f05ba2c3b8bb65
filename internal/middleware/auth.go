package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/beatgate/beatgate/internal/app/domain/session"
	"github.com/beatgate/beatgate/internal/httputil"
)

const sessionKey contextKey = "session"

// SessionValidator checks a bearer token and returns the session it names.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (session.Session, error)
}

// SessionFrom returns the authenticated session from the context.
func SessionFrom(ctx context.Context) (session.Session, bool) {
	s, ok := ctx.Value(sessionKey).(session.Session)
	return s, ok
}

// SessionID returns the authenticated session ID, or empty.
func SessionID(ctx context.Context) string {
	if s, ok := SessionFrom(ctx); ok {
		return s.ID
	}
	return ""
}

// SessionAuth attaches the session for a valid bearer token. When required is
// true, requests without a valid session are rejected.
func SessionAuth(validator SessionValidator, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				if required {
					httputil.WriteError(w, http.StatusUnauthorized, "session token required")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			sess, err := validator.Validate(r.Context(), token)
			if err != nil {
				if required {
					httputil.WriteError(w, http.StatusUnauthorized, "invalid session token")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), sessionKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	// WebSocket clients cannot set headers from the browser.
	return r.URL.Query().Get("token")
}
