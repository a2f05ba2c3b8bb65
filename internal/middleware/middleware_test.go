package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/beatgate/beatgate/internal/app/domain/session"
	"github.com/beatgate/beatgate/pkg/logger"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestTracingGeneratesTraceID(t *testing.T) {
	var seen string
	handler := Tracing(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" {
		t.Fatalf("trace id missing from context")
	}
	if got := rec.Header().Get("X-Trace-ID"); got != seen {
		t.Fatalf("response header %q != context trace id %q", got, seen)
	}
}

func TestTracingPropagatesTraceID(t *testing.T) {
	handler := Tracing(logger.Nop())(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Trace-ID", "trace-123")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Trace-ID"); got != "trace-123" {
		t.Fatalf("trace id not propagated: %q", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := CORS([]string{"*"})(okHandler())
	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://play.example.com")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://play.example.com" {
		t.Fatalf("allow-origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestCORSDisallowedOrigin(t *testing.T) {
	handler := CORS([]string{"trusted.example.com"})(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.net")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("disallowed origin must not be echoed")
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	handler := rl.Handler(okHandler())

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		statuses = append(statuses, rec.Code)
	}

	if statuses[0] != http.StatusOK || statuses[1] != http.StatusOK {
		t.Fatalf("burst requests should pass: %v", statuses)
	}
	if statuses[2] != http.StatusTooManyRequests {
		t.Fatalf("third request should be limited: %v", statuses)
	}

	// A different client keeps its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("independent client should pass, got %d", rec.Code)
	}
}

type staticValidator struct {
	sess session.Session
	err  error
}

func (v staticValidator) Validate(context.Context, string) (session.Session, error) {
	return v.sess, v.err
}

func TestSessionAuthRequired(t *testing.T) {
	valid := staticValidator{sess: session.Session{ID: "sess1"}}
	handler := SessionAuth(valid, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if SessionID(r.Context()) != "sess1" {
			t.Errorf("session missing from context")
		}
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token must 401, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token must pass, got %d", rec.Code)
	}
}

func TestSessionAuthOptional(t *testing.T) {
	invalid := staticValidator{err: fmt.Errorf("bad token")}
	handler := SessionAuth(invalid, false)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("optional auth must pass through invalid tokens, got %d", rec.Code)
	}
}

func TestSessionAuthQueryToken(t *testing.T) {
	valid := staticValidator{sess: session.Session{ID: "sess1"}}
	var got string
	handler := SessionAuth(valid, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = SessionID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/ws?token=abc", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || got != "sess1" {
		t.Fatalf("query token must authenticate websocket clients (status %d, session %q)", rec.Code, got)
	}
}
