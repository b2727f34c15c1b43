package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/eugenenazirov/stoic-cms/internal/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSecurityMiddlewareSetsHeaders(t *testing.T) {
	policy := config.DefaultMiddleware().Security
	handler := securityMiddleware(policy, okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	h := rec.Header()
	csp := h.Get("Content-Security-Policy")
	if !strings.Contains(csp, "connect-src 'self' https:") {
		t.Fatalf("expected connect-src override in CSP, got %q", csp)
	}
	if strings.Contains(csp, "upgrade-insecure-requests") {
		t.Fatalf("expected upgrade-insecure-requests to be removed, got %q", csp)
	}
	if got := h.Get("Strict-Transport-Security"); got != "max-age=31536000; includeSubDomains" {
		t.Fatalf("unexpected HSTS header %q", got)
	}
	if got := h.Get("X-Frame-Options"); got != "SAMEORIGIN" {
		t.Fatalf("unexpected frame options %q", got)
	}
	if got := h.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("unexpected content type options %q", got)
	}
	if got := h.Get("X-XSS-Protection"); got != "0" {
		t.Fatalf("unexpected xss header %q", got)
	}
}

func TestSecurityMiddlewareRespectsDisabledOptions(t *testing.T) {
	handler := securityMiddleware(config.SecurityPolicy{}, okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	for _, name := range []string{"Content-Security-Policy", "Strict-Transport-Security", "X-Frame-Options", "X-XSS-Protection"} {
		if got := rec.Header().Get(name); got != "" {
			t.Fatalf("expected %s to be unset, got %q", name, got)
		}
	}
}

func TestCORSPreflightForAllowedOrigin(t *testing.T) {
	policy := config.DefaultMiddleware().CORS
	handler := corsMiddleware(policy, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("preflight should not reach the handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/mongo-auth/sync", nil)
	req.Header.Set("Origin", "https://preview-123.vercel.app")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	h := rec.Header()
	if got := h.Get("Access-Control-Allow-Origin"); got != "https://preview-123.vercel.app" {
		t.Fatalf("unexpected allow origin %q", got)
	}
	if h.Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials to be allowed")
	}
	if !strings.Contains(h.Get("Access-Control-Allow-Methods"), "PATCH") {
		t.Fatalf("unexpected allow methods %q", h.Get("Access-Control-Allow-Methods"))
	}
	if !strings.Contains(h.Get("Access-Control-Allow-Headers"), "Authorization") {
		t.Fatalf("unexpected allow headers %q", h.Get("Access-Control-Allow-Headers"))
	}
	if h.Get("Access-Control-Max-Age") != "86400" {
		t.Fatalf("unexpected max age %q", h.Get("Access-Control-Max-Age"))
	}
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	var called bool
	handler := corsMiddleware(config.DefaultMiddleware().CORS, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Fatalf("expected simple request to reach the handler")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no allow origin, got %q", got)
	}
	if rec.Header().Get("Vary") != "Origin" {
		t.Fatalf("expected Vary: Origin")
	}
}

func TestCORSStripsHeadersOnServerError(t *testing.T) {
	policy := config.DefaultMiddleware().CORS
	policy.KeepHeaderOnError = false
	failing := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://localhost:3000")

	rec := httptest.NewRecorder()
	corsMiddleware(policy, failing).ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected CORS headers to be stripped, got %q", got)
	}

	policy.KeepHeaderOnError = true
	rec = httptest.NewRecorder()
	corsMiddleware(policy, failing).ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("expected CORS headers to be kept, got %q", got)
	}
}

func TestPoweredByMiddleware(t *testing.T) {
	rec := httptest.NewRecorder()
	poweredByMiddleware("stoic-cms", okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if got := rec.Header().Get("X-Powered-By"); got != "stoic-cms" {
		t.Fatalf("unexpected powered-by %q", got)
	}

	rec = httptest.NewRecorder()
	poweredByMiddleware("", okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if got := rec.Header().Get("X-Powered-By"); got != "" {
		t.Fatalf("expected no powered-by header, got %q", got)
	}
}

func TestBodyLimitMiddleware(t *testing.T) {
	var called bool
	handler := bodyLimitMiddleware(8, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789")))

	if called {
		t.Fatalf("expected oversized body to be rejected before the handler")
	}
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}
