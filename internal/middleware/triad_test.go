package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dereadi/thermal-memory/internal/logger"
	"github.com/dereadi/thermal-memory/internal/middleware"
)

func TestTriadFromHeader(t *testing.T) {
	var got string
	handler := middleware.Triad("local")(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = logger.Triad(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", http.NoBody)
	req.Header.Set("X-Triad-ID", "cherokee")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got != "cherokee" {
		t.Fatalf("expected cherokee, got %s", got)
	}
}

func TestTriadDefaultFallback(t *testing.T) {
	var got string
	handler := middleware.Triad("local")(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = logger.Triad(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", http.NoBody)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got != "local" {
		t.Fatalf("expected default triad, got %s", got)
	}
}

func TestTriadRejectsMalformed(t *testing.T) {
	called := false
	handler := middleware.Triad("local")(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		called = true
	}))

	for _, bad := range []string{"has space", "thermal.>", "*", "-leading"} {
		req := httptest.NewRequest("GET", "/", http.NoBody)
		req.Header.Set("X-Triad-ID", bad)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%q: expected 400, got %d", bad, rec.Code)
		}
	}
	if called {
		t.Fatal("handler should not run for malformed triad")
	}
}
