package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dereadi/thermal-memory/internal/logger"
)

func serveRequestID(t *testing.T, header string) (ctxID, respID string) {
	t.Helper()
	handler := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		ctxID = logger.RequestID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/memories", http.NoBody)
	if header != "" {
		req.Header.Set(HeaderRequestID, header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return ctxID, rec.Header().Get(HeaderRequestID)
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		wantSame bool
	}{
		{"generated when absent", "", false},
		{"caller id kept", "federation-replay-42", true},
		{"oversized id replaced", strings.Repeat("x", maxRequestIDLen+1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctxID, respID := serveRequestID(t, tt.header)
			if ctxID == "" || ctxID != respID {
				t.Fatalf("context id %q and response id %q must match and be set", ctxID, respID)
			}
			if tt.wantSame && respID != tt.header {
				t.Errorf("id = %q, want caller's %q", respID, tt.header)
			}
			if !tt.wantSame && len(respID) != 32 {
				t.Errorf("expected generated 32-char id, got %q", respID)
			}
		})
	}
}
