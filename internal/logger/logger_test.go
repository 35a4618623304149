package logger

import (
	"context"
	"log/slog"
	"testing"

	"github.com/dereadi/thermal-memory/internal/config"
)

func TestNew(t *testing.T) {
	cfg := config.Logging{Level: "debug", Service: "test-svc"}
	l, closer := New(cfg)
	defer closer.Close()
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewAsync(t *testing.T) {
	cfg := config.Logging{Level: "debug", Service: "test-svc", Async: true}
	l, closer := New(cfg)
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
	closer.Close()
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"unknown", "INFO"},
		{"", "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseLevel(tt.input).String()
			if got != tt.want {
				t.Errorf("parseLevel(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()

	// Empty context returns empty string
	if got := RequestID(ctx); got != "" {
		t.Errorf("expected empty request ID, got %q", got)
	}

	// Set and retrieve
	ctx = WithRequestID(ctx, "req-123")
	if got := RequestID(ctx); got != "req-123" {
		t.Errorf("expected req-123, got %q", got)
	}
}

func TestTriadContext(t *testing.T) {
	ctx := context.Background()
	if got := Triad(ctx); got != "" {
		t.Errorf("expected empty triad, got %q", got)
	}
	ctx = WithTriad(ctx, "cherokee")
	if got := Triad(ctx); got != "cherokee" {
		t.Errorf("expected cherokee, got %q", got)
	}
}

func TestContextHandler_AddsAttrs(t *testing.T) {
	inner := &recordingHandler{}
	l := slog.New(&contextHandler{inner: inner})

	ctx := WithTriad(WithRequestID(context.Background(), "req-9"), "bigmac")
	l.InfoContext(ctx, "touched")

	if inner.count() != 1 {
		t.Fatalf("expected 1 record, got %d", inner.count())
	}
	attrs := map[string]string{}
	inner.records[0].Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.String()
		return true
	})
	if attrs["request_id"] != "req-9" {
		t.Errorf("request_id = %q", attrs["request_id"])
	}
	if attrs["triad"] != "bigmac" {
		t.Errorf("triad = %q", attrs["triad"])
	}
}
